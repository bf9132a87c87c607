package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/radiusdt/email-analytics/internal/apperr"
)

const signaturePrefix = "sha256="

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature checks signature against body in constant time. An
// optional "sha256=" prefix is accepted.
func verifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return apperr.Auth("webhook secret not configured")
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return apperr.Auth("missing signature")
	}
	signature = strings.TrimPrefix(signature, signaturePrefix)

	got, err := hex.DecodeString(signature)
	if err != nil {
		return apperr.Auth("invalid signature")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return apperr.Auth("invalid signature")
	}
	return nil
}
