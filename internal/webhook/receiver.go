// Package webhook authenticates provider webhook deliveries, normalizes them
// into canonical events and hands each event to a Recorder.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/radiusdt/email-analytics/internal/analytics"
	"github.com/radiusdt/email-analytics/internal/apperr"
	"github.com/radiusdt/email-analytics/internal/config"
	"github.com/radiusdt/email-analytics/internal/metrics"
	"github.com/radiusdt/email-analytics/internal/models"
	"go.uber.org/zap"
)

// Provider names.
const (
	ProviderGeneric    = "generic"
	ProviderSendGrid   = "sendgrid"
	ProviderPostmark   = "postmark"
	ProviderDiagnostic = "diagnostic"
)

// Result summarizes one delivery. Duplicates count as success.
type Result struct {
	Received   int      `json:"received"`
	Inserted   int      `json:"inserted"`
	Duplicates int      `json:"duplicates"`
	Rejected   int      `json:"rejected"`
	Errors     []string `json:"errors,omitempty"`
}

// Receiver verifies and normalizes webhook deliveries.
type Receiver struct {
	recorder      analytics.Recorder
	normalizers   map[string]Normalizer
	secret        string
	secrets       map[string]string
	metrics       *metrics.Metrics
	logger        *zap.Logger
	now           func() time.Time
	newDiagnostic func() string
}

// NewReceiver creates a receiver with the built-in normalizers.
func NewReceiver(recorder analytics.Recorder, cfg config.WebhookConfig, m *metrics.Metrics, logger *zap.Logger) *Receiver {
	secrets := make(map[string]string, len(cfg.ProviderSecrets))
	for name, s := range cfg.ProviderSecrets {
		secrets[strings.ToLower(name)] = s
	}

	return &Receiver{
		recorder: recorder,
		normalizers: map[string]Normalizer{
			ProviderGeneric:  NormalizerFunc(normalizeGeneric),
			ProviderSendGrid: NormalizerFunc(normalizeSendGrid),
			ProviderPostmark: NormalizerFunc(normalizePostmark),
		},
		secret:        cfg.Secret,
		secrets:       secrets,
		metrics:       m,
		logger:        logger,
		now:           time.Now,
		newDiagnostic: uuid.NewString,
	}
}

// Register adds or replaces the normalizer for provider.
func (r *Receiver) Register(provider string, n Normalizer) {
	r.normalizers[strings.ToLower(provider)] = n
}

// Providers lists the registered provider names.
func (r *Receiver) Providers() []string {
	names := make([]string, 0, len(r.normalizers))
	for name := range r.normalizers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Receiver) secretFor(provider string) string {
	if s, ok := r.secrets[provider]; ok {
		return s
	}
	return r.secret
}

// Receive authenticates body against signature, normalizes it with the
// provider's normalizer and records every valid event.
//
// An unknown provider or an unparseable body is a ValidationError and a bad
// signature an AuthError; in both cases nothing is recorded. Items that fail
// normalization or validation are dropped and reported in the Result. A
// storage failure aborts the delivery so the provider retries it.
func (r *Receiver) Receive(ctx context.Context, provider string, body []byte, signature string) (*Result, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	normalizer, ok := r.normalizers[provider]
	if !ok {
		return nil, apperr.Validation("provider", "unknown provider %q", provider)
	}

	if err := verifySignature(r.secretFor(provider), body, signature); err != nil {
		r.logger.Warn("webhook signature rejected",
			zap.String("provider", provider),
			zap.Error(err),
		)
		return nil, err
	}

	items, err := normalizer.Normalize(body)
	if err != nil {
		return nil, err
	}

	return r.record(ctx, provider, items, r.dedupKey)
}

// ReceiveDiagnostic records canonical events without a signature. Items
// with no id get a random dedup key, so repeated submissions are all
// recorded. Callers must gate access to this path.
func (r *Receiver) ReceiveDiagnostic(ctx context.Context, body []byte) (*Result, error) {
	items, err := normalizeGeneric(body)
	if err != nil {
		return nil, err
	}

	return r.record(ctx, ProviderDiagnostic, items, func(provider string, item Item) string {
		if item.ProviderEventID == "" {
			return provider + ":" + r.newDiagnostic()
		}
		return r.dedupKey(provider, item)
	})
}

func (r *Receiver) record(ctx context.Context, provider string, items []Item, keyFn func(string, Item) string) (*Result, error) {
	result := &Result{Received: len(items)}
	receivedAt := r.now().UTC()

	for i, item := range items {
		if item.Err != nil {
			result.reject(i, item.Err)
			continue
		}

		e := item.Event
		e.Provider = provider
		e.ReceivedAt = receivedAt
		e.DedupKey = keyFn(provider, item)

		outcome, err := r.recorder.Record(ctx, e)
		if err != nil {
			if apperr.IsValidation(err) {
				result.reject(i, err)
				continue
			}
			r.logger.Error("webhook delivery aborted",
				zap.String("provider", provider),
				zap.Int("item", i),
				zap.String("dedup_key", e.DedupKey),
				zap.Error(err),
			)
			return nil, err
		}

		switch outcome {
		case models.OutcomeInserted:
			result.Inserted++
		case models.OutcomeDuplicate:
			result.Duplicates++
		}
	}

	r.metrics.RecordRejected(provider, result.Rejected)
	r.logger.Info("webhook processed",
		zap.String("provider", provider),
		zap.Int("received", result.Received),
		zap.Int("inserted", result.Inserted),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("rejected", result.Rejected),
	)
	return result, nil
}

func (res *Result) reject(index int, err error) {
	res.Rejected++
	res.Errors = append(res.Errors, fmt.Sprintf("item %d: %v", index, err))
}

// dedupKey prefers the provider's own event id and otherwise hashes the
// fields that identify an occurrence.
func (r *Receiver) dedupKey(provider string, item Item) string {
	if item.ProviderEventID != "" {
		return provider + ":" + item.ProviderEventID
	}
	return ContentHashKey(item.Event)
}

// ContentHashKey derives a dedup key from email id, event type and
// timestamp.
func ContentHashKey(e *models.Event) string {
	h := sha256.Sum256([]byte(strings.Join([]string{
		e.EmailID,
		string(e.EventType),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, "|")))
	return "sha256:" + hex.EncodeToString(h[:])
}
