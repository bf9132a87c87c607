package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"validation", Validation("start", "bad date %q", "x"), KindValidation},
		{"wrapped validation", fmt.Errorf("parse: %w", Validation("", "boom")), KindValidation},
		{"auth", Auth("bad signature"), KindAuth},
		{"storage", &StorageError{Op: "insert", Attempts: 3, Err: errors.New("conn reset")}, KindStorage},
		{"unknown", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(Validation("", "x")))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(Auth("x")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(&StorageError{Err: errors.New("x")}))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("x")))
}

func TestPublicMessage_HidesInternals(t *testing.T) {
	err := &StorageError{Op: "insert", Attempts: 5, Err: errors.New("dial tcp 10.0.0.5:5432: refused")}
	assert.Equal(t, "internal server error", PublicMessage(err))
	assert.Equal(t, "start: must be YYYY-MM-DD", PublicMessage(Validation("start", "must be YYYY-MM-DD")))
}

func TestStorageError_Unwrap(t *testing.T) {
	cause := errors.New("timeout")
	err := &StorageError{Op: "insert", Attempts: 2, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "after 2 attempt(s)")
}

func TestReconciliationMismatch_Error(t *testing.T) {
	global := &ReconciliationMismatch{Date: "2024-01-02", EventType: "opened", Rollup: 2, Events: 1}
	scoped := &ReconciliationMismatch{Date: "2024-01-02", EventType: "opened", CampaignID: "c1", Rollup: 0, Events: 1}

	assert.Equal(t, "rollup mismatch on 2024-01-02/opened: rollup=2 events=1", global.Error())
	assert.Equal(t, "rollup mismatch on 2024-01-02/opened/c1: rollup=0 events=1", scoped.Error())
}
