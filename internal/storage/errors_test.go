package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"check violation", &pgconn.PgError{Code: "23514"}, true},
		{"not null violation", &pgconn.PgError{Code: "23502"}, true},
		{"invalid text representation", &pgconn.PgError{Code: "22P02"}, true},
		{"undefined column", &pgconn.PgError{Code: "42703"}, true},
		{"wrapped", fmt.Errorf("failed to insert event: %w", &pgconn.PgError{Code: "23514"}), true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, false},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, false},
		{"plain error", errors.New("connection reset"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPermanent(tt.err))
		})
	}
}
