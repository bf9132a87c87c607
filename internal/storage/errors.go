package storage

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// IsPermanent reports whether err is a PostgreSQL error that will fail the
// same way on every attempt: data exceptions (22), integrity violations
// other than unique_violation (23), unsupported features (0A) and syntax or
// access rule violations (42).
func IsPermanent(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "22", "0A", "42":
		return true
	case "23":
		return pgErr.Code != pgUniqueViolation
	}
	return false
}
