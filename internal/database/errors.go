package database

import (
	"errors"

	"github.com/lib/pq"
)

// PostgreSQL error codes the repositories branch on.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique constraint violation
func IsUniqueViolation(err error) bool {
	return pqCode(err) == codeUniqueViolation
}

// IsForeignKeyViolation reports whether err is a foreign key violation
func IsForeignKeyViolation(err error) bool {
	return pqCode(err) == codeForeignKeyViolation
}

// IsCheckViolation reports whether err is a CHECK constraint violation
func IsCheckViolation(err error) bool {
	return pqCode(err) == codeCheckViolation
}

// IsRetryable reports whether the statement can be retried as-is:
// serialization failures, deadlocks and connection-class errors (08xxx).
func IsRetryable(err error) bool {
	code := pqCode(err)
	switch {
	case code == codeSerializationFailure, code == codeDeadlockDetected:
		return true
	case len(code) == 5 && code[:2] == "08":
		return true
	}
	return false
}
