package store

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

// IsMissingRelation reports whether err means the queried table does not
// exist. This is the signal that a deployment is still on the legacy
// rooms schema: detection is by error classification, never by a stored
// schema flag, so legacy-only databases work without any migration.
func IsMissingRelation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// undefined_table
		return pqErr.Code == "42P01"
	}
	// mattn/go-sqlite3 reports missing tables as a generic error string.
	return strings.Contains(err.Error(), "no such table")
}

// IsUniqueViolation reports whether err is a uniqueness conflict. The
// direct-conversation get-or-create path treats this as "the other
// participant won the race" and re-queries.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// unique_violation
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
