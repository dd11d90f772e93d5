package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/aryan0dhankhar/tenantcatalog/internal/domain"
)

// uniqueViolation is the Postgres SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// expectVersion checks that a versioned UPDATE hit its row. Rows are only
// soft-deleted, so a miss means another writer stored a newer version first.
func expectVersion(res sql.Result, kind, id string, version int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", kind, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s is no longer at version %d", domain.ErrConcurrentUpdate, kind, id, version)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// likePattern turns free text into a substring ILIKE pattern.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(term)) + "%"
}

func notDeleted(includeDeleted bool) string {
	if includeDeleted {
		return ""
	}
	return " AND deleted_at IS NULL"
}

func filter[T any](items []T, pred func(T) bool) []T {
	if pred == nil {
		return items
	}
	out := make([]T, 0, len(items))
	for _, it := range items {
		if pred(it) {
			out = append(out, it)
		}
	}
	return out
}
