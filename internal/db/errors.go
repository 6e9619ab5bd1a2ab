package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for database operations.
var (
	// ErrTransactionConflict indicates concurrent writers touched the same record.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrSchemaViolation indicates a field assertion rejected the write.
	ErrSchemaViolation = errors.New("schema violation")
)

// wrapQueryError maps known SurrealDB query errors onto sentinels.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		if strings.Contains(msg, "Transaction conflict") {
			return fmt.Errorf("%w: %s", ErrTransactionConflict, msg)
		}
		if strings.Contains(msg, "assertion") || strings.Contains(msg, "Couldn't coerce") {
			return fmt.Errorf("%w: %s", ErrSchemaViolation, msg)
		}
	}
	return err
}
