// Package dbutil holds small helpers shared by the transactional services.
package dbutil

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ForUpdate adds a SELECT ... FOR UPDATE clause on dialects that support
// row-level locking. SQLite serializes writers at the database level, so the
// clause is omitted there (it is a syntax error) and transactions remain
// correct.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// SetLockTimeout bounds how long the transaction waits for a row lock, so a
// contended submission fails with a retryable error instead of holding its
// own locks indefinitely. Only PostgreSQL supports a per-transaction setting.
func SetLockTimeout(tx *gorm.DB, d time.Duration) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	// SET does not take bind parameters; the value is a trusted duration.
	return tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", d.Milliseconds())).Error
}
