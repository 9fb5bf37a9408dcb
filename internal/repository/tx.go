package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

// withTx runs fn inside a transaction, committing on success and rolling
// back on error.  A transient failure (InnoDB deadlock or lock wait
// timeout) is retried exactly once; any other error, or a second
// transient failure, is returned to the caller.
func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	err := runTx(ctx, db, fn)
	if err != nil && isTransient(err) {
		err = runTx(ctx, db, fn)
	}
	return err
}

func runTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// isTransient reports whether err is a MySQL error worth retrying:
// 1205 (lock wait timeout) or 1213 (deadlock victim).
func isTransient(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1205 || me.Number == 1213
	}
	return false
}

// isDuplicate reports whether err is a MySQL duplicate-key violation
// (error 1062), used to detect unique-constraint conflicts on
// users.email and trades.listing_id.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	return false
}

// isFKViolation reports whether err is a MySQL foreign key constraint
// failure (1451 row referenced, 1452 reference missing).
func isFKViolation(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1451 || me.Number == 1452
	}
	return false
}
