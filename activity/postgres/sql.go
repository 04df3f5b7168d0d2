// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package postgres

// Generic database/sql support code, ported from the teacher's
// postgres package: withTx() retries a unit of work on a serialization
// failure, scanRows() loops over a *sql.Rows result without leaking
// the cursor on error.

import (
	"database/sql"

	"github.com/lib/pq"
)

// withTx runs f inside a database/sql transaction. If f panics or
// returns a non-nil error, the transaction is rolled back; otherwise
// it is committed. A PostgreSQL serialization failure (error code
// 40001, possible under REPEATABLE READ when two Send Workers race to
// lease the same row) causes the whole unit of work to be retried.
func withTx(db *sql.DB, f func(*sql.Tx) error) (err error) {
	var (
		tx   *sql.Tx
		done bool
	)

	defer func() {
		if tx != nil && !done {
			err2 := tx.Rollback()
			if err == nil {
				err = err2
			}
		}
	}()

	for {
		tx, err = db.Begin()
		if err != nil {
			return
		}

		err = f(tx)
		if err == nil {
			err = tx.Commit()
			done = true
		}

		if pqerr, ok := err.(*pq.Error); ok && pqerr.Code == "40001" {
			rbErr := tx.Rollback()
			if rbErr != nil && rbErr != sql.ErrTxDone {
				return rbErr
			}
			tx = nil
			done = false
			continue
		}

		break
	}

	return
}

// scanRows runs f once per row of rows, closing the cursor whether f
// succeeds or fails.
func scanRows(rows *sql.Rows, f func() error) (err error) {
	var done bool
	defer func() {
		if !done {
			err2 := rows.Close()
			if err == nil {
				err = err2
			}
		}
	}()

	for rows.Next() {
		if err = f(); err != nil {
			return
		}
	}
	done = true
	err = rows.Err()
	return
}

// isUniqueViolation reports whether err is a PostgreSQL unique
// constraint violation (SQLSTATE 23505), the signal that
// InsertActivity should translate into activity.ErrConflict.
func isUniqueViolation(err error) bool {
	pqerr, ok := err.(*pq.Error)
	return ok && pqerr.Code == "23505"
}
