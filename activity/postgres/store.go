// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package postgres provides a PostgreSQL-backed activity.Store, using
// database/sql and github.com/lib/pq directly (no ORM), following the
// teacher's postgres package conventions: hand-written SQL behind a
// thin withTx/scanRows layer, one Go file per concern.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/diffeo/relayproxy/activity"
	_ "github.com/lib/pq"
)

type store struct {
	db *sql.DB
}

// New opens a PostgreSQL connection pool using connectionString (any
// form github.com/lib/pq accepts) and upgrades the schema to the
// latest migration. The returned Store carries the pool with it and
// should be created once per process and shared.
func New(connectionString string) (activity.Store, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, err
	}
	if err := Upgrade(db); err != nil {
		return nil, err
	}
	return &store{db: db}, nil
}

// NewFromDB wraps an already-open, already-migrated *sql.DB. Intended
// for tests that manage their own connection/migration lifecycle.
func NewFromDB(db *sql.DB) activity.Store {
	return &store{db: db}
}

func (s *store) InsertActivity(ctx context.Context, a *activity.Activity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity
			(id, url, method, reply_url, reply_method, state, node_id, created_at, headers, payload, content_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.URL, a.Method, a.ReplyURL, a.ReplyMethod, string(a.State), a.NodeID,
		a.CreatedAt.UTC(), a.Headers, a.Payload, a.ContentType)
	if isUniqueViolation(err) {
		return activity.ErrConflict
	}
	return err
}

func (s *store) GetActivityStatus(ctx context.Context, id string) (*activity.ActivityStatus, error) {
	var state string
	row := s.db.QueryRowContext(ctx, `SELECT state FROM activity WHERE id=$1`, id)
	if err := row.Scan(&state); err == sql.ErrNoRows {
		return nil, activity.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &activity.ActivityStatus{ID: id, State: activity.State(state)}, nil
}

func (s *store) UpdateActivityState(ctx context.Context, id string, newState activity.State, nodeID string) error {
	var err error
	if nodeID == "" {
		_, err = s.db.ExecContext(ctx, `UPDATE activity SET state=$2 WHERE id=$1`, id, string(newState))
	} else {
		_, err = s.db.ExecContext(ctx, `UPDATE activity SET state=$2, node_id=$3 WHERE id=$1`, id, string(newState), nodeID)
	}
	return err
}

func (s *store) InsertResponse(ctx context.Context, r *activity.Response) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO response (id, response_id, status_code, headers, payload, content_type)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.ResponseID, r.StatusCode, r.Headers, r.Payload, r.ContentType)
	return err
}

func (s *store) ListResponsesFor(ctx context.Context, activityID string) ([]*activity.Response, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, response_id, status_code, headers, payload, content_type
		FROM response WHERE response_id=$1`, activityID)
	if err != nil {
		return nil, err
	}
	var result []*activity.Response
	err = scanRows(rows, func() error {
		r := &activity.Response{}
		if scanErr := rows.Scan(&r.ID, &r.ResponseID, &r.StatusCode, &r.Headers, &r.Payload, &r.ContentType); scanErr != nil {
			return scanErr
		}
		result = append(result, r)
		return nil
	})
	return result, err
}

func (s *store) DeleteResponse(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM response WHERE id=$1`, id)
	return err
}

func (s *store) DeleteActivity(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM activity WHERE id=$1`, id)
	return err
}

func (s *store) SelectEarliestByStates(ctx context.Context, states []activity.State, limit int) ([]*activity.Activity, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(states))
	args := make([]interface{}, 0, len(states)+1)
	for i, st := range states {
		placeholders[i] = fmt.Sprintf("$%v", i+1)
		args = append(args, string(st))
	}
	query := fmt.Sprintf(`
		SELECT id, url, method, reply_url, reply_method, state, node_id, created_at, headers, payload, content_type
		FROM activity WHERE state IN (%v) ORDER BY created_at ASC`, strings.Join(placeholders, ", "))
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%v", len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var result []*activity.Activity
	err = scanRows(rows, func() error {
		a := &activity.Activity{}
		var st string
		if scanErr := rows.Scan(&a.ID, &a.URL, &a.Method, &a.ReplyURL, &a.ReplyMethod, &st,
			&a.NodeID, &a.CreatedAt, &a.Headers, &a.Payload, &a.ContentType); scanErr != nil {
			return scanErr
		}
		a.State = activity.State(st)
		result = append(result, a)
		return nil
	})
	return result, err
}

func (s *store) SelectCompletedExpiredJoin(ctx context.Context, now time.Time, retention time.Duration, limit int) ([]*activity.ExpiredPair, error) {
	query := `
		SELECT a.id, a.url, a.method, a.reply_url, a.reply_method, a.state, a.node_id, a.created_at,
		       a.headers, a.payload, a.content_type,
		       r.id, r.response_id, r.status_code, r.headers, r.payload, r.content_type
		FROM activity a
		LEFT JOIN response r ON r.response_id = a.id
		WHERE a.state = $1 AND $2 - a.created_at > $3::interval
		ORDER BY a.created_at ASC`
	args := []interface{}{string(activity.Completed), now.UTC(), fmt.Sprintf("%v seconds", retention.Seconds())}
	if limit > 0 {
		query += " LIMIT $4"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var result []*activity.ExpiredPair
	err = scanRows(rows, func() error {
		a := &activity.Activity{}
		var st string
		var respID, respActivityID, respContentType sql.NullString
		var respStatus sql.NullInt64
		var respHeaders, respPayload []byte
		if scanErr := rows.Scan(&a.ID, &a.URL, &a.Method, &a.ReplyURL, &a.ReplyMethod, &st,
			&a.NodeID, &a.CreatedAt, &a.Headers, &a.Payload, &a.ContentType,
			&respID, &respActivityID, &respStatus, &respHeaders, &respPayload, &respContentType); scanErr != nil {
			return scanErr
		}
		a.State = activity.State(st)
		pair := &activity.ExpiredPair{Activity: a}
		if respID.Valid {
			pair.Response = &activity.Response{
				ID:          respID.String,
				ResponseID:  respActivityID.String,
				StatusCode:  int(respStatus.Int64),
				Headers:     respHeaders,
				Payload:     respPayload,
				ContentType: respContentType.String,
			}
		}
		result = append(result, pair)
		return nil
	})
	return result, err
}

func (s *store) PersistResponseAndTransition(ctx context.Context, r *activity.Response, activityID string, newState activity.State) error {
	return withTx(s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO response (id, response_id, status_code, headers, payload, content_type)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			r.ID, r.ResponseID, r.StatusCode, r.Headers, r.Payload, r.ContentType); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE activity SET state=$2 WHERE id=$1`, activityID, string(newState))
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return activity.ErrNotFound
		}
		return nil
	})
}

// LeaseActivity implements activity.Leaser with a single conditional
// UPDATE ... RETURNING, the lease-strengthening extension described in
// §9: only the worker whose UPDATE actually matches a row is
// considered to have won the lease, closing the race where two Send
// Workers both observe the same CREATED row as eligible.
func (s *store) LeaseActivity(ctx context.Context, nodeID string, leaseTTL time.Duration) (*activity.Activity, error) {
	var a activity.Activity
	var st string
	row := s.db.QueryRowContext(ctx, `
		UPDATE activity SET state=$1, node_id=$2, leased_at=$3
		WHERE id = (
			SELECT id FROM activity
			WHERE state IN ($4, $1)
			  AND (leased_at IS NULL OR leased_at < $3 - $5::interval)
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, url, method, reply_url, reply_method, state, node_id, created_at, headers, payload, content_type`,
		string(activity.Scheduled), nodeID, time.Now().UTC(), string(activity.Created),
		fmt.Sprintf("%v seconds", leaseTTL.Seconds()))

	err := row.Scan(&a.ID, &a.URL, &a.Method, &a.ReplyURL, &a.ReplyMethod, &st,
		&a.NodeID, &a.CreatedAt, &a.Headers, &a.Payload, &a.ContentType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.State = activity.State(st)
	return &a, nil
}
