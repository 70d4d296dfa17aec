package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/timelock/internal/ir"
)

// Initialized reports whether InitSettings has been committed.
func (r reader) Initialized(ctx context.Context) (bool, error) {
	_, ok, err := r.setting(ctx, keyInitialized)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Delay returns the configured delay.
// Returns ErrNotFound before initialization.
func (r reader) Delay(ctx context.Context) (time.Duration, error) {
	v, ok, err := r.setting(ctx, keyDelay)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("read delay: %w", ErrNotFound)
	}
	return time.Duration(v), nil
}

// NextRequestID returns the id the next created request will receive.
// Returns ErrNotFound before initialization.
func (r reader) NextRequestID(ctx context.Context) (uint64, error) {
	v, ok, err := r.setting(ctx, keyNextRequestID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("read next request id: %w", ErrNotFound)
	}
	return uint64(v), nil
}

func (r reader) setting(ctx context.Context, key string) (int64, bool, error) {
	var v int64
	err := r.q.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read setting %s: %w", key, err)
	}
	return v, true, nil
}

// Request retrieves a single request by id.
// Returns ErrNotFound if the id was never allocated.
func (r reader) Request(ctx context.Context, id uint64) (ir.Request, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, actions, actions_hash, allow_failure_map, created_at, executed, executed_at, failure_map
		FROM requests
		WHERE id = ?
	`, int64(id))

	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return ir.Request{}, fmt.Errorf("request %d: %w", id, ErrNotFound)
	}
	return req, err
}

// Requests returns requests in id order, starting after afterID.
// Pass -1 to start from the first request. limit <= 0 means no limit.
func (r reader) Requests(ctx context.Context, afterID int64, limit int) ([]ir.Request, error) {
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means unbounded
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, actions, actions_hash, allow_failure_map, created_at, executed, executed_at, failure_map
		FROM requests
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	requests := []ir.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return requests, nil
}

// Events returns committed events with seq > afterSeq in log order.
// limit <= 0 means no limit.
func (r reader) Events(ctx context.Context, afterSeq int64, limit int) ([]ir.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT seq, kind, flow_token, payload
		FROM events
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return scanEvents(rows)
}

// RequestEvents returns the events that refer to one request, in log order.
func (r reader) RequestEvents(ctx context.Context, id uint64) ([]ir.Event, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT seq, kind, flow_token, payload
		FROM events
		WHERE request_id = ?
		ORDER BY seq ASC
	`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("query request events: %w", err)
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]ir.Event, error) {
	defer rows.Close()

	events := []ir.Event{}
	for rows.Next() {
		var (
			seq                      int64
			kind, flowToken, payload string
		)
		if err := rows.Scan(&seq, &kind, &flowToken, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev, err := unmarshalEvent(seq, kind, flowToken, payload)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRequest scans a row and verifies the stored batch against its hash.
func scanRequest(row rowScanner) (ir.Request, error) {
	var (
		id, mask, createdAt, failureMap int64
		executed                        int
		executedAt                      sql.NullInt64
		actionsJSON                     string
		req                             ir.Request
	)

	if err := row.Scan(
		&id, &actionsJSON, &req.ActionsHash, &mask, &createdAt, &executed, &executedAt, &failureMap,
	); err != nil {
		if err == sql.ErrNoRows {
			return ir.Request{}, err
		}
		return ir.Request{}, fmt.Errorf("scan request: %w", err)
	}

	actions, err := unmarshalActions(actionsJSON)
	if err != nil {
		return ir.Request{}, fmt.Errorf("request %d: %w", id, err)
	}

	req.ID = uint64(id)
	req.Actions = actions
	req.AllowFailureMap = ir.Bitmap(uint64(mask))
	req.CreatedAt = fromUnixNano(createdAt)
	req.Executed = executed == 1
	if executedAt.Valid {
		req.ExecutedAt = fromUnixNano(executedAt.Int64)
	}
	req.FailureMap = ir.Bitmap(uint64(failureMap))

	hash, err := ir.ActionsHash(req.Actions, req.AllowFailureMap)
	if err != nil {
		return ir.Request{}, fmt.Errorf("request %d: %w", id, err)
	}
	if hash != req.ActionsHash {
		return ir.Request{}, fmt.Errorf("request %d: stored actions do not match hash %s", id, req.ActionsHash)
	}

	return req, nil
}
