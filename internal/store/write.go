package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/timelock/internal/ir"
)

// InitSettings records the initialized flag, the initial delay and a zero
// request counter. Fails if the settings already exist; callers check
// Initialized first.
func (t *Tx) InitSettings(ctx context.Context, delay time.Duration) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, 1), (?, ?), (?, 0)
	`,
		keyInitialized,
		keyDelay, int64(delay),
		keyNextRequestID,
	)
	if err != nil {
		return fmt.Errorf("init settings: %w", err)
	}
	return nil
}

// AllocateRequestID returns the next request id and advances the counter.
// The counter is the sole source of ids; allocation is undone with the
// enclosing transaction or savepoint.
func (t *Tx) AllocateRequestID(ctx context.Context) (uint64, error) {
	var next int64
	err := t.tx.QueryRowContext(ctx, `
		UPDATE settings SET value = value + 1
		WHERE key = ?
		RETURNING value - 1
	`, keyNextRequestID).Scan(&next)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("allocate request id: counter missing: %w", ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("allocate request id: %w", err)
	}
	return uint64(next), nil
}

// InsertRequest stores a new request. The id must come from
// AllocateRequestID. Inserting an existing id is an error, never an update.
func (t *Tx) InsertRequest(ctx context.Context, req ir.Request) error {
	actionsJSON, err := marshalActions(req.Actions)
	if err != nil {
		return fmt.Errorf("insert request %d: %w", req.ID, err)
	}

	hash, err := ir.ActionsHash(req.Actions, req.AllowFailureMap)
	if err != nil {
		return fmt.Errorf("insert request %d: %w", req.ID, err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO requests
		(id, actions, actions_hash, allow_failure_map, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		int64(req.ID),
		actionsJSON,
		hash,
		int64(req.AllowFailureMap),
		toUnixNano(req.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert request %d: %w", req.ID, err)
	}
	return nil
}

// ClaimExecution moves a request from pending to executed.
//
// The UPDATE only matches a pending row, so of any number of claims on the
// same request exactly one returns claimed=true. claimed=false means the
// request is missing or already executed; the caller tells them apart with
// a read.
func (t *Tx) ClaimExecution(ctx context.Context, id uint64, at time.Time) (claimed bool, err error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE requests SET executed = 1, executed_at = ?
		WHERE id = ? AND executed = 0
	`, toUnixNano(at), int64(id))
	if err != nil {
		return false, fmt.Errorf("claim execution %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim execution %d: rows affected: %w", id, err)
	}
	return rows == 1, nil
}

// RecordOutcome stores the failure map returned by the executor.
// Only valid for a request claimed in the same transaction.
func (t *Tx) RecordOutcome(ctx context.Context, id uint64, failureMap ir.Bitmap) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE requests SET failure_map = ?
		WHERE id = ? AND executed = 1
	`, int64(failureMap), int64(id))
	if err != nil {
		return fmt.Errorf("record outcome %d: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record outcome %d: rows affected: %w", id, err)
	}
	if rows != 1 {
		return fmt.Errorf("record outcome %d: request not claimed", id)
	}
	return nil
}

// SetDelay overwrites the configured delay.
func (t *Tx) SetDelay(ctx context.Context, delay time.Duration) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE settings SET value = ? WHERE key = ?
	`, int64(delay), keyDelay)
	if err != nil {
		return fmt.Errorf("set delay: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set delay: rows affected: %w", err)
	}
	if rows != 1 {
		return fmt.Errorf("set delay: %w", ErrNotFound)
	}
	return nil
}

// AppendEvent writes an event to the log and returns its sequence number.
// ev.Seq is ignored; the log assigns it.
func (t *Tx) AppendEvent(ctx context.Context, ev ir.Event) (int64, error) {
	payload, err := marshalEvent(ev)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}

	var requestID sql.NullInt64
	if id, ok := ev.RequestID(); ok {
		requestID = sql.NullInt64{Int64: int64(id), Valid: true}
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO events (kind, request_id, flow_token, payload)
		VALUES (?, ?, ?, ?)
	`,
		string(ev.Kind),
		requestID,
		ev.FlowToken,
		payload,
	)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append event: last insert id: %w", err)
	}
	return seq, nil
}
