// Package queue persists pending mutations in the local store until the
// sync engine drains them against the remote API. A single shared queue
// covers all entity kinds so draining preserves the order operations were
// made in, including cross-entity dependencies such as an inspection
// created against a not-yet-synced piece of equipment.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/kmborden/plantsync/internal/errors"
	"github.com/kmborden/plantsync/internal/models"
	"github.com/kmborden/plantsync/internal/store"
	"github.com/kmborden/plantsync/internal/uuid"
)

// DefaultBatchSize bounds how many operations one drain pass loads.
const DefaultBatchSize = 100

// Queue manages the durable pending-operation queue.
type Queue struct {
	store *store.Store
	batch int
}

// New creates a Queue. batch <= 0 selects the default drain batch size.
func New(s *store.Store, batch int) *Queue {
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &Queue{store: s, batch: batch}
}

// Enqueue appends an operation to the queue. The operation id and
// created_at are assigned here; callers provide entity, op and payload.
func (q *Queue) Enqueue(ctx context.Context, entity models.Entity, op models.Op, payload json.RawMessage) (*models.QueueOperation, error) {
	db := q.store.DB()
	if db == nil {
		return nil, nil
	}
	if !entity.Valid() {
		return nil, apperrors.New(apperrors.ErrQueueInvalidOp, fmt.Sprintf("unknown entity kind %q", entity))
	}
	if !op.Valid() {
		return nil, apperrors.New(apperrors.ErrQueueInvalidOp, fmt.Sprintf("unknown operation kind %q", op))
	}
	if len(payload) == 0 {
		return nil, apperrors.New(apperrors.ErrQueuePayload, "operation payload must not be empty")
	}

	rec := &models.QueueOperation{
		ID:        uuid.New(),
		Entity:    entity,
		Op:        op,
		Payload:   payload,
		CreatedAt: time.Now().Unix(),
	}
	_, err := db.ExecContext(ctx,
		"INSERT INTO op_queue (id, entity, op, payload, attempts, created_at) VALUES (?, ?, ?, ?, 0, ?)",
		rec.ID, rec.Entity, rec.Op, string(rec.Payload), rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue operation: %w", err)
	}

	q.store.SchedulePersist()
	return rec, nil
}

// EnqueueCreate queues a create. input is the new-record object, which may
// carry a temporary id.
func (q *Queue) EnqueueCreate(ctx context.Context, entity models.Entity, input interface{}) (*models.QueueOperation, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrQueuePayload, "failed to serialize create payload", err)
	}
	return q.Enqueue(ctx, entity, models.OpCreate, payload)
}

// EnqueueUpdate queues an update against an existing record id.
func (q *Queue) EnqueueUpdate(ctx context.Context, entity models.Entity, id models.ID, input interface{}) (*models.QueueOperation, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrQueuePayload, "failed to serialize update payload", err)
	}
	payload, err := json.Marshal(models.UpdatePayload{ID: id, Input: raw})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrQueuePayload, "failed to serialize update payload", err)
	}
	return q.Enqueue(ctx, entity, models.OpUpdate, payload)
}

// EnqueueDelete queues a delete of an existing record id.
func (q *Queue) EnqueueDelete(ctx context.Context, entity models.Entity, id models.ID) (*models.QueueOperation, error) {
	payload, err := json.Marshal(models.DeletePayload{ID: id})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrQueuePayload, "failed to serialize delete payload", err)
	}
	return q.Enqueue(ctx, entity, models.OpDelete, payload)
}

// Pending returns the oldest queued operations up to the batch size, in
// the order they were enqueued. Ties on created_at fall back to insertion
// order.
func (q *Queue) Pending(ctx context.Context) ([]models.QueueOperation, error) {
	db := q.store.DB()
	if db == nil {
		return nil, nil
	}

	rows, err := db.QueryContext(ctx,
		"SELECT id, entity, op, payload, attempts, created_at FROM op_queue ORDER BY created_at, rowid LIMIT ?",
		q.batch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []models.QueueOperation
	for rows.Next() {
		var op models.QueueOperation
		var payload string
		if err := rows.Scan(&op.ID, &op.Entity, &op.Op, &payload, &op.Attempts, &op.CreatedAt); err != nil {
			return nil, err
		}
		op.Payload = json.RawMessage(payload)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Dequeue removes a completed operation. Removing an id that is already
// gone is not an error, so retrying a drain pass stays safe.
func (q *Queue) Dequeue(ctx context.Context, id string) error {
	db := q.store.DB()
	if db == nil {
		return nil
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM op_queue WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to dequeue operation %s: %w", id, err)
	}
	q.store.SchedulePersist()
	return nil
}

// MarkAttempt increments the attempt counter of a failed operation and
// returns the new count.
func (q *Queue) MarkAttempt(ctx context.Context, id string) (int, error) {
	db := q.store.DB()
	if db == nil {
		return 0, nil
	}

	if _, err := db.ExecContext(ctx, "UPDATE op_queue SET attempts = attempts + 1 WHERE id = ?", id); err != nil {
		return 0, fmt.Errorf("failed to record attempt for operation %s: %w", id, err)
	}

	var attempts int
	err := db.QueryRowContext(ctx, "SELECT attempts FROM op_queue WHERE id = ?", id).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	q.store.SchedulePersist()
	return attempts, nil
}

// DeadLetter moves an operation out of the live queue after it exhausted
// its attempt budget, preserving it for inspection instead of blocking
// every later operation behind it.
func (q *Queue) DeadLetter(ctx context.Context, id string, lastErr error) error {
	db := q.store.DB()
	if db == nil {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	reason := ""
	if lastErr != nil {
		reason = lastErr.Error()
	}
	_, err = tx.ExecContext(ctx, `
	INSERT OR REPLACE INTO dead_letter (id, entity, op, payload, attempts, created_at, failed_at, last_error)
	SELECT id, entity, op, payload, attempts, created_at, ?, ? FROM op_queue WHERE id = ?
	`, time.Now().Unix(), reason, id)
	if err != nil {
		return fmt.Errorf("failed to dead-letter operation %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM op_queue WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to remove dead-lettered operation %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	q.store.SchedulePersist()
	return nil
}

// Len returns the number of queued operations.
func (q *Queue) Len(ctx context.Context) (int, error) {
	db := q.store.DB()
	if db == nil {
		return 0, nil
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM op_queue").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
