// Package sync drains the pending-operation queue against the remote API
// and reconciles the local cache afterwards. Only one drain runs at a
// time; overlapping triggers from the scheduler, connectivity changes and
// manual requests collapse into a single pass.
package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/kmborden/plantsync/internal/errors"
	"github.com/kmborden/plantsync/internal/logging"
	"github.com/kmborden/plantsync/internal/models"
	"github.com/kmborden/plantsync/internal/queue"
)

// Processor applies one queued operation against the remote API.
//
// The bool return reports whether the operation completed and should be
// removed from the queue: true also covers terminal rejections such as a
// delete of an already-deleted record, where retrying can never help.
// A false return with an error leaves the operation queued for the next
// pass.
type Processor func(ctx context.Context, op *models.QueueOperation) (bool, error)

// Reloader refreshes the local cache from the remote API after a drain,
// replacing optimistic rows with authoritative server state.
type Reloader func(ctx context.Context) error

// EventType classifies sync lifecycle notifications.
type EventType string

const (
	EventStarted   EventType = "sync.started"
	EventCompleted EventType = "sync.completed"
	EventFailed    EventType = "sync.failed"
)

// Event is a sync lifecycle notification delivered to the handler set
// with SetEventHandler.
type Event struct {
	Type    EventType
	Pending int
	Error   error
}

// Engine coordinates queue draining and cache reconciliation.
type Engine struct {
	queue       *queue.Queue
	procs       map[models.Entity]Processor
	reload      Reloader
	maxAttempts int

	runMu sync.Mutex // held for the duration of one drain

	mu       sync.RWMutex
	syncing  bool
	lastSync time.Time
	lastErr  error
	handler  func(Event)
}

// Options configures an Engine.
type Options struct {
	// Processors maps each entity kind to its remote apply function.
	Processors map[models.Entity]Processor

	// Reload refreshes the cache after a drain pass. Optional.
	Reload Reloader

	// MaxAttempts dead-letters an operation after this many failed
	// attempts. Zero or negative retries forever.
	MaxAttempts int
}

// New creates an Engine draining the given queue.
func New(q *queue.Queue, opts Options) *Engine {
	return &Engine{
		queue:       q,
		procs:       opts.Processors,
		reload:      opts.Reload,
		maxAttempts: opts.MaxAttempts,
	}
}

// SetEventHandler registers a callback for sync lifecycle events. The
// callback runs on the syncing goroutine and must not block.
func (e *Engine) SetEventHandler(fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = fn
}

// Syncing reports whether a drain pass is currently running.
func (e *Engine) Syncing() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.syncing
}

// LastSync returns when the last successful drain completed. Zero when
// none has.
func (e *Engine) LastSync() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSync
}

// LastError returns the error of the most recent drain, nil after a
// clean pass.
func (e *Engine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// Sync drains the queue once and reconciles the cache. A concurrent call
// while a drain is running returns ErrSyncInProgress without waiting.
func (e *Engine) Sync(ctx context.Context) error {
	if !e.runMu.TryLock() {
		return apperrors.New(apperrors.ErrSyncInProgress, "sync already in progress")
	}
	defer e.runMu.Unlock()

	e.setSyncing(true)
	defer e.setSyncing(false)

	pending, err := e.queue.Len(ctx)
	if err != nil {
		e.finish(err)
		return err
	}
	e.emit(Event{Type: EventStarted, Pending: pending})
	logging.Info().Int("pending", pending).Msg("sync started")

	failed, cause, err := e.drain(ctx)

	remaining := 0
	if err == nil {
		remaining, err = e.queue.Len(ctx)
	}

	// Reconciliation point: only a fully drained queue reloads, so
	// optimistic rows are never overwritten while work is still pending.
	if err == nil && remaining == 0 && e.reload != nil {
		if rerr := e.reload(ctx); rerr != nil {
			err = apperrors.Wrap(apperrors.ErrReloadFailed, "failed to reload cache after sync", rerr)
		}
	}

	if err == nil && failed > 0 {
		err = apperrors.Wrap(apperrors.ErrSyncFailed,
			fmt.Sprintf("%d operations failed and remain queued", failed), cause)
	}

	e.finish(err)
	if err != nil {
		e.emit(Event{Type: EventFailed, Pending: remaining, Error: err})
		logging.Error().Err(err).Int("pending", remaining).Msg("sync failed")
		return err
	}

	e.emit(Event{Type: EventCompleted, Pending: remaining})
	logging.Info().Int("pending", remaining).Msg("sync completed")
	return nil
}

// drain applies one batch of pending operations oldest-first. Each
// operation is attempted exactly once per run; a failure leaves it queued
// for the next run and processing moves on, so one bad operation cannot
// block the rest of the batch. Returns how many operations failed and
// stayed queued, along with the most recent apply error as the cause.
func (e *Engine) drain(ctx context.Context) (int, error, error) {
	ops, err := e.queue.Pending(ctx)
	if err != nil {
		return 0, nil, err
	}

	failed := 0
	var cause error
	for i := range ops {
		op := &ops[i]
		if err := ctx.Err(); err != nil {
			return failed, cause, err
		}

		done, applyErr := e.apply(ctx, op)
		if done {
			if err := e.queue.Dequeue(ctx, op.ID); err != nil {
				return failed, cause, err
			}
			continue
		}

		// Malformed payloads can never succeed on retry; park them in
		// the dead-letter table where they stay inspectable.
		if apperrors.Is(applyErr, apperrors.ErrQueuePayload) {
			logging.Warn().
				Str("op_id", op.ID).
				Str("entity", string(op.Entity)).
				Str("op", string(op.Op)).
				Err(applyErr).
				Msg("operation payload is invalid, moving to dead letter")
			if dlErr := e.queue.DeadLetter(ctx, op.ID, applyErr); dlErr != nil {
				return failed, cause, dlErr
			}
			continue
		}

		logging.Warn().
			Str("op_id", op.ID).
			Str("entity", string(op.Entity)).
			Str("op", string(op.Op)).
			Err(applyErr).
			Msg("operation failed, will retry")

		attempts, markErr := e.queue.MarkAttempt(ctx, op.ID)
		if markErr != nil {
			return failed, cause, markErr
		}
		if e.maxAttempts > 0 && attempts >= e.maxAttempts {
			logging.Warn().
				Str("op_id", op.ID).
				Int("attempts", attempts).
				Msg("operation exceeded attempt budget, moving to dead letter")
			if dlErr := e.queue.DeadLetter(ctx, op.ID, applyErr); dlErr != nil {
				return failed, cause, dlErr
			}
			continue
		}
		failed++
		cause = applyErr
	}
	return failed, cause, nil
}

// apply runs the entity's processor, treating a panic as a retryable
// failure so one bad payload cannot take the whole agent down.
func (e *Engine) apply(ctx context.Context, op *models.QueueOperation) (done bool, err error) {
	proc, ok := e.procs[op.Entity]
	if !ok {
		return false, apperrors.New(apperrors.ErrSyncFailed,
			fmt.Sprintf("no processor registered for entity kind %q", op.Entity))
	}

	defer func() {
		if r := recover(); r != nil {
			done = false
			err = fmt.Errorf("processor panicked: %v", r)
			logging.Error().
				Str("op_id", op.ID).
				Str("entity", string(op.Entity)).
				Interface("panic", r).
				Msg("recovered from processor panic")
		}
	}()
	return proc(ctx, op)
}

func (e *Engine) setSyncing(v bool) {
	e.mu.Lock()
	e.syncing = v
	e.mu.Unlock()
}

func (e *Engine) finish(err error) {
	e.mu.Lock()
	e.lastErr = err
	if err == nil {
		e.lastSync = time.Now()
	}
	e.mu.Unlock()
}

func (e *Engine) emit(ev Event) {
	e.mu.RLock()
	fn := e.handler
	e.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}
