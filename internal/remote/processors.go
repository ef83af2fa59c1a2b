package remote

import (
	"context"
	"encoding/json"

	"github.com/kmborden/plantsync/internal/cache"
	apperrors "github.com/kmborden/plantsync/internal/errors"
	"github.com/kmborden/plantsync/internal/logging"
	"github.com/kmborden/plantsync/internal/models"
	syncpkg "github.com/kmborden/plantsync/internal/sync"
	"github.com/kmborden/plantsync/internal/uuid"
)

// Processors builds the per-entity apply functions the sync engine drains
// the queue with. All entity kinds share one shape: create posts the
// input and rewrites the temporary id in the cache, update and delete
// target the server id recorded in the payload.
//
// Terminal rejections (4xx) complete the operation: the server has ruled
// on the payload and retrying cannot change the outcome. The full reload
// after the drain restores whatever the server considers true.
func Processors(client *Client, c *cache.Cache) map[models.Entity]syncpkg.Processor {
	procs := make(map[models.Entity]syncpkg.Processor, len(models.Entities()))
	for _, entity := range models.Entities() {
		procs[entity] = processorFor(client, c, entity)
	}
	return procs
}

func processorFor(client *Client, c *cache.Cache, entity models.Entity) syncpkg.Processor {
	return func(ctx context.Context, op *models.QueueOperation) (bool, error) {
		switch op.Op {
		case models.OpCreate:
			return applyCreate(ctx, client, c, entity, op)
		case models.OpUpdate:
			return applyUpdate(ctx, client, entity, op)
		case models.OpDelete:
			return applyDelete(ctx, client, entity, op)
		}
		// Unknown op kinds cannot be applied now or later; the engine
		// routes them to the dead-letter table for inspection.
		return false, apperrors.New(apperrors.ErrQueuePayload, "unknown operation kind "+string(op.Op))
	}
}

func applyCreate(ctx context.Context, client *Client, c *cache.Cache, entity models.Entity, op *models.QueueOperation) (bool, error) {
	input, err := op.CreateInput()
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrQueuePayload, "invalid create payload", err)
	}

	serverID, err := client.Create(ctx, entity, input)
	if err != nil {
		if IsRejection(err) {
			logging.Warn().Str("op_id", op.ID).Err(err).Msg("dropping rejected create")
			return true, nil
		}
		return false, err
	}

	// Rewrite the optimistic temp id so records referenced before the
	// next reload resolve to the server id.
	var probe struct {
		ID models.ID `json:"id"`
	}
	if err := json.Unmarshal(input, &probe); err == nil && uuid.IsTemp(string(probe.ID)) {
		if err := c.ReplaceID(ctx, entity, probe.ID, serverID); err != nil {
			logging.Warn().Str("op_id", op.ID).Err(err).Msg("failed to rewrite temporary id")
		}
	}
	return true, nil
}

func applyUpdate(ctx context.Context, client *Client, entity models.Entity, op *models.QueueOperation) (bool, error) {
	target, err := op.UpdateTarget()
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrQueuePayload, "invalid update payload", err)
	}

	if err := client.Update(ctx, entity, target.ID, target.Input); err != nil {
		if IsRejection(err) {
			logging.Warn().Str("op_id", op.ID).Err(err).Msg("dropping rejected update")
			return true, nil
		}
		return false, err
	}
	return true, nil
}

func applyDelete(ctx context.Context, client *Client, entity models.Entity, op *models.QueueOperation) (bool, error) {
	target, err := op.DeleteTarget()
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrQueuePayload, "invalid delete payload", err)
	}

	if err := client.Delete(ctx, entity, target.ID); err != nil {
		// Deleting an already-deleted record is success for our purposes.
		if IsRejection(err) {
			logging.Warn().Str("op_id", op.ID).Err(err).Msg("treating rejected delete as applied")
			return true, nil
		}
		return false, err
	}
	return true, nil
}

// Reloader builds the post-drain cache refresh: every entity list is
// fetched fresh and replaces the local cache wholesale, which both
// confirms optimistic rows and picks up records changed elsewhere.
func Reloader(client *Client, c *cache.Cache) syncpkg.Reloader {
	return func(ctx context.Context) error {
		equipment, err := client.ListEquipment(ctx, true)
		if err != nil {
			return err
		}
		if err := c.ReplaceEquipment(ctx, equipment); err != nil {
			return err
		}

		plant, err := client.ListPlant(ctx, true)
		if err != nil {
			return err
		}
		if err := c.ReplacePlant(ctx, plant); err != nil {
			return err
		}

		inspections, err := client.ListInspections(ctx, true)
		if err != nil {
			return err
		}
		return c.ReplaceInspections(ctx, inspections)
	}
}
