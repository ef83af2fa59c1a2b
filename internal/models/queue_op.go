package models

import (
	"encoding/json"
	"fmt"
)

// QueueOperation represents one pending mutation in the shared offline
// queue. Operations are drained oldest-first and deleted on success; they
// are never mutated apart from the attempt counter.
type QueueOperation struct {
	ID        string          `db:"id" json:"id"`
	Entity    Entity          `db:"entity" json:"entity"`
	Op        Op              `db:"op" json:"operation"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	Attempts  int             `db:"attempts" json:"attempts"`
	CreatedAt int64           `db:"created_at" json:"created_at"`
}

// TableName returns the table name for QueueOperation.
func (QueueOperation) TableName() string {
	return "op_queue"
}

// UpdatePayload is the payload shape for update operations.
type UpdatePayload struct {
	ID    ID              `json:"id"`
	Input json.RawMessage `json:"input"`
}

// DeletePayload is the payload shape for delete operations.
type DeletePayload struct {
	ID ID `json:"id"`
}

// CreateInput returns the create payload, which is the new-record input
// object itself. The input may carry a temporary id assigned locally.
func (op *QueueOperation) CreateInput() (json.RawMessage, error) {
	if op.Op != OpCreate {
		return nil, fmt.Errorf("operation %s is %s, not create", op.ID, op.Op)
	}
	return op.Payload, nil
}

// UpdateTarget decodes the payload of an update operation.
func (op *QueueOperation) UpdateTarget() (UpdatePayload, error) {
	var p UpdatePayload
	if op.Op != OpUpdate {
		return p, fmt.Errorf("operation %s is %s, not update", op.ID, op.Op)
	}
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal update payload: %w", err)
	}
	if p.ID == "" {
		return p, fmt.Errorf("update payload for operation %s has no id", op.ID)
	}
	return p, nil
}

// DeleteTarget decodes the payload of a delete operation.
func (op *QueueOperation) DeleteTarget() (DeletePayload, error) {
	var p DeletePayload
	if op.Op != OpDelete {
		return p, fmt.Errorf("operation %s is %s, not delete", op.ID, op.Op)
	}
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal delete payload: %w", err)
	}
	if p.ID == "" {
		return p, fmt.Errorf("delete payload for operation %s has no id", op.ID)
	}
	return p, nil
}
