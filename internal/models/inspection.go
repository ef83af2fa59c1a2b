package models

// Inspection represents a logged inspection of an equipment or plant item.
type Inspection struct {
	ID          ID     `json:"id"`
	SubjectType Entity `json:"subject_type"` // equipment or plant
	SubjectID   ID     `json:"subject_id"`
	Inspector   string `json:"inspector"`
	Result      string `json:"result"` // pass, fail, advisory
	Notes       string `json:"notes,omitempty"`
	PerformedAt int64  `json:"performed_at"`
	CreatedAt   int64  `json:"created_at"`
}
