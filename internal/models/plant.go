package models

// Plant represents a registered plant item: a vehicle, vessel or trailer.
type Plant struct {
	ID           ID     `json:"id"`
	Name         string `json:"name"`
	Kind         string `json:"kind"` // vehicle, vessel, trailer
	Registration string `json:"registration,omitempty"`
	Make         string `json:"make,omitempty"`
	Model        string `json:"model,omitempty"`
	Year         int    `json:"year,omitempty"`
	Status       string `json:"status"` // in_service, off_hire, retired
	ServiceDueAt int64  `json:"service_due_at,omitempty"`
	Notes        string `json:"notes,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}
