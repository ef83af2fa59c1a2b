package models

// Equipment represents a compliance-tracked piece of equipment
// (safety gear, lifting tackle, fixed machinery).
type Equipment struct {
	ID                ID     `json:"id"`
	Name              string `json:"name"`
	Category          string `json:"category"`
	SerialNumber      string `json:"serial_number,omitempty"`
	Location          string `json:"location,omitempty"`
	Status            string `json:"status"` // in_service, quarantined, retired
	LastInspectedAt   int64  `json:"last_inspected_at,omitempty"`
	NextInspectionDue int64  `json:"next_inspection_due,omitempty"`
	Notes             string `json:"notes,omitempty"`
	CreatedAt         int64  `json:"created_at"`
	UpdatedAt         int64  `json:"updated_at"`
}
