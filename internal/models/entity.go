package models

import "fmt"

// Entity identifies which cached record kind an operation targets.
type Entity string

const (
	EntityEquipment  Entity = "equipment"
	EntityPlant      Entity = "plant"
	EntityInspection Entity = "inspection"
)

// Entities lists every known entity kind.
func Entities() []Entity {
	return []Entity{EntityEquipment, EntityPlant, EntityInspection}
}

// Valid reports whether e is a known entity kind.
func (e Entity) Valid() bool {
	switch e {
	case EntityEquipment, EntityPlant, EntityInspection:
		return true
	}
	return false
}

// CacheTable returns the local cache table name for the entity.
func (e Entity) CacheTable() string {
	return string(e) + "_cache"
}

// Op identifies a queued mutation type.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Valid reports whether o is a known operation type.
func (o Op) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// ParseEntity converts a string to an Entity, rejecting unknown kinds.
func ParseEntity(s string) (Entity, error) {
	e := Entity(s)
	if !e.Valid() {
		return "", fmt.Errorf("unknown entity kind: %q", s)
	}
	return e, nil
}
