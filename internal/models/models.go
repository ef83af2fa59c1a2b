// Package models provides data model definitions for the plantsync client core.
package models

import "database/sql/driver"

// ID is a wrapper around string for record identifier type safety.
// An ID is either issued by the server or locally generated with a
// "temp_" prefix while the corresponding create is still unsynced.
type ID string

// Value implements driver.Valuer for ID.
func (id ID) Value() (driver.Value, error) {
	return string(id), nil
}

// Scan implements sql.Scanner for ID.
func (id *ID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*id = ""
	case string:
		*id = ID(v)
	case []byte:
		*id = ID(v)
	}
	return nil
}

// String returns the string representation of the ID.
func (id ID) String() string {
	return string(id)
}
