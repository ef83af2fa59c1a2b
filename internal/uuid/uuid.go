// Package uuid provides UUID v4 generation plus temporary-id helpers.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TempPrefix marks a locally generated placeholder identifier for a record
// whose create has not yet been confirmed remotely.
const TempPrefix = "temp_"

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// NewTemp generates a temporary record identifier ("temp_<uuid>").
func NewTemp() string {
	return TempPrefix + uuid.New().String()
}

// IsTemp reports whether id is a locally generated temporary identifier.
func IsTemp(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}

// IsValid checks if a string is a valid UUID, with or without the
// temporary prefix.
func IsValid(s string) bool {
	s = strings.TrimPrefix(s, TempPrefix)
	_, err := uuid.Parse(s)
	return err == nil
}

// Validate returns an error if the string is not a valid identifier.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid identifier: %q", s)
	}
	return nil
}
