package models

import (
	"fmt"
	"strings"
)

// MaxIDLength matches the varchar(255) id columns
const MaxIDLength = 255

// ValidateID checks a user or organization id.
// Braces are rejected because ids are embedded in hash-tagged store keys.
func ValidateID(name, id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%s is required", name)
	case len(id) > MaxIDLength:
		return fmt.Errorf("%s is longer than %d bytes", name, MaxIDLength)
	case strings.ContainsAny(id, "{}"):
		return fmt.Errorf("%s must not contain braces", name)
	}
	return nil
}
