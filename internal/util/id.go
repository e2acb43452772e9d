package util

import "github.com/google/uuid"

// NewID returns a fresh random identifier for players, objects and games.
func NewID() string {
	return uuid.NewString()
}

// ShortID returns the first 8 characters of id for display.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
