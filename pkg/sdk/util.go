package sdk

import (
	"strings"

	"github.com/google/uuid"
)

// NewID creates a unique identifier for runs and criteria.
func NewID() string {
	return uuid.NewString()
}

// ShortID returns the first segment of an id for display.
func ShortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
