package parrot

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewTaskID generates a short task identifier: the first 8 hex characters
// of a uniformly random UUID. Callers must check for collisions against
// existing ids and regenerate.
func NewTaskID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NowUTC returns the current time in UTC.
func NowUTC() time.Time {
	return time.Now().UTC()
}
