package engine

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so backup decisions are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator produces the random suffix appended to timestamp-derived backup
// IDs. Abstracted so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces short random UUID-derived suffixes.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String()[:8] }
