package realtime

import (
	"time"

	"bandroom/cmd/identity/ids"
)

// NewConnID returns a ULID used as websocket connection id.
func NewConnID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
// ULID is preferable to random hex for tracing and ordering in logs.
func NewEnvelopeID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
