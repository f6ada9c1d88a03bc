package internal

import (
	"fmt"

	"github.com/google/uuid"
)

// Session is the per-run identity of this worker. It distinguishes
// concurrent workers sharing an API key in queue-side logs.
type Session struct {
	id uuid.UUID
}

// GenerateSession creates a new session with a random identifier.
func GenerateSession() Session {
	return Session{id: uuid.New()}
}

// String returns the string representation of the session, equivalent to
// calling ID().
func (s Session) String() string {
	return s.ID()
}

// ID returns the session identifier in the format "minnow-<short id>".
func (s Session) ID() string {
	return fmt.Sprintf("minnow-%s", s.id.String()[:8])
}

// UserAgent returns the User-Agent header sent with every queue request.
func (s Session) UserAgent(version string) string {
	return fmt.Sprintf("minnow/%s (%s)", version, s.ID())
}
