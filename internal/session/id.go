package session

import (
	"strings"

	"github.com/google/uuid"
)

// PendingPrefix marks locally generated placeholder session ids. Server
// ids are bare UUIDs (or other opaque strings) and never carry this
// prefix, so the two namespaces cannot collide.
const PendingPrefix = "pending-"

// PendingID is a locally generated placeholder session identifier used
// before the backend assigns a real one.
type PendingID string

// NewPendingID generates a fresh pending id.
func NewPendingID() PendingID {
	return PendingID(PendingPrefix + uuid.NewString())
}

func (p PendingID) String() string { return string(p) }

// IsPendingID reports whether a route/session identifier is a local
// pending id rather than a server-assigned one.
func IsPendingID(id string) bool {
	return strings.HasPrefix(id, PendingPrefix)
}
