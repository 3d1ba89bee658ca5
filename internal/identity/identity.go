// Package identity generates the process-lifetime identifiers peers use to
// tell each other apart on the LAN.
package identity

import "github.com/google/uuid"

// NodeID is a random 128-bit identifier, string-encoded, stable for the
// life of the process and never persisted across restarts.
type NodeID string

// NewNodeID generates a fresh NodeID.
func NewNodeID() NodeID {
	return NodeID(uuid.NewString())
}

func (n NodeID) String() string { return string(n) }

// GroupID is an opaque label a peer mints when it creates a group.
// Uniqueness is not enforced by the fabric: two peers that independently
// generate the same GroupID simply end up viewing one merged group.
type GroupID string

// NewGroupID generates a fresh GroupID suitable for a newly created group.
func NewGroupID() GroupID {
	return GroupID(uuid.NewString())
}

func (g GroupID) String() string { return string(g) }
