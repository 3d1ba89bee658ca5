package discovery

import "time"

// Mode is advisory peer role information. It does not affect routing.
type Mode string

const (
	ModeMaster Mode = "Master"
	ModeWorker Mode = "Worker"
)

// Kind distinguishes an unsolicited Announce from a Query that asks
// listeners to announce immediately.
type Kind string

const (
	KindAnnounce Kind = "Announce"
	KindQuery    Kind = "Query"
)

// kindByte is the single byte mixed into the MAC so a recorded Announce
// can never be replayed as a Query or vice versa.
func kindByte(k Kind) byte {
	switch k {
	case KindAnnounce:
		return 1
	case KindQuery:
		return 2
	default:
		return 0
	}
}

// OfferStatus describes a peer's current willingness to serve LM-runtime
// chat traffic.
type OfferStatus struct {
	Enabled      bool     `json:"enabled"`
	BaseURL      *string  `json:"base_url,omitempty"`
	Models       []string `json:"models"`
	AuthRequired bool     `json:"auth_required"`
	ProxyPort    *uint16  `json:"proxy_port,omitempty"`
}

// PeerStatus is the wire-level record an announcer sends about itself.
//
// Field order here IS the wire contract: encoding/json marshals exported
// struct fields in declaration order (never reordered, unlike map keys),
// which is what makes ComputeMAC's canonical serialization stable across
// senders without a custom canonical encoder. Don't reorder these fields
// without checking every implementation agrees, and keep Packet's Status
// field as a struct (not a map) for the same reason.
type PeerStatus struct {
	ID      string   `json:"id"`
	Address string   `json:"address"`
	Mode    Mode     `json:"mode"`
	Latency *int64   `json:"latency"`
	Name    *string  `json:"name,omitempty"`
	Groups  []string `json:"groups"`

	Ollama *OfferStatus `json:"ollama,omitempty"`
}

// Packet is one datagram on the discovery wire.
type Packet struct {
	Kind   Kind       `json:"kind"`
	Status PeerStatus `json:"status"`
	MAC    *string    `json:"mac,omitempty"`
}

// PeerView is what PeerTable.List returns: a peer's last-known status plus
// how long it's been since we last heard from it.
type PeerView struct {
	Status PeerStatus
	Age    time.Duration
}
