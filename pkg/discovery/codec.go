package discovery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// MaxPacketBytes bounds what Decode will accept off the wire. A legitimate
// status record with a handful of groups and models never approaches this;
// anything bigger is either corrupt or hostile.
const MaxPacketBytes = 16 * 1024

// ComputeMAC authenticates a status record for a given packet kind. The
// signed message is kindByte(kind) followed by the JSON encoding of status,
// so a captured Announce can't be replayed as a Query (or the reverse) and
// a status can't be lifted from one packet into another kind of packet.
//
// encoding/json always marshals a struct's exported fields in declaration
// order, so two processes signing the same PeerStatus value produce
// identical bytes to sign without needing a custom canonical encoder.
func ComputeMAC(key []byte, kind Kind, status PeerStatus) (string, error) {
	body, err := json.Marshal(status)
	if err != nil {
		return "", fmt.Errorf("discovery: marshal status for mac: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte{kindByte(kind)})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Encode serializes a packet for transmission, signing it only when key is
// non-empty. An unconfigured (empty) key means this fabric is running
// without authentication, so the packet carries no mac field at all rather
// than one computed over an empty key.
func Encode(key []byte, kind Kind, status PeerStatus) ([]byte, error) {
	pkt := Packet{Kind: kind, Status: status}
	if len(key) > 0 {
		tag, err := ComputeMAC(key, kind, status)
		if err != nil {
			return nil, err
		}
		pkt.MAC = &tag
	}
	return json.Marshal(pkt)
}

// Decode parses a received datagram and, when key is non-empty, verifies its
// MAC in constant time. It returns an error for malformed JSON, an oversized
// payload, a missing MAC when one is required, or a MAC that does not match
// — callers should treat all of these as "drop the packet" with no further
// distinction. When key is empty, mac verification is skipped entirely: an
// unauthenticated fabric neither computes nor requires one, so a packet is
// accepted whether or not it carries a mac.
func Decode(key []byte, raw []byte) (Packet, error) {
	if len(raw) > MaxPacketBytes {
		return Packet{}, fmt.Errorf("discovery: packet too large (%d bytes)", len(raw))
	}
	var pkt Packet
	if err := json.Unmarshal(raw, &pkt); err != nil {
		return Packet{}, fmt.Errorf("discovery: malformed packet: %w", err)
	}
	if len(key) == 0 {
		return pkt, nil
	}
	if pkt.MAC == nil {
		return Packet{}, fmt.Errorf("discovery: missing mac")
	}
	want, err := ComputeMAC(key, pkt.Kind, pkt.Status)
	if err != nil {
		return Packet{}, err
	}
	if !hmac.Equal([]byte(want), []byte(*pkt.MAC)) {
		return Packet{}, fmt.Errorf("discovery: mac mismatch")
	}
	return pkt, nil
}
