package discovery

import (
	"encoding/json"
	"testing"
)

func sampleStatus(id string) PeerStatus {
	latency := int64(5)
	name := "node-" + id
	return PeerStatus{
		ID:      id,
		Address: "192.168.1.10:45555",
		Mode:    ModeWorker,
		Latency: &latency,
		Name:    &name,
		Groups:  []string{"lab"},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	key := []byte("shared-secret")
	status := sampleStatus("abc")

	raw, err := Encode(key, KindAnnounce, status)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	pkt, err := Decode(key, raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if pkt.Status.ID != status.ID {
		t.Fatalf("got ID %q, want %q", pkt.Status.ID, status.ID)
	}
	if pkt.Kind != KindAnnounce {
		t.Fatalf("got kind %q, want Announce", pkt.Kind)
	}
}

func TestDecodeRejectsWrongKey(t *testing.T) {
	raw, err := Encode([]byte("key-a"), KindAnnounce, sampleStatus("abc"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode([]byte("key-b"), raw); err == nil {
		t.Fatal("expected decode with wrong key to fail")
	}
}

func TestDecodeRejectsCrossKindReplay(t *testing.T) {
	key := []byte("shared-secret")
	status := sampleStatus("abc")

	announceRaw, err := Encode(key, KindAnnounce, status)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var tampered Packet
	if err := json.Unmarshal(announceRaw, &tampered); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	tampered.Kind = KindQuery

	raw, err := json.Marshal(tampered)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}

	if _, err := Decode(key, raw); err == nil {
		t.Fatal("expected mac mismatch after kind tampering")
	}
}

func TestDecodeRejectsMissingMAC(t *testing.T) {
	key := []byte("shared-secret")
	pkt := Packet{Kind: KindAnnounce, Status: sampleStatus("abc")}
	raw, err := json.Marshal(pkt)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	if _, err := Decode(key, raw); err == nil {
		t.Fatal("expected decode to fail without a mac")
	}
}

func TestDecodeRejectsOversizedPacket(t *testing.T) {
	big := make([]byte, MaxPacketBytes+100)
	if _, err := Decode([]byte("k"), big); err == nil {
		t.Fatal("expected oversized packet to be rejected")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("k"), []byte("not json")); err == nil {
		t.Fatal("expected malformed json to be rejected")
	}
}

func TestEncodeOmitsMACWhenKeyEmpty(t *testing.T) {
	raw, err := Encode(nil, KindAnnounce, sampleStatus("abc"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var pkt Packet
	if err := json.Unmarshal(raw, &pkt); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if pkt.MAC != nil {
		t.Fatalf("expected no mac field, got %q", *pkt.MAC)
	}
}

func TestDecodeAcceptsUnsignedPacketWhenKeyEmpty(t *testing.T) {
	raw, err := Encode(nil, KindAnnounce, sampleStatus("abc"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(nil, raw); err != nil {
		t.Fatalf("Decode with no key configured should accept an unsigned packet: %v", err)
	}
}

func TestDecodeAcceptsSignedPacketWhenKeyEmpty(t *testing.T) {
	// A peer running with a key configured sends a signed packet; a
	// receiver running without one still accepts it, since an
	// unauthenticated node never verifies a mac either way.
	raw, err := Encode([]byte("shared-secret"), KindAnnounce, sampleStatus("abc"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(nil, raw); err != nil {
		t.Fatalf("Decode with no key configured should accept a signed packet too: %v", err)
	}
}
