package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewFrameRoundTrip(t *testing.T) {
	frame, err := NewFrame(TypeChatMessage, ChatMessagePayload{
		PatientID: "p1",
		From:      "a1",
		Body:      "on my way",
		At:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("new frame: %v", err)
	}
	if frame.Type != TypeChatMessage {
		t.Fatalf("type = %q, want %q", frame.Type, TypeChatMessage)
	}
	if frame.Timestamp.IsZero() {
		t.Fatal("timestamp not stamped")
	}

	var p ChatMessagePayload
	if err := frame.Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.PatientID != "p1" || p.Body != "on my way" {
		t.Fatalf("payload = %+v", p)
	}
}

func TestFrameWireShape(t *testing.T) {
	frame, err := NewFrame(TypeAuthenticate, AuthPayload{UserID: "u1", UserType: "patient"})
	if err != nil {
		t.Fatalf("new frame: %v", err)
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var wire map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"type", "data", "timestamp"} {
		if _, ok := wire[key]; !ok {
			t.Fatalf("wire frame missing %q: %s", key, raw)
		}
	}

	// Timestamp must serialize as an RFC 3339 string.
	var ts string
	if err := json.Unmarshal(wire["timestamp"], &ts); err != nil {
		t.Fatalf("timestamp not a string: %s", wire["timestamp"])
	}
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
		t.Fatalf("timestamp %q not RFC 3339: %v", ts, err)
	}
}

func TestKnown(t *testing.T) {
	for _, ft := range []FrameType{
		TypeNewRequest, TypeCancelRequest, TypeRequestStatusUpdate,
		TypeDriverStatusUpdate, TypeAcceptRequest, TypeChatNew,
		TypeChatAssign, TypeChatAssigned, TypeChatMessage,
		TypeChatEnd, TypeChatEnded, TypeAuthenticate,
	} {
		if !Known(ft) {
			t.Errorf("Known(%q) = false, want true", ft)
		}
	}
	if Known("presence_update") {
		t.Error("Known accepted a type outside the protocol")
	}
}
