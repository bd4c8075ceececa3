// Package protocol defines the wire format shared by the client core and the
// dispatch relay: a JSON frame envelope and the closed set of frame types it
// may carry.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// FrameType identifies a frame on the wire. The set below is closed: the
// relay drops anything else and the client bus refuses to dispatch it.
type FrameType string

const (
	TypeNewRequest          FrameType = "new_request"
	TypeCancelRequest       FrameType = "cancel_request"
	TypeRequestStatusUpdate FrameType = "request_status_update"
	TypeDriverStatusUpdate  FrameType = "driver_status_update"
	TypeAcceptRequest       FrameType = "accept_request"
	TypeChatNew             FrameType = "chat:new"
	TypeChatAssign          FrameType = "chat:assign"
	TypeChatAssigned        FrameType = "chat:assigned"
	TypeChatMessage         FrameType = "chat:message"
	TypeChatEnd             FrameType = "chat:end"
	TypeChatEnded           FrameType = "chat:ended"
	TypeAuthenticate        FrameType = "authenticate"
)

var knownTypes = map[FrameType]struct{}{
	TypeNewRequest:          {},
	TypeCancelRequest:       {},
	TypeRequestStatusUpdate: {},
	TypeDriverStatusUpdate:  {},
	TypeAcceptRequest:       {},
	TypeChatNew:             {},
	TypeChatAssign:          {},
	TypeChatAssigned:        {},
	TypeChatMessage:         {},
	TypeChatEnd:             {},
	TypeChatEnded:           {},
	TypeAuthenticate:        {},
}

// Known reports whether t is part of the protocol.
func Known(t FrameType) bool {
	_, ok := knownTypes[t]
	return ok
}

// Frame is the envelope every message travels in.
type Frame struct {
	Type      FrameType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewFrame builds a frame around payload, stamped with the current time.
func NewFrame(t FrameType, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Frame{Type: t, Data: data, Timestamp: time.Now().UTC()}, nil
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Type, err)
	}
	return nil
}
