package vim

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Heartbeat tokens travel as bare text frames outside the envelope format.
const (
	PingToken = "ping"
	PongToken = "pong"
)

// Code selects the payload type of an Envelope.
type Code string

const (
	CodeReady         Code = "ready"
	CodeMessage       Code = "message"
	CodeAck           Code = "ack"
	CodeRead          Code = "read"
	CodeOtherLogin    Code = "other-login"
	CodeFriendRequest Code = "friend-request"
	CodeGroupRequest  Code = "group-request"
)

// Envelope is the wire unit exchanged after the connection is up.
type Envelope struct {
	Code    Code            `json:"code"`
	Message json.RawMessage `json:"message"`
}

// EncodeEnvelope marshals payload under code.
func EncodeEnvelope(code Code, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", code, err)
	}
	return json.Marshal(Envelope{Code: code, Message: raw})
}

// DecodeError is returned for frames that are not valid envelopes.
type DecodeError struct {
	Code Code
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Code == "" {
		return "decode frame: " + e.Err.Error()
	}
	return fmt.Sprintf("decode %s frame: %v", e.Code, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ============================================================================
// Frames
// ============================================================================

// Frame is one decoded inbound frame. The concrete types below form a
// closed set; Router switches over them.
type Frame interface {
	frame()
}

// PongFrame is the heartbeat reply.
type PongFrame struct{}

// MessageFrame carries a chat message.
type MessageFrame struct{ Message Message }

// ReadFrame carries a peer's read receipt.
type ReadFrame struct{ Receipt ReadReceipt }

// OtherLoginFrame reports a login from another client.
type OtherLoginFrame struct{ OtherLogin OtherLogin }

// FriendRequestFrame announces a new friend request.
type FriendRequestFrame struct{ Raw json.RawMessage }

// GroupRequestFrame announces a new group join request.
type GroupRequestFrame struct{ Raw json.RawMessage }

// AckFrame acknowledges a sent message.
type AckFrame struct{ Raw json.RawMessage }

// ReadyFrame is a ready envelope echoed by the server.
type ReadyFrame struct{ Auth ReadyAuth }

// UnknownFrame is a well-formed envelope with a code outside the known set.
type UnknownFrame struct {
	Code Code
	Raw  json.RawMessage
}

func (PongFrame) frame() {}
func (MessageFrame) frame() {}
func (ReadFrame) frame() {}
func (OtherLoginFrame) frame() {}
func (FriendRequestFrame) frame() {}
func (GroupRequestFrame) frame() {}
func (AckFrame) frame() {}
func (ReadyFrame) frame() {}
func (UnknownFrame) frame() {}

// DecodeFrame turns a raw text frame into a Frame. It never panics;
// malformed input yields a *DecodeError.
func DecodeFrame(raw []byte) (Frame, error) {
	if string(raw) == PongToken {
		return PongFrame{}, nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, &DecodeError{Err: errors.New("invalid json")}
	}
	code := gjson.GetBytes(raw, "code")
	if code.Type != gjson.String {
		return nil, &DecodeError{Err: errors.New("missing code")}
	}

	// Only the payload slice is decoded, into the type the code selects.
	c := Code(code.Str)
	var payload json.RawMessage
	if p := gjson.GetBytes(raw, "message"); p.Exists() {
		payload = json.RawMessage(p.Raw)
	}

	switch c {
	case CodeMessage:
		var m Message
		if err := decodePayload(c, payload, &m); err != nil {
			return nil, err
		}
		return MessageFrame{Message: m}, nil
	case CodeRead:
		var r ReadReceipt
		if err := decodePayload(c, payload, &r); err != nil {
			return nil, err
		}
		return ReadFrame{Receipt: r}, nil
	case CodeOtherLogin:
		var o OtherLogin
		if err := decodePayload(c, payload, &o); err != nil {
			return nil, err
		}
		return OtherLoginFrame{OtherLogin: o}, nil
	case CodeReady:
		var a ReadyAuth
		if err := decodePayload(c, payload, &a); err != nil {
			return nil, err
		}
		return ReadyFrame{Auth: a}, nil
	case CodeFriendRequest:
		return FriendRequestFrame{Raw: payload}, nil
	case CodeGroupRequest:
		return GroupRequestFrame{Raw: payload}, nil
	case CodeAck:
		return AckFrame{Raw: payload}, nil
	default:
		return UnknownFrame{Code: c, Raw: payload}, nil
	}
}

func decodePayload(code Code, payload json.RawMessage, dst any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return &DecodeError{Code: code, Err: errors.New("empty payload")}
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return &DecodeError{Code: code, Err: err}
	}
	return nil
}
