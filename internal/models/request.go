package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

/*
LEARNING: SEALED REQUEST TYPES

Inbound requests form a closed set. Each payload shape is its own struct and
the unexported marker method keeps other packages from adding variants, so a
type switch over Request can be exhaustive.
*/

// RequestKind is the wire name of an inbound request.
type RequestKind string

const (
	RequestJoin           RequestKind = "join"
	RequestLeave          RequestKind = "leave"
	RequestMessage        RequestKind = "message"
	RequestDocumentChange RequestKind = "documentChange"
	RequestCursorUpdate   RequestKind = "cursorUpdate"
)

// Request is an inbound client request.
type Request interface {
	Kind() RequestKind
	sealed()
}

type JoinRequest struct {
	DisplayName string `json:"displayName"`
	GroupKey    string `json:"groupKey"`
}

type LeaveRequest struct {
	DisplayName string `json:"displayName"`
	GroupKey    string `json:"groupKey"`
}

// MessageRequest carries a chat message. ClientTimestamp is milliseconds since
// the Unix epoch, zero when the client did not send one.
type MessageRequest struct {
	DisplayName     string `json:"displayName"`
	Body            string `json:"body"`
	GroupKey        string `json:"groupKey"`
	ClientTimestamp int64  `json:"timestamp"`
}

type DocumentChangeRequest struct {
	Content string `json:"content"`
}

type CursorUpdateRequest struct {
	Position int `json:"position"`
}

func (JoinRequest) Kind() RequestKind           { return RequestJoin }
func (LeaveRequest) Kind() RequestKind          { return RequestLeave }
func (MessageRequest) Kind() RequestKind        { return RequestMessage }
func (DocumentChangeRequest) Kind() RequestKind { return RequestDocumentChange }
func (CursorUpdateRequest) Kind() RequestKind   { return RequestCursorUpdate }

func (JoinRequest) sealed()           {}
func (LeaveRequest) sealed()          {}
func (MessageRequest) sealed()        {}
func (DocumentChangeRequest) sealed() {}
func (CursorUpdateRequest) sealed()   {}

// ErrUnknownRequest is returned by DecodeRequest for an unrecognized type.
var ErrUnknownRequest = errors.New("unknown request type")

// envelope is the JSON frame exchanged with clients.
type envelope struct {
	Type    RequestKind     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeRequest parses one inbound frame of the form {"type": ..., "payload": {...}}.
func DecodeRequest(data []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}

	var req Request
	switch env.Type {
	case RequestJoin:
		req = &JoinRequest{}
	case RequestLeave:
		req = &LeaveRequest{}
	case RequestMessage:
		req = &MessageRequest{}
	case RequestDocumentChange:
		req = &DocumentChangeRequest{}
	case RequestCursorUpdate:
		req = &CursorUpdateRequest{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRequest, env.Type)
	}

	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, req); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", env.Type, err)
		}
	}

	return deref(req), nil
}

// deref returns request values rather than pointers so callers switch on
// value types only.
func deref(req Request) Request {
	switch r := req.(type) {
	case *JoinRequest:
		return *r
	case *LeaveRequest:
		return *r
	case *MessageRequest:
		return *r
	case *DocumentChangeRequest:
		return *r
	case *CursorUpdateRequest:
		return *r
	}
	return req
}

// EncodeEvent serializes an outbound event as a JSON frame.
func EncodeEvent(evt Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", evt.Type, err)
	}
	return data, nil
}
