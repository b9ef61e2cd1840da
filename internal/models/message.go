package models

import (
	"fmt"
	"time"
)

// MessageKind distinguishes user utterances from server notices.
type MessageKind string

const (
	MessageKindOrdinary MessageKind = "message"
	MessageKindSystem   MessageKind = "notification"
)

// ChatMessage is one chat utterance. The server keeps no history; a message
// exists only for the duration of its broadcast.
type ChatMessage struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"displayName"`
	Body        string      `json:"body"`
	Timestamp   time.Time   `json:"timestamp"`
	Kind        MessageKind `json:"kind"`
}

// MessageID derives a message id from the sending connection and the server clock.
func MessageID(connID string, serverTime time.Time) string {
	return fmt.Sprintf("%s-%d", connID, serverTime.UnixMilli())
}

// Document is the single shared text in document mode.
// Learning: Replaced wholesale on every edit, the newest write wins
type Document struct {
	Content string
}
