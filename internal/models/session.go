package models

import (
	"time"
)

// DocumentGroupKey is the single implicit group every document-mode session joins.
const DocumentGroupKey = "document"

// Session represents the server-side state of one live connection.
// Learning: A session starts empty on connect and is populated by join
type Session struct {
	ID             string
	DisplayName    string
	GroupKey       string // empty when not joined
	LastActivity   time.Time
	Active         bool
	Color          string // document mode only
	CursorPosition int    // document mode only
}

// Joined reports whether the session currently belongs to a group.
func (s *Session) Joined() bool {
	return s.GroupKey != ""
}

// Touch records activity at now and marks the session active.
func (s *Session) Touch(now time.Time) {
	s.LastActivity = now
	s.Active = true
}

// Idle reports whether the session has had no activity for longer than threshold.
func (s *Session) Idle(now time.Time, threshold time.Duration) bool {
	return now.Sub(s.LastActivity) > threshold
}

// SessionSummary is the externally visible projection of a Session.
// Raw activity timestamps never leave the server.
type SessionSummary struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName"`
	IsActive       bool   `json:"isActive"`
	Color          string `json:"color,omitempty"`
	CursorPosition *int   `json:"cursorPosition,omitempty"`
}

// Summary builds the summary for s. withCursor controls whether document-mode
// fields are included.
func (s *Session) Summary(withCursor bool) SessionSummary {
	sum := SessionSummary{
		ID:          s.ID,
		DisplayName: s.DisplayName,
		IsActive:    s.Active,
	}
	if withCursor {
		pos := s.CursorPosition
		sum.Color = s.Color
		sum.CursorPosition = &pos
	}
	return sum
}
