package collaboration

import (
	"relay/internal/models"
)

/*
LEARNING: CONSUMER-DRIVEN INTERFACES

The controller declares the storage it needs; the in-memory repositories
satisfy these implicitly. Tests can swap in their own implementations.
*/

// SessionStore is the session registry the controller mutates
type SessionStore interface {
	Create(id string) *models.Session
	Get(id string) (*models.Session, bool)
	Update(id string, mutate func(*models.Session)) bool
	Remove(id string) (*models.Session, bool)
	All() []*models.Session
	Len() int
}

// GroupStore is the group directory the controller mutates
type GroupStore interface {
	AddMember(key, id string)
	RemoveMember(key, id string) bool
	MembersOf(key string) []string
	IsMember(key, id string) bool
	Exists(key string) bool
	Keys() []string
	Len() int
}

// Sender delivers events to one connection, preserving the order of Send
// calls. Send must not block.
type Sender interface {
	Send(evt models.Event) error
	Close() error
}
