package repository

import (
	"sort"

	"relay/internal/models"
)

/*
LEARNING: IN-MEMORY SESSION REGISTRY

All session state is volatile. A process restart starts from an empty
registry, so a plain map is the whole storage layer.

The registry is NOT safe for concurrent use. Its owner (the lifecycle
controller) holds one lock across registry, group directory and document so
that a single event is applied as one atomic step.
*/

// SessionRepositoryImpl maps connection ids to sessions
type SessionRepositoryImpl struct {
	sessions map[string]*models.Session
}

// NewSessionRepository creates an empty session registry
func NewSessionRepository() *SessionRepositoryImpl {
	return &SessionRepositoryImpl{
		sessions: make(map[string]*models.Session),
	}
}

// Create registers an empty, unjoined session for id. An existing session
// for the same id is returned unchanged.
func (r *SessionRepositoryImpl) Create(id string) *models.Session {
	if s, ok := r.sessions[id]; ok {
		return s
	}
	s := &models.Session{ID: id}
	r.sessions[id] = s
	return s
}

// Get returns the session for id
func (r *SessionRepositoryImpl) Get(id string) (*models.Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// Update applies mutate to the session for id. Unknown ids are a no-op and
// report false.
func (r *SessionRepositoryImpl) Update(id string, mutate func(*models.Session)) bool {
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	mutate(s)
	return true
}

// Remove deletes the session for id and returns it
func (r *SessionRepositoryImpl) Remove(id string) (*models.Session, bool) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	return s, true
}

// All returns every session ordered by id
func (r *SessionRepositoryImpl) All() []*models.Session {
	result := make([]*models.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Len returns the number of live sessions
func (r *SessionRepositoryImpl) Len() int {
	return len(r.sessions)
}
