package users

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"ssogate/pkg/platform/sentinel"
)

// InMemoryStore keeps copies of users in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*User
	byEmail map[string]uuid.UUID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[uuid.UUID]*User),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byEmail[NormalizeEmail(email)]; ok {
		cp := *s.byID[id]
		return &cp, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) Save(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := NormalizeEmail(user.Email)
	if owner, ok := s.byEmail[email]; ok && owner != user.ID {
		return sentinel.ErrInvalidState
	}
	if prev, ok := s.byID[user.ID]; ok {
		delete(s.byEmail, NormalizeEmail(prev.Email))
	}
	cp := *user
	cp.Email = email
	s.byID[user.ID] = &cp
	s.byEmail[email] = user.ID
	return nil
}
