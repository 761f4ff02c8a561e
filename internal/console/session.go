package console

import (
	"fmt"
	"strings"
	"sync"
)

// Persistence stores the session username between console runs.
type Persistence interface {
	Load() (string, error)
	Save(username string) error
	Clear() error
}

// Session holds the identity of the user logged into one console instance.
// Update is the only mutation.
type Session struct {
	store Persistence

	mu       sync.RWMutex
	username string
}

// NewSession initialises the session from the persisted value. A load
// failure leaves the session anonymous and is returned to the caller.
func NewSession(store Persistence) (*Session, error) {
	s := &Session{store: store}
	username, err := store.Load()
	if err != nil {
		return s, fmt.Errorf("load session: %w", err)
	}
	s.username = strings.TrimSpace(username)
	return s, nil
}

// Username returns the current username and whether one is set.
func (s *Session) Username() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username, s.username != ""
}

// Update sets the username and persists it. An empty username clears the
// session and removes the persisted value. Memory is updated even when
// persistence fails.
func (s *Session) Update(username string) error {
	username = strings.TrimSpace(username)

	s.mu.Lock()
	s.username = username
	s.mu.Unlock()

	if username == "" {
		if err := s.store.Clear(); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
		return nil
	}
	if err := s.store.Save(username); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
