package firewall

import (
	"sync"
	"time"
)

type codeEntry struct {
	code     string
	storedAt time.Time
}

// CodeStore maps (session, problem) to the latest code snapshot. Every
// execution request writes here; chat flows read to give the tutor code
// context. Last writer wins; entries are never evicted.
type CodeStore struct {
	mu      sync.RWMutex
	entries map[string]codeEntry
}

func NewCodeStore() *CodeStore {
	return &CodeStore{entries: make(map[string]codeEntry)}
}

func storeKey(sessionID, problemID string) string {
	return sessionID + ":" + problemID
}

// Put records the current code for a session-problem pair.
func (s *CodeStore) Put(sessionID, problemID, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[storeKey(sessionID, problemID)] = codeEntry{
		code:     code,
		storedAt: time.Now().UTC(),
	}
}

// Get returns the stored code and whether one exists.
func (s *CodeStore) Get(sessionID, problemID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[storeKey(sessionID, problemID)]
	return entry.code, ok
}

// Len reports the number of stored snapshots.
func (s *CodeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
