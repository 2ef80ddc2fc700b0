package service

import (
	"sync"

	"github.com/mlhmz/dockermc-dashboard/internal/apperror"
)

// ServerLocks serializes mutating operations per server
type ServerLocks struct {
	mu   sync.Mutex
	held map[string]string
}

// NewServerLocks creates an empty lock table
func NewServerLocks() *ServerLocks {
	return &ServerLocks{held: make(map[string]string)}
}

// TryLock claims uniqueID for op. It never blocks: an operation already in
// progress on the same server yields a Conflict error.
func (l *ServerLocks) TryLock(uniqueID, op string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if running, ok := l.held[uniqueID]; ok {
		return nil, apperror.Conflict("operation already in progress on server %s: %s", uniqueID, running)
	}
	l.held[uniqueID] = op

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, uniqueID)
			l.mu.Unlock()
		})
	}, nil
}
