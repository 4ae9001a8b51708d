package game

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no session exists for the requested identifier.
var ErrNotFound = errors.New("game session not found")

// Store is the durable persistence boundary for sessions. Sessions are never
// deleted; terminal records remain for history and statistics.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	// FindOnGoingByPair returns the most recently updated onGoing session
	// between the two users in either color orientation, or nil when none.
	FindOnGoingByPair(ctx context.Context, userA, userB string) (*Session, error)
}
