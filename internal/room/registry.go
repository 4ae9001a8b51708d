// Package room holds the ephemeral, process-local pairing state: which
// connections occupy which room and with which color. Nothing here survives a
// restart; participants rejoin by room id to resynchronize.
package room

import (
	"crypto/rand"
	"errors"
	"math/big"
	"sync"

	"github.com/park285/chess-arena-server/internal/game"
)

// MaxParticipants is the room capacity: exactly two seated players.
const MaxParticipants = 2

var (
	ErrAlreadyJoined = errors.New("user already in room")
	ErrRoomFull      = errors.New("room is full")
	ErrColorTaken    = errors.New("color already taken")
	ErrInvalidColor  = errors.New("invalid color request")
)

// Participant is one connected player inside a room.
type Participant struct {
	ConnID string     `json:"socketId"`
	UserID string     `json:"userId"`
	Color  game.Color `json:"color"`
}

// Room is the pairing context for up to two participants. All access goes
// through Registry.WithRoom, which holds the room's mutex for the duration of
// the room-scoped operation, including any store or engine awaits inside it.
type Room struct {
	ID string

	mu           sync.Mutex
	participants []*Participant
}

// Size returns the participant count.
func (r *Room) Size() int { return len(r.participants) }

// ByUser returns the participant with the given user id, or nil.
func (r *Room) ByUser(userID string) *Participant {
	for _, p := range r.participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// ByConn returns the participant with the given connection id, or nil.
func (r *Room) ByConn(connID string) *Participant {
	for _, p := range r.participants {
		if p.ConnID == connID {
			return p
		}
	}
	return nil
}

// ByColor returns the participant seated on the given side, or nil.
func (r *Room) ByColor(c game.Color) *Participant {
	for _, p := range r.participants {
		if p.Color == c {
			return p
		}
	}
	return nil
}

// Others returns every participant except the one on connID.
func (r *Room) Others(connID string) []*Participant {
	out := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		if p.ConnID != connID {
			out = append(out, p)
		}
	}
	return out
}

// Participants returns a copy of the membership for broadcasting.
func (r *Room) Participants() []*Participant {
	return append([]*Participant(nil), r.participants...)
}

// Join validates and seats a new participant, resolving the requested color.
// coin decides the random color for the first seat; the second seat always
// receives whichever color is free.
func (r *Room) Join(connID, userID, requestedColor string, coin func() bool) (*Participant, error) {
	if r.ByUser(userID) != nil {
		return nil, ErrAlreadyJoined
	}
	if len(r.participants) >= MaxParticipants {
		return nil, ErrRoomFull
	}

	color, err := r.resolveColor(requestedColor, coin)
	if err != nil {
		return nil, err
	}

	p := &Participant{ConnID: connID, UserID: userID, Color: color}
	r.participants = append(r.participants, p)
	return p, nil
}

func (r *Room) resolveColor(requested string, coin func() bool) (game.Color, error) {
	taken := make(map[game.Color]bool, len(r.participants))
	for _, p := range r.participants {
		taken[p.Color] = true
	}

	switch requested {
	case "", "random":
		if len(r.participants) == 0 {
			if coin() {
				return game.White, nil
			}
			return game.Black, nil
		}
		if taken[game.White] {
			return game.Black, nil
		}
		return game.White, nil
	case string(game.White), string(game.Black):
		c := game.Color(requested)
		if taken[c] {
			return "", ErrColorTaken
		}
		return c, nil
	default:
		return "", ErrInvalidColor
	}
}

// RemoveConn unseats the participant on connID and returns it, or nil.
func (r *Room) RemoveConn(connID string) *Participant {
	for i, p := range r.participants {
		if p.ConnID == connID {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			return p
		}
	}
	return nil
}

// Registry owns the process-local room table. Rooms are created lazily and
// deleted the moment they drain to zero participants.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// WithRoom runs fn while holding the room's mutex, creating the room if it
// does not exist. Operations on distinct rooms run fully in parallel; two
// operations on the same room are serialized even across suspension points
// inside fn. An empty room is removed from the table after fn returns.
func (reg *Registry) WithRoom(roomID string, fn func(*Room) error) error {
	for {
		reg.mu.Lock()
		r, ok := reg.rooms[roomID]
		if !ok {
			r = &Room{ID: roomID}
			reg.rooms[roomID] = r
		}
		reg.mu.Unlock()

		r.mu.Lock()
		// The room may have been deleted and recreated between the two locks;
		// only proceed if the table still points at this instance.
		reg.mu.Lock()
		if reg.rooms[roomID] != r {
			reg.mu.Unlock()
			r.mu.Unlock()
			continue
		}
		reg.mu.Unlock()

		err := fn(r)

		reg.mu.Lock()
		if len(r.participants) == 0 {
			delete(reg.rooms, roomID)
		}
		reg.mu.Unlock()
		r.mu.Unlock()
		return err
	}
}

// Exists reports whether a room is currently in the table.
func (reg *Registry) Exists(roomID string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	_, ok := reg.rooms[roomID]
	return ok
}

// Snapshot returns a copy of all rooms and their membership for diagnostics.
func (reg *Registry) Snapshot() map[string][]Participant {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.Unlock()

	out := make(map[string][]Participant, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		ps := make([]Participant, 0, len(r.participants))
		for _, p := range r.participants {
			ps = append(ps, *p)
		}
		r.mu.Unlock()
		out[r.ID] = ps
	}
	return out
}

// Coin returns a uniformly random boolean for first-seat color assignment.
func Coin() bool {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	if err != nil {
		return true
	}
	return n.Int64() == 0
}
