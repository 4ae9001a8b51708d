// Package game holds the durable session model and its persistence boundary.
package game

import "time"

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Status represents a session lifecycle state. Transitions are one-directional:
// onGoing moves to finished or draw and never back.
type Status string

const (
	StatusOnGoing  Status = "onGoing"
	StatusFinished Status = "finished"
	StatusDraw     Status = "draw"
	StatusNoResult Status = "noResult"
)

// Terminal reports whether no further moves are accepted in this state.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusDraw
}

// SideCount is a per-color counter pair.
type SideCount struct {
	White int `json:"playerWhite"`
	Black int `json:"playerBlack"`
}

func (sc *SideCount) bump(c Color) {
	if c == White {
		sc.White++
	} else {
		sc.Black++
	}
}

// Session is the authoritative, persisted record of one game between two users.
// Moves is an append-only list of SAN notations; replaying it through the rules
// adapter reproduces the current position and side to move.
type Session struct {
	ID          string `json:"id"`
	PlayerWhite string `json:"playerWhite"`
	PlayerBlack string `json:"playerBlack"`

	Moves  []string `json:"moves"`
	Status Status   `json:"status"`
	Winner string   `json:"winner,omitempty"`

	WhiteTimeLeft int   `json:"whiteTimeLeft"`
	BlackTimeLeft int   `json:"blackTimeLeft"`
	Turn          Color `json:"turn"`
	// LastMoveTimestamp is unix milliseconds of the previous accepted move.
	LastMoveTimestamp int64 `json:"lastMoveTimestamp"`

	Brilliant  SideCount `json:"brilliant"`
	Best       SideCount `json:"best"`
	Good       SideCount `json:"good"`
	Inaccurate SideCount `json:"inaccurate"`
	Mistake    SideCount `json:"mistake"`
	Blunder    SideCount `json:"blunder"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasPlayer reports whether userID is one of the two seated players.
func (s *Session) HasPlayer(userID string) bool {
	return userID != "" && (s.PlayerWhite == userID || s.PlayerBlack == userID)
}

// PlayerFor returns the user identifier seated on the given side.
func (s *Session) PlayerFor(c Color) string {
	if c == White {
		return s.PlayerWhite
	}
	return s.PlayerBlack
}

// OpponentOf returns the user identifier on the opposite side from userID,
// or the empty string when userID is not seated.
func (s *Session) OpponentOf(userID string) string {
	switch userID {
	case s.PlayerWhite:
		return s.PlayerBlack
	case s.PlayerBlack:
		return s.PlayerWhite
	}
	return ""
}

// BumpQuality increments the counter matching a move-quality label for the
// mover's color. Unrecognized labels (including "Unknown") are ignored.
func (s *Session) BumpQuality(label string, c Color) {
	switch label {
	case "Brilliant":
		s.Brilliant.bump(c)
	case "Best":
		s.Best.bump(c)
	case "Good":
		s.Good.bump(c)
	case "Inaccurate":
		s.Inaccurate.bump(c)
	case "Mistake":
		s.Mistake.bump(c)
	case "Blunder":
		s.Blunder.bump(c)
	}
}
