// Package rules adapts the chess legality engine behind a small surface: replay
// a persisted move list, apply a candidate move, and inspect the outcome. The
// coordinator never touches the underlying library directly.
package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/chess-arena-server/internal/game"
)

// ErrIllegalMove marks a move rejected by the legality engine.
var ErrIllegalMove = errors.New("illegal move")

// Position is a reconstructed game state ready for queries and move application.
type Position struct {
	g *nchess.Game
}

// Replay rebuilds a position from the start by applying the stored notations in
// order. Moves are accepted in UCI or SAN form; persisted history is SAN.
func Replay(moves []string) (*Position, error) {
	g := nchess.NewGame()
	for i, m := range moves {
		if err := push(g, m); err != nil {
			return nil, fmt.Errorf("replay move %d %q: %w", i+1, m, err)
		}
	}
	return &Position{g: g}, nil
}

func push(g *nchess.Game, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrIllegalMove
	}
	pos := g.Position()
	if mv, err := (nchess.UCINotation{}).Decode(pos, strings.ToLower(raw)); err == nil {
		return g.Move(mv, nil)
	}
	return g.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil)
}

// FEN returns the canonical position string.
func (p *Position) FEN() string {
	return p.g.FEN()
}

// SideToMove returns the color whose turn it is.
func (p *Position) SideToMove() game.Color {
	if p.g.Position().Turn() == nchess.White {
		return game.White
	}
	return game.Black
}

// Apply validates raw against the current position, plays it, and returns the
// canonical SAN notation. The position is unchanged when ErrIllegalMove is
// returned.
func (p *Position) Apply(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrIllegalMove
	}
	pos := p.g.Position()
	if mv, err := (nchess.UCINotation{}).Decode(pos, strings.ToLower(raw)); err == nil {
		if err := p.g.Move(mv, nil); err != nil {
			return "", ErrIllegalMove
		}
		return nchess.AlgebraicNotation{}.Encode(pos, mv), nil
	}
	if err := p.g.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil); err != nil {
		return "", ErrIllegalMove
	}
	moves := p.g.Moves()
	if len(moves) == 0 {
		return "", ErrIllegalMove
	}
	return nchess.AlgebraicNotation{}.Encode(pos, moves[len(moves)-1]), nil
}

// Result describes whether and how the game on the board has ended. Method is
// the lowercased termination name, e.g. "checkmate" or "stalemate".
type Result struct {
	Over   bool
	Drawn  bool
	Winner game.Color
	Method string
}

// Result inspects the current outcome: checkmate yields the winning side,
// stalemate and the automatic draw rules yield Drawn.
func (p *Position) Result() Result {
	method := strings.ToLower(p.g.Method().String())
	switch p.g.Outcome() {
	case nchess.WhiteWon:
		return Result{Over: true, Winner: game.White, Method: method}
	case nchess.BlackWon:
		return Result{Over: true, Winner: game.Black, Method: method}
	case nchess.Draw:
		return Result{Over: true, Drawn: true, Method: method}
	}
	return Result{}
}
