package game

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Archive writes terminal sessions to Postgres for the history and statistics
// consumers outside the coordinator.
type Archive struct {
	db *sql.DB
}

func NewArchive(databaseURL string) (*Archive, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// SaveResult upserts a finished or drawn session. Method names how the game
// ended: checkmate, stalemate, timeout, resignation, or agreement.
func (a *Archive) SaveResult(ctx context.Context, s *Session, method string) error {
	if a == nil || a.db == nil || s == nil {
		return nil
	}
	if !s.Status.Terminal() {
		return nil
	}

	result := ""
	switch {
	case s.Status == StatusDraw:
		result = "draw"
	case s.Winner == s.PlayerWhite:
		result = "white"
	case s.Winner == s.PlayerBlack:
		result = "black"
	}
	pgnResult := mapResultToPGN(result)
	pgn := buildPGN(s, pgnResult, method)

	movesRaw, _ := json.Marshal(s.Moves)
	qualityRaw, _ := json.Marshal(map[string]SideCount{
		"brilliant":  s.Brilliant,
		"best":       s.Best,
		"good":       s.Good,
		"inaccurate": s.Inaccurate,
		"mistake":    s.Mistake,
		"blunder":    s.Blunder,
	})
	duration := s.UpdatedAt.Sub(s.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO arena_games (
	    game_id, white_id, black_id,
	    result, result_method, winner_id,
	    moves_san, quality, pgn,
	    white_time_left, black_time_left,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
	  ) ON CONFLICT (game_id) DO UPDATE SET
	    result=EXCLUDED.result,
	    result_method=EXCLUDED.result_method,
	    winner_id=EXCLUDED.winner_id,
	    moves_san=EXCLUDED.moves_san,
	    quality=EXCLUDED.quality,
	    pgn=EXCLUDED.pgn,
	    white_time_left=EXCLUDED.white_time_left,
	    black_time_left=EXCLUDED.black_time_left,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := a.db.ExecContext(ctx, q,
		s.ID,
		s.PlayerWhite, s.PlayerBlack,
		result, strings.TrimSpace(method), s.Winner,
		string(movesRaw), string(qualityRaw), pgn,
		s.WhiteTimeLeft, s.BlackTimeLeft,
		s.CreatedAt, s.UpdatedAt, duration,
	)
	return err
}

func mapResultToPGN(result string) string {
	switch result {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	case "draw":
		return "1/2-1/2"
	default:
		return "*"
	}
}

func buildPGN(s *Session, pgnResult, method string) string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	date := s.UpdatedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Arena\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(s.PlayerWhite)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(s.PlayerBlack)))
	if strings.TrimSpace(method) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(method))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i := 0; i < len(s.Moves); i += 2 {
		turn := (i / 2) + 1
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(s.Moves[i])))
		if i+1 < len(s.Moves) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(s.Moves[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
