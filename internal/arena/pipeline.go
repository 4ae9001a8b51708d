package arena

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena-server/internal/analysis"
	"github.com/park285/chess-arena-server/internal/clock"
	"github.com/park285/chess-arena-server/internal/game"
	"github.com/park285/chess-arena-server/internal/obslog"
	"github.com/park285/chess-arena-server/internal/room"
	"github.com/park285/chess-arena-server/internal/rules"
	"github.com/park285/chess-arena-server/pkg/wire"
)

// handleMove runs the full pipeline for one candidate move: charge the clock,
// finalize on timeout, validate legality against the replayed position, score
// quality, detect the outcome, persist, and broadcast. The room mutex is held
// for the whole pipeline so two submissions for the same game never interleave.
func (c *Coordinator) handleMove(ctx context.Context, connID string, req wire.SubmitMoveRequest) {
	if req.Move == "" || req.GameID == "" || req.UserID == "" || req.RoomID == "" {
		c.rejectMove(connID, "move.missing_fields")
		return
	}

	err := c.rooms.WithRoom(req.RoomID, func(r *room.Room) error {
		sess, err := c.store.Load(ctx, req.GameID)
		if errors.Is(err, game.ErrNotFound) {
			c.rejectMove(connID, "move.game_not_found")
			return nil
		}
		if err != nil {
			return err
		}
		if sess.Status.Terminal() {
			c.rejectMove(connID, "move.not_active")
			return nil
		}

		// Charge the side to move for the wall clock since the last accepted
		// move, no matter who submitted this frame.
		now := c.now()
		remaining := c.chargeTurnClock(sess, now)
		if clock.Expired(remaining) {
			return c.finalizeTimeout(ctx, r, sess, now)
		}
		c.setTurnClock(sess, remaining)
		sess.LastMoveTimestamp = now.UnixMilli()
		sess.Turn = sess.Turn.Opponent()

		pos, err := rules.Replay(sess.Moves)
		if err != nil {
			obslog.L().Error("replay_failed",
				zap.String("game_id", sess.ID),
				zap.Error(err),
			)
			c.rejectMove(connID, "move.server_error")
			return nil
		}

		moverColor, seated := c.moverColor(sess, req.UserID)
		if !seated || pos.SideToMove() != moverColor {
			c.rejectMove(connID, "move.not_your_turn")
			return nil
		}

		beforeFEN := pos.FEN()
		san, err := pos.Apply(req.Move)
		if err != nil {
			c.rejectMove(connID, "move.illegal")
			return nil
		}
		afterFEN := pos.FEN()
		sess.Moves = append(sess.Moves, san)

		if c.analyzer != nil && !c.cfg.AnalysisAsync {
			quality, _ := c.analyzer.AnalyzeMove(ctx, beforeFEN, afterFEN)
			sess.BumpQuality(string(quality), moverColor)
		}

		res := pos.Result()
		method := ""
		if res.Over {
			method = res.Method
			if res.Drawn {
				sess.Status = game.StatusDraw
			} else {
				sess.Status = game.StatusFinished
				sess.Winner = sess.PlayerFor(res.Winner)
			}
			sess.WhiteTimeLeft = clock.Clamp(sess.WhiteTimeLeft)
			sess.BlackTimeLeft = clock.Clamp(sess.BlackTimeLeft)
		}

		sess.UpdatedAt = now
		if err := c.store.Save(ctx, sess); err != nil {
			obslog.L().Error("move_save_failed",
				zap.String("game_id", sess.ID),
				zap.Error(err),
			)
			c.rejectMove(connID, "generic.persist_failed")
			return nil
		}
		if res.Over {
			c.archiveResult(sess, method)
		}

		applied := wire.MoveApplied{
			Move:          san,
			FEN:           afterFEN,
			GameStatus:    string(sess.Status),
			Winner:        sess.Winner,
			AllMoves:      append([]string(nil), sess.Moves...),
			WhiteTimeLeft: sess.WhiteTimeLeft,
			BlackTimeLeft: sess.BlackTimeLeft,
		}
		for _, p := range r.Participants() {
			c.send(p.ConnID, wire.TypeMoveApplied, applied)
		}

		if c.analyzer != nil && c.cfg.AnalysisAsync {
			go c.scoreMoveAsync(req.RoomID, sess.ID, beforeFEN, afterFEN, moverColor)
		}
		return nil
	})
	if err != nil {
		obslog.L().Error("move_pipeline_failed",
			zap.String("conn_id", connID),
			zap.String("game_id", req.GameID),
			zap.Error(err),
		)
		c.rejectMove(connID, "move.server_error")
	}
}

// finalizeTimeout ends the session in favor of the opponent of the side whose
// flag fell. The submitted move, if any, is discarded.
func (c *Coordinator) finalizeTimeout(ctx context.Context, r *room.Room, sess *game.Session, now time.Time) error {
	loser := sess.Turn
	c.setTurnClock(sess, 0)
	sess.Status = game.StatusFinished
	sess.Winner = sess.PlayerFor(loser.Opponent())
	sess.WhiteTimeLeft = clock.Clamp(sess.WhiteTimeLeft)
	sess.BlackTimeLeft = clock.Clamp(sess.BlackTimeLeft)
	sess.UpdatedAt = now

	if err := c.store.Save(ctx, sess); err != nil {
		return err
	}
	c.archiveResult(sess, "timeout")

	over := wire.GameOver{Reason: "timeout", Winner: sess.Winner, GameID: sess.ID}
	for _, p := range r.Participants() {
		c.send(p.ConnID, wire.TypeGameOver, over)
	}
	obslog.L().Info("game_timeout",
		zap.String("game_id", sess.ID),
		zap.String("winner", sess.Winner),
	)
	return nil
}

// scoreMoveAsync evaluates the move off the pipeline and folds the quality
// counter into the session under the room mutex, re-reading the record so a
// concurrent pipeline write is never clobbered.
func (c *Coordinator) scoreMoveAsync(roomID, gameID, beforeFEN, afterFEN string, mover game.Color) {
	ctx := context.Background()
	quality, _ := c.analyzer.AnalyzeMove(ctx, beforeFEN, afterFEN)
	if quality == "" || quality == analysis.QualityUnknown {
		return
	}

	err := c.rooms.WithRoom(roomID, func(*room.Room) error {
		sess, err := c.store.Load(ctx, gameID)
		if err != nil {
			return err
		}
		sess.BumpQuality(string(quality), mover)
		return c.store.Save(ctx, sess)
	})
	if err != nil {
		obslog.L().Warn("async_quality_save_failed",
			zap.String("game_id", gameID),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) chargeTurnClock(sess *game.Session, now time.Time) int {
	if sess.Turn == game.White {
		return clock.Charge(sess.WhiteTimeLeft, sess.LastMoveTimestamp, now)
	}
	return clock.Charge(sess.BlackTimeLeft, sess.LastMoveTimestamp, now)
}

func (c *Coordinator) setTurnClock(sess *game.Session, remaining int) {
	if sess.Turn == game.White {
		sess.WhiteTimeLeft = remaining
	} else {
		sess.BlackTimeLeft = remaining
	}
}

func (c *Coordinator) moverColor(sess *game.Session, userID string) (game.Color, bool) {
	switch userID {
	case sess.PlayerWhite:
		return game.White, true
	case sess.PlayerBlack:
		return game.Black, true
	}
	return "", false
}

// archiveResult writes the terminal record off the pipeline's critical path.
// Archive trouble is logged and never surfaced to players.
func (c *Coordinator) archiveResult(sess *game.Session, method string) {
	if c.archive == nil {
		return
	}
	snapshot := *sess
	snapshot.Moves = append([]string(nil), sess.Moves...)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.archive.SaveResult(ctx, &snapshot, method); err != nil {
			obslog.L().Warn("archive_failed",
				zap.String("game_id", snapshot.ID),
				zap.String("method", method),
				zap.Error(err),
			)
		}
	}()
}
