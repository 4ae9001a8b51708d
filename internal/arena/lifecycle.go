package arena

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena-server/internal/clock"
	"github.com/park285/chess-arena-server/internal/game"
	"github.com/park285/chess-arena-server/internal/obslog"
	"github.com/park285/chess-arena-server/internal/room"
	"github.com/park285/chess-arena-server/pkg/wire"
)

// handleResign ends the session in the opponent's favor. The request is only
// honored when the submitting user is actually seated in the game.
func (c *Coordinator) handleResign(ctx context.Context, connID string, req wire.ResignRequest) {
	if req.RoomID == "" || req.GameID == "" || req.UserID == "" {
		c.sendErrorKey(connID, "resign.missing_fields")
		return
	}

	err := c.rooms.WithRoom(req.RoomID, func(r *room.Room) error {
		sess, err := c.store.Load(ctx, req.GameID)
		if errors.Is(err, game.ErrNotFound) {
			c.sendErrorKey(connID, "resign.game_not_found")
			return nil
		}
		if err != nil {
			return err
		}
		if !sess.HasPlayer(req.UserID) {
			c.sendErrorKey(connID, "resign.not_a_player")
			return nil
		}
		if sess.Status.Terminal() {
			return nil
		}

		sess.Status = game.StatusFinished
		sess.Winner = sess.OpponentOf(req.UserID)
		sess.WhiteTimeLeft = clock.Clamp(sess.WhiteTimeLeft)
		sess.BlackTimeLeft = clock.Clamp(sess.BlackTimeLeft)
		sess.UpdatedAt = c.now()

		if err := c.store.Save(ctx, sess); err != nil {
			c.sendErrorKey(connID, "generic.persist_failed")
			return err
		}
		c.archiveResult(sess, "resignation")

		over := wire.GameOver{Reason: "resignation", Winner: sess.Winner, GameID: sess.ID}
		for _, p := range r.Participants() {
			c.send(p.ConnID, wire.TypeGameOver, over)
		}
		obslog.L().Info("game_resigned",
			zap.String("game_id", sess.ID),
			zap.String("resigner", req.UserID),
		)
		return nil
	})
	if err != nil {
		obslog.L().Error("resign_failed",
			zap.String("conn_id", connID),
			zap.String("game_id", req.GameID),
			zap.Error(err),
		)
		c.sendErrorKey(connID, "resign.failed")
	}
}

// handleDrawRelay forwards a draw offer or decline to the other participant.
// No session state changes until an accept arrives.
func (c *Coordinator) handleDrawRelay(connID, eventType string, req wire.DrawRequest) {
	if req.RoomID == "" {
		c.sendErrorKey(connID, "draw.missing_fields")
		return
	}
	_ = c.rooms.WithRoom(req.RoomID, func(r *room.Room) error {
		for _, p := range r.Others(connID) {
			c.send(p.ConnID, eventType, req)
		}
		return nil
	})
}

// handleDrawAccept finalizes the session as a draw by agreement.
func (c *Coordinator) handleDrawAccept(ctx context.Context, connID string, req wire.DrawRequest) {
	if req.RoomID == "" || req.GameID == "" {
		c.sendErrorKey(connID, "draw.missing_fields")
		return
	}

	err := c.rooms.WithRoom(req.RoomID, func(r *room.Room) error {
		sess, err := c.store.Load(ctx, req.GameID)
		if errors.Is(err, game.ErrNotFound) {
			c.sendErrorKey(connID, "draw.game_not_found")
			return nil
		}
		if err != nil {
			return err
		}
		if sess.Status.Terminal() {
			return nil
		}

		sess.Status = game.StatusDraw
		sess.Winner = ""
		sess.WhiteTimeLeft = clock.Clamp(sess.WhiteTimeLeft)
		sess.BlackTimeLeft = clock.Clamp(sess.BlackTimeLeft)
		sess.UpdatedAt = c.now()

		if err := c.store.Save(ctx, sess); err != nil {
			c.sendErrorKey(connID, "generic.persist_failed")
			return err
		}
		c.archiveResult(sess, "agreement")

		over := wire.GameOver{Reason: "agreement", GameID: sess.ID}
		for _, p := range r.Participants() {
			c.send(p.ConnID, wire.TypeGameOver, over)
		}
		obslog.L().Info("game_drawn", zap.String("game_id", sess.ID))
		return nil
	})
	if err != nil {
		obslog.L().Error("draw_accept_failed",
			zap.String("conn_id", connID),
			zap.String("game_id", req.GameID),
			zap.Error(err),
		)
		c.sendErrorKey(connID, "draw.accept_failed")
	}
}

// handleChat relays a chat line to the other participant, stamping the send
// time when the client left it empty.
func (c *Coordinator) handleChat(connID string, msg wire.ChatMessage) {
	roomID := msg.RoomID
	if roomID == "" {
		if st, ok := c.stateFor(connID); ok {
			roomID = st.roomID
		}
	}
	if roomID == "" || msg.Message == "" {
		return
	}
	if msg.Time == "" {
		msg.Time = c.now().Format(time.RFC3339)
	}
	_ = c.rooms.WithRoom(roomID, func(r *room.Room) error {
		for _, p := range r.Others(connID) {
			c.send(p.ConnID, wire.TypeChatMessage, msg)
		}
		return nil
	})
}

// HandleDisconnect unseats the connection and tells the remaining peer. The
// session itself is untouched; the player can rejoin the room to resume.
func (c *Coordinator) HandleDisconnect(connID string) {
	c.mu.Lock()
	st, ok := c.conns[connID]
	delete(c.conns, connID)
	c.mu.Unlock()
	if !ok {
		return
	}

	_ = c.rooms.WithRoom(st.roomID, func(r *room.Room) error {
		if r.RemoveConn(connID) == nil {
			return nil
		}
		for _, p := range r.Participants() {
			c.send(p.ConnID, wire.TypePeerDisconnected, wire.PeerDisconnected{PeerID: connID})
		}
		return nil
	})
	obslog.L().Info("player_left",
		zap.String("conn_id", connID),
		zap.String("room_id", st.roomID),
		zap.String("user_id", st.userID),
	)
}
