// Package arena is the session coordinator: it pairs connections into rooms,
// runs the move pipeline against the authoritative session record, and relays
// signaling frames between peers. All room-scoped work runs under the room's
// mutex so concurrent frames for the same room are strictly serialized.
package arena

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/chess-arena-server/internal/analysis"
	"github.com/park285/chess-arena-server/internal/game"
	"github.com/park285/chess-arena-server/internal/msgcat"
	"github.com/park285/chess-arena-server/internal/obslog"
	"github.com/park285/chess-arena-server/internal/room"
	"github.com/park285/chess-arena-server/internal/rules"
	"github.com/park285/chess-arena-server/pkg/wire"
)

// Sender delivers an envelope to a single connection. The websocket hub
// implements it.
type Sender interface {
	SendTo(connID string, env wire.Envelope) bool
}

// MoveAnalyzer scores the quality of a move from the positions around it.
type MoveAnalyzer interface {
	AnalyzeMove(ctx context.Context, beforeFEN, afterFEN string) (analysis.Quality, int)
}

// Archiver records terminal sessions outside the hot path. A nil Archiver
// disables archiving.
type Archiver interface {
	SaveResult(ctx context.Context, s *game.Session, method string) error
}

// Config carries the coordinator's tunables.
type Config struct {
	// StartClockSeconds is each side's budget for a fresh session.
	StartClockSeconds int
	// AnalysisAsync moves quality scoring off the move pipeline; the applied
	// move is broadcast immediately and counters land on a later save.
	AnalysisAsync bool
}

// connState remembers which room and user a connection joined as.
type connState struct {
	roomID string
	userID string
}

// Coordinator implements ws.Handler. One instance serves all rooms.
type Coordinator struct {
	cfg      Config
	rooms    *room.Registry
	store    game.Store
	archive  Archiver
	analyzer MoveAnalyzer
	sender   Sender
	cat      *msgcat.Catalog

	// injectable for tests
	now  func() time.Time
	coin func() bool

	mu    sync.Mutex
	conns map[string]connState
}

func NewCoordinator(cfg Config, rooms *room.Registry, store game.Store, archive Archiver, analyzer MoveAnalyzer, sender Sender, cat *msgcat.Catalog) *Coordinator {
	if cfg.StartClockSeconds <= 0 {
		cfg.StartClockSeconds = 600
	}
	return &Coordinator{
		cfg:      cfg,
		rooms:    rooms,
		store:    store,
		archive:  archive,
		analyzer: analyzer,
		sender:   sender,
		cat:      cat,
		now:      time.Now,
		coin:     room.Coin,
		conns:    make(map[string]connState),
	}
}

// HandleMessage dispatches one inbound frame. Payload decode failures are
// reported back on the connection and never crash the dispatcher.
func (c *Coordinator) HandleMessage(connID string, env wire.Envelope) {
	ctx := context.Background()

	switch env.Type {
	case wire.TypeJoinRoom:
		var req wire.JoinRoomRequest
		if err := env.Decode(&req); err != nil {
			c.sendErrorKey(connID, "generic.bad_payload")
			return
		}
		c.handleJoin(ctx, connID, req)

	case wire.TypeSubmitMove:
		var req wire.SubmitMoveRequest
		if err := env.Decode(&req); err != nil {
			c.sendErrorKey(connID, "generic.bad_payload")
			return
		}
		c.handleMove(ctx, connID, req)

	case wire.TypeResign:
		var req wire.ResignRequest
		if err := env.Decode(&req); err != nil {
			c.sendErrorKey(connID, "generic.bad_payload")
			return
		}
		c.handleResign(ctx, connID, req)

	case wire.TypeDrawOffer, wire.TypeDrawDecline:
		var req wire.DrawRequest
		if err := env.Decode(&req); err != nil {
			c.sendErrorKey(connID, "generic.bad_payload")
			return
		}
		c.handleDrawRelay(connID, env.Type, req)

	case wire.TypeDrawAccept:
		var req wire.DrawRequest
		if err := env.Decode(&req); err != nil {
			c.sendErrorKey(connID, "generic.bad_payload")
			return
		}
		c.handleDrawAccept(ctx, connID, req)

	case wire.TypeChatMessage:
		var msg wire.ChatMessage
		if err := env.Decode(&msg); err != nil {
			c.sendErrorKey(connID, "generic.bad_payload")
			return
		}
		c.handleChat(connID, msg)

	case wire.TypeCallOffer, wire.TypeCallAnswer, wire.TypeICECandidate,
		wire.TypeReconnectRequest, wire.TypeEndCall:
		var sig wire.Signal
		if err := env.Decode(&sig); err != nil {
			c.sendErrorKey(connID, "generic.bad_payload")
			return
		}
		c.handleSignal(connID, env.Type, sig)

	default:
		obslog.L().Debug("unknown_event",
			zap.String("conn_id", connID),
			zap.String("type", env.Type),
		)
	}
}

// handleJoin seats the connection and, once the room reaches capacity, resumes
// or creates the pair's session and pushes a synchronized snapshot to both.
func (c *Coordinator) handleJoin(ctx context.Context, connID string, req wire.JoinRoomRequest) {
	if req.UserID == "" || req.RoomID == "" {
		c.sendErrorKey(connID, "join.missing_fields")
		return
	}

	err := c.rooms.WithRoom(req.RoomID, func(r *room.Room) error {
		p, err := r.Join(connID, req.UserID, req.Color, c.coin)
		if err != nil {
			c.sendJoinError(connID, req.Color, err)
			return nil
		}

		c.mu.Lock()
		c.conns[connID] = connState{roomID: req.RoomID, userID: req.UserID}
		c.mu.Unlock()

		c.send(connID, wire.TypeColorAssigned, wire.ColorAssigned{Color: string(p.Color)})
		for _, other := range r.Others(connID) {
			c.send(other.ConnID, wire.TypePlayerJoined, wire.PlayerJoined{
				UserID: p.UserID,
				Color:  string(p.Color),
			})
		}

		if r.Size() < room.MaxParticipants {
			return nil
		}
		return c.pairRoom(ctx, r)
	})
	if err != nil {
		obslog.L().Error("join_failed",
			zap.String("conn_id", connID),
			zap.String("room_id", req.RoomID),
			zap.Error(err),
		)
		c.sendErrorKey(connID, "join.setup_failed")
	}
}

// pairRoom runs with the room mutex held and both seats filled. An onGoing
// session between the pair is resumed with its original color orientation;
// otherwise a fresh session is created from the seated colors.
func (c *Coordinator) pairRoom(ctx context.Context, r *room.Room) error {
	parts := r.Participants()
	first, second := parts[0], parts[1]

	sess, err := c.store.FindOnGoingByPair(ctx, first.UserID, second.UserID)
	if err != nil {
		return err
	}

	if sess != nil {
		// Resumed session wins over seat colors.
		for _, p := range parts {
			prev := p.Color
			if sess.PlayerWhite == p.UserID {
				p.Color = game.White
			} else {
				p.Color = game.Black
			}
			if p.Color != prev {
				c.send(p.ConnID, wire.TypeColorAssigned, wire.ColorAssigned{Color: string(p.Color)})
			}
		}
	} else {
		white := r.ByColor(game.White)
		black := r.ByColor(game.Black)
		now := c.now()
		sess = &game.Session{
			ID:                uuid.NewString(),
			PlayerWhite:       white.UserID,
			PlayerBlack:       black.UserID,
			Status:            game.StatusOnGoing,
			WhiteTimeLeft:     c.cfg.StartClockSeconds,
			BlackTimeLeft:     c.cfg.StartClockSeconds,
			Turn:              game.White,
			LastMoveTimestamp: now.UnixMilli(),
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := c.store.Create(ctx, sess); err != nil {
			return err
		}
	}

	pos, err := rules.Replay(sess.Moves)
	if err != nil {
		return err
	}
	fen := pos.FEN()

	// The first-seated participant initiates the peer call.
	for i, p := range parts {
		opp := parts[1-i]
		c.send(p.ConnID, wire.TypeBothJoined, wire.BothJoined{
			GameID:             sess.ID,
			Moves:              append([]string(nil), sess.Moves...),
			FEN:                fen,
			OpponentConnID:     opp.ConnID,
			OpponentUserID:     opp.UserID,
			OpponentColor:      string(opp.Color),
			WhiteTimeLeft:      sess.WhiteTimeLeft,
			BlackTimeLeft:      sess.BlackTimeLeft,
			ShouldInitiateCall: i == 0,
		})
	}

	obslog.L().Info("room_paired",
		zap.String("room_id", r.ID),
		zap.String("game_id", sess.ID),
		zap.Int("moves", len(sess.Moves)),
	)
	return nil
}

func (c *Coordinator) sendJoinError(connID, requestedColor string, err error) {
	switch err {
	case room.ErrAlreadyJoined:
		c.sendErrorKey(connID, "join.already_in_room")
	case room.ErrRoomFull:
		c.sendErrorKey(connID, "join.room_full")
	case room.ErrColorTaken:
		c.sendError(connID, c.cat.MustRender("join.color_taken", map[string]string{"Color": requestedColor}))
	case room.ErrInvalidColor:
		c.sendErrorKey(connID, "join.invalid_color")
	default:
		c.sendErrorKey(connID, "join.setup_failed")
	}
}

// stateFor returns the remembered room/user binding for a connection.
func (c *Coordinator) stateFor(connID string) (connState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.conns[connID]
	return st, ok
}

func (c *Coordinator) send(connID, eventType string, payload any) {
	env, err := wire.NewEnvelope(eventType, payload)
	if err != nil {
		obslog.L().Error("envelope_marshal", zap.String("type", eventType), zap.Error(err))
		return
	}
	c.sender.SendTo(connID, env)
}

func (c *Coordinator) sendError(connID, message string) {
	c.send(connID, wire.TypeError, wire.ErrorMessage{Message: message})
}

func (c *Coordinator) sendErrorKey(connID, key string) {
	c.sendError(connID, c.cat.MustRender(key, nil))
}

func (c *Coordinator) rejectMove(connID, key string) {
	c.send(connID, wire.TypeMoveRejected, wire.MoveRejected{Error: c.cat.MustRender(key, nil)})
}
