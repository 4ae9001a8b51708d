package arena

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/park285/chess-arena-server/internal/analysis"
	"github.com/park285/chess-arena-server/internal/game"
	"github.com/park285/chess-arena-server/internal/msgcat"
	"github.com/park285/chess-arena-server/internal/room"
	"github.com/park285/chess-arena-server/pkg/wire"
)

// recordingSender captures every envelope per connection for assertions.
type recordingSender struct {
	mu     sync.Mutex
	frames map[string][]wire.Envelope
}

func newRecordingSender() *recordingSender {
	return &recordingSender{frames: make(map[string][]wire.Envelope)}
}

func (s *recordingSender) SendTo(connID string, env wire.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[connID] = append(s.frames[connID], env)
	return true
}

func (s *recordingSender) byType(connID, eventType string) []wire.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wire.Envelope
	for _, env := range s.frames[connID] {
		if env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}

func (s *recordingSender) last(t *testing.T, connID, eventType string) wire.Envelope {
	t.Helper()
	envs := s.byType(connID, eventType)
	if len(envs) == 0 {
		t.Fatalf("no %q frame delivered to %s", eventType, connID)
	}
	return envs[len(envs)-1]
}

type stubAnalyzer struct {
	quality analysis.Quality
	loss    int
}

func (a *stubAnalyzer) AnalyzeMove(context.Context, string, string) (analysis.Quality, int) {
	return a.quality, a.loss
}

type harness struct {
	c      *Coordinator
	sender *recordingSender
	store  game.Store
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := game.NewRedisStore(fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat.New: %v", err)
	}

	h := &harness{
		sender: newRecordingSender(),
		store:  store,
		now:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	h.c = NewCoordinator(
		Config{StartClockSeconds: 600},
		room.NewRegistry(),
		store,
		nil,
		&stubAnalyzer{quality: analysis.QualityBest},
		h.sender,
		cat,
	)
	h.c.now = func() time.Time { return h.now }
	// first seat deterministically receives white
	h.c.coin = func() bool { return true }
	return h
}

func (h *harness) dispatch(t *testing.T, connID, eventType string, payload any) {
	t.Helper()
	env, err := wire.NewEnvelope(eventType, payload)
	if err != nil {
		t.Fatalf("NewEnvelope(%s): %v", eventType, err)
	}
	h.c.HandleMessage(connID, env)
}

func (h *harness) join(t *testing.T, connID, userID, roomID, color string) {
	t.Helper()
	h.dispatch(t, connID, wire.TypeJoinRoom, wire.JoinRoomRequest{UserID: userID, RoomID: roomID, Color: color})
}

// pair seats alice (white, conn s1) and bob (black, conn s2) in room r1 and
// returns the created game id.
func (h *harness) pair(t *testing.T) string {
	t.Helper()
	h.join(t, "s1", "alice", "r1", "")
	h.join(t, "s2", "bob", "r1", "")

	var both wire.BothJoined
	decode(t, h.sender.last(t, "s1", wire.TypeBothJoined), &both)
	if both.GameID == "" {
		t.Fatalf("expected game id in both-joined")
	}
	return both.GameID
}

func (h *harness) move(t *testing.T, connID, userID, gameID, mv string) {
	t.Helper()
	h.dispatch(t, connID, wire.TypeSubmitMove, wire.SubmitMoveRequest{
		Move: mv, GameID: gameID, UserID: userID, RoomID: "r1",
	})
}

func (h *harness) session(t *testing.T, gameID string) *game.Session {
	t.Helper()
	sess, err := h.store.Load(context.Background(), gameID)
	if err != nil {
		t.Fatalf("Load(%s): %v", gameID, err)
	}
	return sess
}

func decode(t *testing.T, env wire.Envelope, v any) {
	t.Helper()
	if err := env.Decode(v); err != nil {
		t.Fatalf("decode %s: %v", env.Type, err)
	}
}

func TestJoinAssignsColorsAndPairs(t *testing.T) {
	h := newHarness(t)
	h.join(t, "s1", "alice", "r1", "")

	var assigned wire.ColorAssigned
	decode(t, h.sender.last(t, "s1", wire.TypeColorAssigned), &assigned)
	if assigned.Color != "white" {
		t.Fatalf("expected first seat white, got %q", assigned.Color)
	}

	h.join(t, "s2", "bob", "r1", "")
	decode(t, h.sender.last(t, "s2", wire.TypeColorAssigned), &assigned)
	if assigned.Color != "black" {
		t.Fatalf("expected second seat black, got %q", assigned.Color)
	}

	var joined wire.PlayerJoined
	decode(t, h.sender.last(t, "s1", wire.TypePlayerJoined), &joined)
	if joined.UserID != "bob" || joined.Color != "black" {
		t.Fatalf("unexpected player-joined: %+v", joined)
	}

	var b1, b2 wire.BothJoined
	decode(t, h.sender.last(t, "s1", wire.TypeBothJoined), &b1)
	decode(t, h.sender.last(t, "s2", wire.TypeBothJoined), &b2)

	if b1.GameID == "" || b1.GameID != b2.GameID {
		t.Fatalf("game id mismatch: %q vs %q", b1.GameID, b2.GameID)
	}
	if b1.OpponentConnID != "s2" || b1.OpponentUserID != "bob" || b1.OpponentColor != "black" {
		t.Fatalf("unexpected opponent info for s1: %+v", b1)
	}
	if b2.OpponentConnID != "s1" || b2.OpponentUserID != "alice" || b2.OpponentColor != "white" {
		t.Fatalf("unexpected opponent info for s2: %+v", b2)
	}
	if !b1.ShouldInitiateCall || b2.ShouldInitiateCall {
		t.Fatalf("expected only the first seat to initiate the call")
	}
	if b1.WhiteTimeLeft != 600 || b1.BlackTimeLeft != 600 {
		t.Fatalf("unexpected clocks: %d/%d", b1.WhiteTimeLeft, b1.BlackTimeLeft)
	}

	sess := h.session(t, b1.GameID)
	if sess.PlayerWhite != "alice" || sess.PlayerBlack != "bob" {
		t.Fatalf("unexpected seating: white=%q black=%q", sess.PlayerWhite, sess.PlayerBlack)
	}
	if sess.Status != game.StatusOnGoing || sess.Turn != game.White {
		t.Fatalf("unexpected fresh session state: %+v", sess)
	}
}

func TestJoinDuplicateUserRejected(t *testing.T) {
	h := newHarness(t)
	h.join(t, "s1", "alice", "r1", "")
	h.join(t, "s1b", "alice", "r1", "")

	var e wire.ErrorMessage
	decode(t, h.sender.last(t, "s1b", wire.TypeError), &e)
	if !strings.Contains(e.Message, "already in this room") {
		t.Fatalf("unexpected error: %q", e.Message)
	}
}

func TestJoinRoomFull(t *testing.T) {
	h := newHarness(t)
	h.pair(t)
	h.join(t, "s3", "carol", "r1", "")

	var e wire.ErrorMessage
	decode(t, h.sender.last(t, "s3", wire.TypeError), &e)
	if !strings.Contains(e.Message, "full") {
		t.Fatalf("unexpected error: %q", e.Message)
	}
}

func TestJoinColorTaken(t *testing.T) {
	h := newHarness(t)
	h.join(t, "s1", "alice", "r1", "white")
	h.join(t, "s2", "bob", "r1", "white")

	var e wire.ErrorMessage
	decode(t, h.sender.last(t, "s2", wire.TypeError), &e)
	if !strings.Contains(e.Message, "white") {
		t.Fatalf("expected color in message, got %q", e.Message)
	}
	if len(h.sender.byType("s2", wire.TypeColorAssigned)) != 0 {
		t.Fatalf("rejected join must not assign a color")
	}
}

func TestMoveAppliedBroadcast(t *testing.T) {
	h := newHarness(t)
	gameID := h.pair(t)

	h.now = h.now.Add(5 * time.Second)
	h.move(t, "s1", "alice", gameID, "e2e4")

	var a1, a2 wire.MoveApplied
	decode(t, h.sender.last(t, "s1", wire.TypeMoveApplied), &a1)
	decode(t, h.sender.last(t, "s2", wire.TypeMoveApplied), &a2)

	if a1.Move != "e4" {
		t.Fatalf("expected SAN e4, got %q", a1.Move)
	}
	if a1.FEN != a2.FEN || a1.Move != a2.Move {
		t.Fatalf("participants saw different frames: %+v vs %+v", a1, a2)
	}
	if !strings.Contains(a1.FEN, " b ") {
		t.Fatalf("expected black to move in FEN %q", a1.FEN)
	}
	if len(a1.AllMoves) != 1 || a1.AllMoves[0] != "e4" {
		t.Fatalf("unexpected history: %v", a1.AllMoves)
	}
	if a1.GameStatus != string(game.StatusOnGoing) || a1.Winner != "" {
		t.Fatalf("unexpected status: %q winner %q", a1.GameStatus, a1.Winner)
	}
	if a1.WhiteTimeLeft != 595 || a1.BlackTimeLeft != 600 {
		t.Fatalf("unexpected clocks: %d/%d", a1.WhiteTimeLeft, a1.BlackTimeLeft)
	}

	sess := h.session(t, gameID)
	if sess.Turn != game.Black {
		t.Fatalf("expected turn toggled to black, got %q", sess.Turn)
	}
	if sess.LastMoveTimestamp != h.now.UnixMilli() {
		t.Fatalf("expected move timestamp refreshed")
	}
	if sess.Best.White != 1 {
		t.Fatalf("expected a Best counter for white, got %+v", sess.Best)
	}
}

func TestMoveWrongTurnRejected(t *testing.T) {
	h := newHarness(t)
	gameID := h.pair(t)

	h.move(t, "s2", "bob", gameID, "e7e5")

	var rej wire.MoveRejected
	decode(t, h.sender.last(t, "s2", wire.TypeMoveRejected), &rej)
	if !strings.Contains(rej.Error, "Not your turn") {
		t.Fatalf("unexpected rejection: %q", rej.Error)
	}

	sess := h.session(t, gameID)
	if len(sess.Moves) != 0 || sess.Turn != game.White {
		t.Fatalf("rejected move must not change the session: %+v", sess)
	}
}

func TestMoveIllegalRejected(t *testing.T) {
	h := newHarness(t)
	gameID := h.pair(t)

	h.move(t, "s1", "alice", gameID, "e2e5")

	var rej wire.MoveRejected
	decode(t, h.sender.last(t, "s1", wire.TypeMoveRejected), &rej)
	if !strings.Contains(rej.Error, "Illegal") {
		t.Fatalf("unexpected rejection: %q", rej.Error)
	}
	if len(h.session(t, gameID).Moves) != 0 {
		t.Fatalf("illegal move must not be persisted")
	}
}

func TestMoveUnknownGameRejected(t *testing.T) {
	h := newHarness(t)
	h.pair(t)

	h.move(t, "s1", "alice", "missing-game", "e2e4")

	var rej wire.MoveRejected
	decode(t, h.sender.last(t, "s1", wire.TypeMoveRejected), &rej)
	if !strings.Contains(rej.Error, "not found") {
		t.Fatalf("unexpected rejection: %q", rej.Error)
	}
}

func TestMoveTimeoutFinalizesForOpponent(t *testing.T) {
	h := newHarness(t)
	gameID := h.pair(t)

	// White sits on the move past their whole budget.
	h.now = h.now.Add(601 * time.Second)
	h.move(t, "s1", "alice", gameID, "e2e4")

	for _, conn := range []string{"s1", "s2"} {
		var over wire.GameOver
		decode(t, h.sender.last(t, conn, wire.TypeGameOver), &over)
		if over.Reason != "timeout" || over.Winner != "bob" || over.GameID != gameID {
			t.Fatalf("unexpected game-over on %s: %+v", conn, over)
		}
	}
	if len(h.sender.byType("s1", wire.TypeMoveApplied)) != 0 {
		t.Fatalf("timed-out submission must not apply the move")
	}

	sess := h.session(t, gameID)
	if sess.Status != game.StatusFinished || sess.Winner != "bob" {
		t.Fatalf("unexpected terminal state: %+v", sess)
	}
	if sess.WhiteTimeLeft != 0 {
		t.Fatalf("expected white clock clamped to zero, got %d", sess.WhiteTimeLeft)
	}
	if len(sess.Moves) != 0 {
		t.Fatalf("timed-out move must be discarded")
	}
}

func TestTimeoutFiresOnOpponentSubmission(t *testing.T) {
	h := newHarness(t)
	gameID := h.pair(t)

	// White is to move and flagged; black's frame still triggers the timeout
	// check for the side to move.
	h.now = h.now.Add(700 * time.Second)
	h.move(t, "s2", "bob", gameID, "e7e5")

	var over wire.GameOver
	decode(t, h.sender.last(t, "s2", wire.TypeGameOver), &over)
	if over.Reason != "timeout" || over.Winner != "bob" {
		t.Fatalf("expected timeout win for bob, got %+v", over)
	}
	sess := h.session(t, gameID)
	if sess.Status != game.StatusFinished || len(sess.Moves) != 0 {
		t.Fatalf("unexpected session after opponent-triggered timeout: %+v", sess)
	}
}

func TestMoveAfterGameOverRejected(t *testing.T) {
	h := newHarness(t)
	gameID := h.pair(t)
	h.dispatch(t, "s1", wire.TypeResign, wire.ResignRequest{RoomID: "r1", GameID: gameID, UserID: "alice"})

	h.move(t, "s2", "bob", gameID, "e7e5")

	var rej wire.MoveRejected
	decode(t, h.sender.last(t, "s2", wire.TypeMoveRejected), &rej)
	if !strings.Contains(rej.Error, "not active") {
		t.Fatalf("unexpected rejection: %q", rej.Error)
	}
}

func TestResignFinishesGame(t *testing.T) {
	h := newHarness(t)
	gameID := h.pair(t)

	h.dispatch(t, "s1", wire.TypeResign, wire.ResignRequest{RoomID: "r1", GameID: gameID, UserID: "alice"})

	for _, conn := range []string{"s1", "s2"} {
		var over wire.GameOver
		decode(t, h.sender.last(t, conn, wire.TypeGameOver), &over)
		if over.Reason != "resignation" || over.Winner != "bob" {
			t.Fatalf("unexpected game-over on %s: %+v", conn, over)
		}
	}

	sess := h.session(t, gameID)
	if sess.Status != game.StatusFinished || sess.Winner != "bob" {
		t.Fatalf("unexpected session state: %+v", sess)
	}
}

func TestResignByNonPlayerRejected(t *testing.T) {
	h := newHarness(t)
	gameID := h.pair(t)

	h.dispatch(t, "s3", wire.TypeResign, wire.ResignRequest{RoomID: "r1", GameID: gameID, UserID: "mallory"})

	var e wire.ErrorMessage
	decode(t, h.sender.last(t, "s3", wire.TypeError), &e)
	if !strings.Contains(e.Message, "not a player") {
		t.Fatalf("unexpected error: %q", e.Message)
	}
	if h.session(t, gameID).Status != game.StatusOnGoing {
		t.Fatalf("resign by outsider must not end the game")
	}
}

func TestDrawOfferRelayedToOpponent(t *testing.T) {
	h := newHarness(t)
	gameID := h.pair(t)

	h.dispatch(t, "s1", wire.TypeDrawOffer, wire.DrawRequest{RoomID: "r1", GameID: gameID})

	var offer wire.DrawRequest
	decode(t, h.sender.last(t, "s2", wire.TypeDrawOffer), &offer)
	if offer.GameID != gameID {
		t.Fatalf("unexpected relayed offer: %+v", offer)
	}
	if len(h.sender.byType("s1", wire.TypeDrawOffer)) != 0 {
		t.Fatalf("offer must not echo back to the sender")
	}
}

func TestDrawAcceptFinalizesDraw(t *testing.T) {
	h := newHarness(t)
	gameID := h.pair(t)

	h.dispatch(t, "s2", wire.TypeDrawAccept, wire.DrawRequest{RoomID: "r1", GameID: gameID})

	for _, conn := range []string{"s1", "s2"} {
		var over wire.GameOver
		decode(t, h.sender.last(t, conn, wire.TypeGameOver), &over)
		if over.Reason != "agreement" || over.Winner != "" {
			t.Fatalf("unexpected game-over on %s: %+v", conn, over)
		}
	}
	if h.session(t, gameID).Status != game.StatusDraw {
		t.Fatalf("expected drawn session")
	}
}

func TestChatRelayedWithTimestamp(t *testing.T) {
	h := newHarness(t)
	h.pair(t)

	h.dispatch(t, "s1", wire.TypeChatMessage, wire.ChatMessage{Message: "gg", RoomID: "r1"})

	var msg wire.ChatMessage
	decode(t, h.sender.last(t, "s2", wire.TypeChatMessage), &msg)
	if msg.Message != "gg" || msg.Time == "" {
		t.Fatalf("unexpected relayed chat: %+v", msg)
	}
}

func TestSignalingRelay(t *testing.T) {
	h := newHarness(t)
	h.pair(t)

	data := json.RawMessage(`{"sdp":"offer"}`)
	h.dispatch(t, "s1", wire.TypeCallOffer, wire.Signal{TargetID: "s2", Data: data})

	var sig wire.Signal
	decode(t, h.sender.last(t, "s2", wire.TypeIncomingCall), &sig)
	if sig.From != "s1" || string(sig.Data) != string(data) {
		t.Fatalf("unexpected relayed offer: %+v", sig)
	}

	h.dispatch(t, "s2", wire.TypeCallAnswer, wire.Signal{TargetID: "s1"})
	decode(t, h.sender.last(t, "s1", wire.TypeCallAnswered), &sig)
	if sig.From != "s2" {
		t.Fatalf("expected answer from s2, got %+v", sig)
	}

	h.dispatch(t, "s1", wire.TypeICECandidate, wire.Signal{TargetID: "s2", Data: data})
	decode(t, h.sender.last(t, "s2", wire.TypeICECandidate), &sig)
	if sig.From != "s1" {
		t.Fatalf("expected candidate from s1, got %+v", sig)
	}

	h.dispatch(t, "s1", wire.TypeEndCall, wire.Signal{TargetID: "s2"})
	decode(t, h.sender.last(t, "s2", wire.TypeCallEnded), &sig)
	if sig.From != "s1" {
		t.Fatalf("expected end-call from s1, got %+v", sig)
	}
}

func TestDisconnectNotifiesPeer(t *testing.T) {
	h := newHarness(t)
	h.pair(t)

	h.c.HandleDisconnect("s1")

	var gone wire.PeerDisconnected
	decode(t, h.sender.last(t, "s2", wire.TypePeerDisconnected), &gone)
	if gone.PeerID != "s1" {
		t.Fatalf("unexpected peer id: %q", gone.PeerID)
	}
}

func TestRejoinResumesSessionWithOriginalColors(t *testing.T) {
	h := newHarness(t)
	gameID := h.pair(t)
	h.move(t, "s1", "alice", gameID, "e2e4")

	h.c.HandleDisconnect("s1")
	h.c.HandleDisconnect("s2")

	// Bob reconnects first and asks for white; the resumed session still
	// seats him black.
	h.join(t, "s4", "bob", "r1", "white")
	h.join(t, "s3", "alice", "r1", "")

	var both wire.BothJoined
	decode(t, h.sender.last(t, "s4", wire.TypeBothJoined), &both)
	if both.GameID != gameID {
		t.Fatalf("expected resumed game %q, got %q", gameID, both.GameID)
	}
	if len(both.Moves) != 1 || both.Moves[0] != "e4" {
		t.Fatalf("expected resumed history, got %v", both.Moves)
	}
	if both.OpponentUserID != "alice" || both.OpponentColor != "white" {
		t.Fatalf("expected alice to keep white: %+v", both)
	}

	var assigned wire.ColorAssigned
	decode(t, h.sender.last(t, "s4", wire.TypeColorAssigned), &assigned)
	if assigned.Color != "black" {
		t.Fatalf("expected bob reseated black, got %q", assigned.Color)
	}

	// Play continues from the stored position: black to move.
	h.move(t, "s4", "bob", gameID, "e7e5")
	var applied wire.MoveApplied
	decode(t, h.sender.last(t, "s3", wire.TypeMoveApplied), &applied)
	if applied.Move != "e5" {
		t.Fatalf("expected e5 after resume, got %q", applied.Move)
	}
}

func TestScholarsMateEndsInCheckmate(t *testing.T) {
	h := newHarness(t)
	gameID := h.pair(t)

	script := []struct {
		conn, user, mv string
	}{
		{"s1", "alice", "e2e4"},
		{"s2", "bob", "e7e5"},
		{"s1", "alice", "d1h5"},
		{"s2", "bob", "b8c6"},
		{"s1", "alice", "f1c4"},
		{"s2", "bob", "g8f6"},
		{"s1", "alice", "h5f7"},
	}
	for _, step := range script {
		h.move(t, step.conn, step.user, gameID, step.mv)
	}

	var applied wire.MoveApplied
	decode(t, h.sender.last(t, "s2", wire.TypeMoveApplied), &applied)
	if applied.GameStatus != string(game.StatusFinished) || applied.Winner != "alice" {
		t.Fatalf("expected checkmate for alice, got %+v", applied)
	}

	sess := h.session(t, gameID)
	if sess.Status != game.StatusFinished || sess.Winner != "alice" {
		t.Fatalf("unexpected session state: %+v", sess)
	}
	if len(sess.Moves) != len(script) {
		t.Fatalf("expected %d stored moves, got %d", len(script), len(sess.Moves))
	}
}
