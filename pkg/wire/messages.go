// Package wire defines the JSON envelope and payload types exchanged over the
// websocket channel between clients and the coordinator.
package wire

import "encoding/json"

// Inbound event types.
const (
	TypeJoinRoom         = "join-room"
	TypeSubmitMove       = "submit-move"
	TypeResign           = "resign"
	TypeDrawOffer        = "draw-offer"
	TypeDrawAccept       = "draw-accept"
	TypeDrawDecline      = "draw-decline"
	TypeChatMessage      = "chat-message"
	TypeCallOffer        = "call-offer"
	TypeCallAnswer       = "call-answer"
	TypeICECandidate     = "ice-candidate"
	TypeReconnectRequest = "reconnect-request"
	TypeEndCall          = "end-call"
)

// Outbound event types.
const (
	TypeColorAssigned    = "color-assigned"
	TypePlayerJoined     = "player-joined"
	TypeBothJoined       = "both-joined"
	TypeMoveApplied      = "move-applied"
	TypeMoveRejected     = "move-rejected"
	TypeGameOver         = "game-over"
	TypeIncomingCall     = "incoming-call"
	TypeCallAnswered     = "call-answered"
	TypeCallEnded        = "call-ended"
	TypePeerDisconnected = "peer-disconnected"
	TypeError            = "error"
)

// Envelope is the single frame format on the wire. Payload is left raw so the
// coordinator can dispatch on Type before decoding.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope of the given type.
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: eventType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: eventType, Payload: raw}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

type JoinRoomRequest struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
	Color  string `json:"color,omitempty"`
}

type ColorAssigned struct {
	Color string `json:"color"`
}

type PlayerJoined struct {
	UserID string `json:"userId"`
	Color  string `json:"color"`
}

// BothJoined is the synchronized snapshot pushed to each participant once the
// room is paired to a game session.
type BothJoined struct {
	GameID             string   `json:"gameId"`
	Moves              []string `json:"moves"`
	FEN                string   `json:"fen"`
	OpponentConnID     string   `json:"opponentSocketId"`
	OpponentUserID     string   `json:"opponentUserId"`
	OpponentColor      string   `json:"opponentColor"`
	WhiteTimeLeft      int      `json:"whiteTimeLeft"`
	BlackTimeLeft      int      `json:"blackTimeLeft"`
	ShouldInitiateCall bool     `json:"shouldInitiateCall"`
}

type SubmitMoveRequest struct {
	Move   string `json:"move"`
	GameID string `json:"gameId"`
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

type MoveApplied struct {
	Move          string   `json:"move"`
	FEN           string   `json:"fen"`
	GameStatus    string   `json:"gameStatus"`
	Winner        string   `json:"winner,omitempty"`
	AllMoves      []string `json:"allMoves"`
	WhiteTimeLeft int      `json:"whiteTimeLeft"`
	BlackTimeLeft int      `json:"blackTimeLeft"`
}

type MoveRejected struct {
	Error string `json:"error"`
}

type ResignRequest struct {
	RoomID string `json:"roomId"`
	GameID string `json:"gameId"`
	UserID string `json:"userId"`
}

type DrawRequest struct {
	RoomID string `json:"roomId"`
	GameID string `json:"gameId,omitempty"`
}

type GameOver struct {
	Reason string `json:"reason"`
	Winner string `json:"winner,omitempty"`
	GameID string `json:"gameId"`
}

type ChatMessage struct {
	Message string `json:"message"`
	RoomID  string `json:"roomId,omitempty"`
	Time    string `json:"time,omitempty"`
}

// Signal is the store-and-forward payload for peer negotiation. Data is never
// inspected; the relay only rewrites From and routes by TargetID.
type Signal struct {
	TargetID string          `json:"targetId"`
	From     string          `json:"from,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type PeerDisconnected struct {
	PeerID string `json:"peerId"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}
