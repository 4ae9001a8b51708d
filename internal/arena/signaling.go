package arena

import (
	"go.uber.org/zap"

	"github.com/park285/chess-arena-server/internal/obslog"
	"github.com/park285/chess-arena-server/pkg/wire"
)

// signalOut maps an inbound signaling event to the type delivered to the peer.
var signalOut = map[string]string{
	wire.TypeCallOffer:        wire.TypeIncomingCall,
	wire.TypeCallAnswer:       wire.TypeCallAnswered,
	wire.TypeICECandidate:     wire.TypeICECandidate,
	wire.TypeReconnectRequest: wire.TypeReconnectRequest,
	wire.TypeEndCall:          wire.TypeCallEnded,
}

// handleSignal relays a peer-negotiation frame to its target connection. The
// payload is opaque: the relay only rewrites From and routes by TargetID, and
// drops frames whose target connection is gone.
func (c *Coordinator) handleSignal(connID, eventType string, sig wire.Signal) {
	if sig.TargetID == "" {
		c.sendErrorKey(connID, "generic.bad_payload")
		return
	}
	outType, ok := signalOut[eventType]
	if !ok {
		return
	}

	sig.From = connID
	env, err := wire.NewEnvelope(outType, sig)
	if err != nil {
		obslog.L().Error("signal_marshal", zap.String("type", outType), zap.Error(err))
		return
	}
	if !c.sender.SendTo(sig.TargetID, env) {
		obslog.L().Debug("signal_target_gone",
			zap.String("from", connID),
			zap.String("target", sig.TargetID),
			zap.String("type", outType),
		)
	}
}
