// Package httpapi exposes the HTTP surface: the websocket endpoint that feeds
// the coordinator, a health probe, and read-only debug views of rooms and
// sessions.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/park285/chess-arena-server/internal/config"
	"github.com/park285/chess-arena-server/internal/game"
	"github.com/park285/chess-arena-server/internal/obslog"
	"github.com/park285/chess-arena-server/internal/room"
	"github.com/park285/chess-arena-server/internal/ws"
)

// Deps carries everything the router needs.
type Deps struct {
	Cfg       *config.AppConfig
	Hub       *ws.Hub
	Rooms     *room.Registry
	Store     game.Store
	StartedAt time.Time
}

// Router builds the HTTP routing table with CORS, logging, recovery, and an
// IP rate limit on new websocket connections.
func Router(deps *Deps) http.Handler {
	connLimiter := newIPLimiter(rate.Limit(deps.Cfg.ConnRatePerSecond), deps.Cfg.ConnBurst)

	allowedOrigins := make(map[string]struct{}, len(deps.Cfg.AllowedOrigins))
	for _, o := range deps.Cfg.AllowedOrigins {
		allowedOrigins[o] = struct{}{}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			// No configured origins means open access, e.g. local development.
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}
			obslog.L().Warn("ws_origin_rejected", zap.String("origin", origin))
			return false
		},
	}

	corsOrigins := []string{"*"}
	if len(deps.Cfg.AllowedOrigins) > 0 {
		corsOrigins = deps.Cfg.AllowedOrigins
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	r := chi.NewRouter()
	r.Use(c.Handler)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"status":      "ok",
				"uptime":      time.Since(deps.StartedAt).Round(time.Second).String(),
				"connections": deps.Hub.Count(),
			})
		})

		api.Route("/debug", func(dbg chi.Router) {
			dbg.Get("/rooms", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, deps.Rooms.Snapshot())
			})
			dbg.Get("/games/{id}", func(w http.ResponseWriter, req *http.Request) {
				sess, err := deps.Store.Load(req.Context(), chi.URLParam(req, "id"))
				if errors.Is(err, game.ErrNotFound) {
					writeJSON(w, http.StatusNotFound, map[string]string{"error": "game not found"})
					return
				}
				if err != nil {
					writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
					return
				}
				writeJSON(w, http.StatusOK, sess)
			})
		})
	})

	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			obslog.L().Warn("ws_upgrade_failed", zap.Error(err))
			return
		}
		deps.Hub.Serve(conn)
	})
	r.Get("/ws", connLimiter.middleware(jwtGate(deps.Cfg.JWTSecret, wsHandler)).ServeHTTP)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		obslog.L().Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obslog.L().Error("json_encode", zap.Error(err))
	}
}
