package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena-server/internal/analysis"
	"github.com/park285/chess-arena-server/internal/arena"
	appcfg "github.com/park285/chess-arena-server/internal/config"
	"github.com/park285/chess-arena-server/internal/game"
	"github.com/park285/chess-arena-server/internal/httpapi"
	"github.com/park285/chess-arena-server/internal/msgcat"
	"github.com/park285/chess-arena-server/internal/obslog"
	"github.com/park285/chess-arena-server/internal/room"
	"github.com/park285/chess-arena-server/internal/ws"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()

	store, err := game.NewRedisStore(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis init", zap.Error(err))
	}
	defer store.Close()

	// Archive is optional; without a database URL, terminal games live only
	// in the session store.
	var archive arena.Archiver
	var archiveCloser *game.Archive
	if cfg.DatabaseURL != "" {
		a, err := game.NewArchive(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("archive init", zap.Error(err))
		}
		archive = a
		archiveCloser = a
	} else {
		logger.Warn("archive disabled: DATABASE_URL not set")
	}

	var analyzer arena.MoveAnalyzer
	if cfg.StockfishPath != "" {
		analyzer = analysis.NewAnalyzer(cfg.StockfishPath, cfg.AnalysisDepth, cfg.AnalysisMaxConcurrent)
	} else {
		logger.Warn("move analysis disabled: STOCKFISH_PATH not set")
	}

	cat, err := msgcat.New(os.Getenv("MESSAGE_TEMPLATE_DIR"))
	if err != nil {
		logger.Fatal("message catalog init", zap.Error(err))
	}

	rooms := room.NewRegistry()
	hub := ws.NewHub()
	coordinator := arena.NewCoordinator(
		arena.Config{
			StartClockSeconds: cfg.StartClockSeconds,
			AnalysisAsync:     cfg.AnalysisAsync,
		},
		rooms, store, archive, analyzer, hub, cat,
	)
	hub.SetHandler(coordinator)

	router := httpapi.Router(&httpapi.Deps{
		Cfg:       cfg,
		Hub:       hub,
		Rooms:     rooms,
		Store:     store,
		StartedAt: time.Now(),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	if archiveCloser != nil {
		_ = archiveCloser.Close()
	}
	_ = obslog.Sync()
}
