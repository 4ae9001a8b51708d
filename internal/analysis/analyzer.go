// Package analysis scores move quality by comparing engine evaluations of the
// positions before and after a move. Engine trouble of any kind degrades to
// QualityUnknown; analysis never fails the move pipeline.
package analysis

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/chess-arena-server/internal/analysis/uci"
	"github.com/park285/chess-arena-server/internal/obslog"
)

// Quality classifies the centipawn loss of a played move.
type Quality string

const (
	QualityBest       Quality = "Best"
	QualityGood       Quality = "Good"
	QualityInaccurate Quality = "Inaccurate"
	QualityMistake    Quality = "Mistake"
	QualityBlunder    Quality = "Blunder"
	QualityUnknown    Quality = "Unknown"
)

// Classify maps a centipawn loss magnitude to a quality label.
func Classify(loss int) Quality {
	switch {
	case loss < 50:
		return QualityBest
	case loss < 100:
		return QualityGood
	case loss < 300:
		return QualityInaccurate
	case loss < 600:
		return QualityMistake
	default:
		return QualityBlunder
	}
}

// Analyzer evaluates position pairs with a bounded number of concurrent
// analyses, each spawning two short-lived engine processes.
type Analyzer struct {
	binaryPath string
	depth      int
	sem        chan struct{}
}

func NewAnalyzer(binaryPath string, depth, maxConcurrent int) *Analyzer {
	if depth <= 0 {
		depth = 15
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Analyzer{
		binaryPath: binaryPath,
		depth:      depth,
		sem:        make(chan struct{}, maxConcurrent),
	}
}

// AnalyzeMove evaluates both positions in parallel and returns the quality of
// the move that transformed beforeFEN into afterFEN, with its centipawn loss.
// Any engine failure yields QualityUnknown with loss 0.
func (a *Analyzer) AnalyzeMove(ctx context.Context, beforeFEN, afterFEN string) (Quality, int) {
	if a == nil || a.binaryPath == "" {
		return QualityUnknown, 0
	}

	select {
	case a.sem <- struct{}{}:
		defer func() { <-a.sem }()
	case <-ctx.Done():
		return QualityUnknown, 0
	}

	var (
		wg         sync.WaitGroup
		beforeEval int
		afterEval  int
		beforeErr  error
		afterErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		beforeEval, beforeErr = a.evaluate(ctx, beforeFEN)
	}()
	go func() {
		defer wg.Done()
		afterEval, afterErr = a.evaluate(ctx, afterFEN)
	}()
	wg.Wait()

	if beforeErr != nil || afterErr != nil {
		obslog.L().Warn("analysis_degraded",
			zap.NamedError("before_err", beforeErr),
			zap.NamedError("after_err", afterErr),
		)
		return QualityUnknown, 0
	}

	loss := afterEval - beforeEval
	if loss < 0 {
		loss = -loss
	}
	return Classify(loss), loss
}

// evaluate runs one fresh engine instance against a single position. The
// process is terminated whether or not the search succeeds.
func (a *Analyzer) evaluate(ctx context.Context, fen string) (int, error) {
	session, err := uci.NewSession(ctx, a.binaryPath)
	if err != nil {
		return 0, err
	}
	defer session.Close()

	if err := session.NewGame(ctx); err != nil {
		return 0, err
	}
	return session.Evaluate(ctx, fen, a.depth)
}
