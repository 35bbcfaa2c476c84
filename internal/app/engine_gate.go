package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/duocast/internal/core"
	"github.com/dkeye/duocast/internal/domain"
	"github.com/rs/zerolog/log"
)

type EngineState int

const (
	EngineNotReady EngineState = iota
	EngineReady
	EngineFailed
)

func (s EngineState) String() string {
	switch s {
	case EngineReady:
		return "ready"
	case EngineFailed:
		return "failed"
	default:
		return "not_ready"
	}
}

// EngineGate owns the router and reports whether it can be used yet.
// Callers arriving before the router exists fail fast with ErrEngineUnavailable.
type EngineGate struct {
	mu     sync.RWMutex
	state  EngineState
	router core.Router
	err    error
	ready  chan struct{}
}

func NewEngineGate() *EngineGate {
	return &EngineGate{ready: make(chan struct{})}
}

// Start creates the router in the background.
func (g *EngineGate) Start(ctx context.Context, engine core.MediaEngine, codecs []core.Codec) {
	go func() {
		_ = g.Init(ctx, engine, codecs)
	}()
}

// Init creates the router synchronously. Only the first call has an effect.
func (g *EngineGate) Init(ctx context.Context, engine core.MediaEngine, codecs []core.Codec) error {
	g.mu.Lock()
	if g.state != EngineNotReady || g.router != nil {
		g.mu.Unlock()
		return g.err
	}
	g.mu.Unlock()

	router, err := engine.CreateRouter(ctx, codecs)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != EngineNotReady {
		if router != nil {
			_ = router.Close()
		}
		return g.err
	}
	if err != nil {
		g.state = EngineFailed
		g.err = fmt.Errorf("%w: create router: %v", domain.ErrEngineUnavailable, err)
		log.Error().Err(err).Str("module", "app.engine").Msg("media engine init failed")
	} else {
		g.state = EngineReady
		g.router = router
		log.Info().Str("module", "app.engine").Int("codecs", len(codecs)).Msg("media engine ready")
	}
	close(g.ready)
	return g.err
}

func (g *EngineGate) State() EngineState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Ready is closed once initialization has finished, successfully or not.
func (g *EngineGate) Ready() <-chan struct{} { return g.ready }

func (g *EngineGate) Router() (core.Router, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	switch g.state {
	case EngineReady:
		return g.router, nil
	case EngineFailed:
		return nil, g.err
	default:
		return nil, domain.ErrEngineUnavailable
	}
}

// Close releases the router and makes the gate permanently unavailable.
func (g *EngineGate) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	router := g.router
	g.router = nil
	if g.state == EngineNotReady {
		close(g.ready)
	}
	g.state = EngineFailed
	g.err = domain.ErrEngineUnavailable
	if router != nil {
		return router.Close()
	}
	return nil
}
