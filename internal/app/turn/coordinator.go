// Package turn arbitrates who holds the speaking floor on a connected media
// session. Turn boundaries gate the local microphone and, when an agent is
// present, are announced to it over a unary remote call. Announcements are
// best effort: a missing agent or a failed call degrades to a local-only turn.
package turn

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/voicectl/internal/core"
	"github.com/dkeye/voicectl/internal/domain"
	"github.com/dkeye/voicectl/internal/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	MethodStartTurn  = "start_turn"
	MethodEndTurn    = "end_turn"
	MethodCancelTurn = "cancel_turn"

	DefaultRPCTimeout = 5 * time.Second
)

type Coordinator struct {
	engine     core.MediaEngine
	finder     AgentFinder
	rpcTimeout time.Duration
	metrics    *telemetry.Metrics

	// micMu serializes microphone changes together with the state commit they
	// belong to, so a later transition never has its mic change overtaken.
	micMu sync.Mutex

	mu    sync.Mutex
	state domain.TurnState
	// epoch is bumped by Reset; completions from an older epoch are ignored.
	epoch uint64
}

type Option func(*Coordinator)

func WithAgentFinder(f AgentFinder) Option {
	return func(c *Coordinator) { c.finder = f }
}

func WithRPCTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.rpcTimeout = d
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func NewCoordinator(engine core.MediaEngine, opts ...Option) *Coordinator {
	c := &Coordinator{
		engine:     engine,
		rpcTimeout: DefaultRPCTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) State() domain.TurnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StartTurn moves Idle -> Requesting -> Active and enables the microphone.
// It is a no-op outside Idle or while the media session is not connected.
func (c *Coordinator) StartTurn(ctx context.Context) {
	if !c.connected("start") {
		return
	}
	c.mu.Lock()
	if c.state != domain.TurnIdle {
		c.mu.Unlock()
		return
	}
	c.state = domain.TurnRequesting
	epoch := c.epoch
	c.mu.Unlock()

	outcome := c.announce(ctx, MethodStartTurn)

	c.micMu.Lock()
	defer c.micMu.Unlock()

	c.mu.Lock()
	if c.epoch != epoch || c.state != domain.TurnRequesting {
		c.mu.Unlock()
		log.Debug().Str("module", "app.turn").Str("state", c.State().String()).Msg("start completion superseded")
		return
	}
	c.state = domain.TurnActive
	c.mu.Unlock()

	c.setMicrophone(ctx, true)
	if c.metrics != nil {
		c.metrics.TurnsStarted.Inc()
	}
	log.Info().Str("module", "app.turn").Str("outcome", outcome).Msg("turn started")
}

// EndTurn moves Active -> Ending -> Idle. The microphone is disabled whatever
// the announcement outcome.
func (c *Coordinator) EndTurn(ctx context.Context) {
	if !c.connected("end") {
		return
	}
	c.mu.Lock()
	if c.state != domain.TurnActive {
		c.mu.Unlock()
		return
	}
	c.state = domain.TurnEnding
	epoch := c.epoch
	c.mu.Unlock()

	outcome := c.announce(ctx, MethodEndTurn)

	c.micMu.Lock()
	defer c.micMu.Unlock()

	c.mu.Lock()
	current := c.epoch == epoch
	idle := c.state == domain.TurnIdle
	c.mu.Unlock()

	// After a reset a newer turn may own the microphone; leave it alone then.
	if current || idle {
		c.setMicrophone(ctx, false)
	}
	if !current {
		log.Debug().Str("module", "app.turn").Str("state", c.State().String()).Msg("end completion superseded")
		return
	}
	c.mu.Lock()
	c.state = domain.TurnIdle
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.TurnsFinished.WithLabelValues("ended").Inc()
	}
	log.Info().Str("module", "app.turn").Str("outcome", outcome).Msg("turn ended")
}

// CancelTurn aborts an active turn: Active -> Idle directly, microphone off,
// then a best-effort cancel_turn announcement.
func (c *Coordinator) CancelTurn(ctx context.Context) {
	if !c.connected("cancel") {
		return
	}
	c.micMu.Lock()
	c.mu.Lock()
	if c.state != domain.TurnActive {
		c.mu.Unlock()
		c.micMu.Unlock()
		return
	}
	c.state = domain.TurnIdle
	c.mu.Unlock()
	c.setMicrophone(ctx, false)
	c.micMu.Unlock()

	outcome := c.announce(ctx, MethodCancelTurn)
	if c.metrics != nil {
		c.metrics.TurnsFinished.WithLabelValues("cancelled").Inc()
	}
	log.Info().Str("module", "app.turn").Str("outcome", outcome).Msg("turn cancelled")
}

// Reset returns the coordinator to Idle, e.g. after the media session dropped.
// Completions of calls issued before the reset are ignored.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.TurnIdle {
		log.Info().Str("module", "app.turn").Str("from", c.state.String()).Msg("turn state reset")
	}
	c.state = domain.TurnIdle
	c.epoch++
}

func (c *Coordinator) connected(op string) bool {
	if c.engine.State() == core.StateConnected {
		return true
	}
	log.Debug().Str("module", "app.turn").Str("op", op).Msg("media session not connected, ignoring")
	return false
}

// announce tells the agent about a turn boundary and reports how it went. It
// never fails the caller.
func (c *Coordinator) announce(ctx context.Context, method string) string {
	logger := log.With().Str("module", "app.turn").Str("method", method).Logger()

	identity, ok := c.finder.Find(c.engine.Participants())
	if !ok {
		logger.Warn().Str("fallback", telemetry.OutcomeNoAgent).Msg("no agent found, local-only turn")
		c.count(method, telemetry.OutcomeNoAgent)
		return telemetry.OutcomeNoAgent
	}

	// The call is not aborted when the caller goes away; only the timeout bounds it.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.rpcTimeout)
	defer cancel()
	if _, err := c.engine.Call(rctx, identity, method, ""); err != nil {
		logger.Error().Err(err).Str("agent", identity).Str("fallback", telemetry.OutcomeRPCFailed).Msg("turn rpc failed, local-only turn")
		c.count(method, telemetry.OutcomeRPCFailed)
		return telemetry.OutcomeRPCFailed
	}
	logger.Debug().Str("agent", identity).Msg("turn rpc acknowledged")
	c.count(method, telemetry.OutcomeAcknowledged)
	return telemetry.OutcomeAcknowledged
}

func (c *Coordinator) setMicrophone(ctx context.Context, enabled bool) {
	if err := c.engine.SetMicrophone(context.WithoutCancel(ctx), enabled); err != nil {
		log.Error().Err(err).Str("module", "app.turn").Bool("enabled", enabled).Msg("microphone toggle failed")
	}
}

func (c *Coordinator) count(method, outcome string) {
	if c.metrics != nil {
		c.metrics.TurnSignals.WithLabelValues(method, outcome).Inc()
	}
}
