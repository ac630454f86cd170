// Package orch drives one media session: it turns a stored credential into a
// connected engine and keeps ticket and turn state consistent across drops.
package orch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/voicectl/internal/app/credential"
	"github.com/dkeye/voicectl/internal/app/session"
	"github.com/dkeye/voicectl/internal/app/turn"
	"github.com/dkeye/voicectl/internal/core"
	"github.com/dkeye/voicectl/internal/domain"
	"github.com/dkeye/voicectl/internal/telemetry"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const DefaultConnectTimeout = 20 * time.Second

type Config struct {
	ConnectTimeout time.Duration
	// PrefetchLimit and PrefetchInterval bound ticket prefetches per user.
	PrefetchLimit    int
	PrefetchInterval time.Duration
	AgentNameHint    string
}

type Orchestrator struct {
	Engine   core.MediaEngine
	Creds    *credential.Store
	Sessions *session.Establisher
	Turns    *turn.Coordinator
	Notifier core.Notifier
	Metrics  *telemetry.Metrics

	connectTimeout time.Duration
	finder         turn.AgentFinder
	limiter        *RateLimiter
	unsubscribe    func()
	prefetches     sync.WaitGroup

	mu         sync.Mutex
	started    bool
	closed     bool
	current    *domain.SessionTicket
	prefetched *prefetchedTicket
}

type prefetchedTicket struct {
	user   domain.UserID
	ticket *domain.SessionTicket
}

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	Started       bool   `json:"started"`
	Media         string `json:"media"`
	Turn          string `json:"turn"`
	Microphone    bool   `json:"microphone"`
	Room          string `json:"room,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Agent         string `json:"agent,omitempty"`
}

// New wires the orchestrator to engine and subscribes to its events. Close
// releases the subscription.
func New(engine core.MediaEngine, creds *credential.Store, sessions *session.Establisher, turns *turn.Coordinator, cfg Config) *Orchestrator {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	o := &Orchestrator{
		Engine:         engine,
		Creds:          creds,
		Sessions:       sessions,
		Turns:          turns,
		connectTimeout: cfg.ConnectTimeout,
		finder:         turn.AgentFinder{NameHint: cfg.AgentNameHint},
		limiter:        NewRateLimiter(cfg.PrefetchLimit, cfg.PrefetchInterval),
	}
	o.unsubscribe = engine.Subscribe(o.onEvent)
	return o
}

// StartSession connects the media engine using a prefetched ticket when one
// is available for the stored user, or a freshly requested one otherwise.
func (o *Orchestrator) StartSession(ctx context.Context) error {
	cred, err := o.Creds.Load(ctx)
	if err != nil {
		return err
	}
	if cred == nil {
		return domain.ErrNotAuthenticated
	}

	ticket := o.takePrefetched(cred.User.ID)
	if ticket == nil {
		ticket, err = o.Sessions.EstablishSession(ctx, *cred)
		if err != nil {
			return err
		}
	} else {
		log.Debug().Str("module", "orch").Str("correlation_id", string(ticket.CorrelationID)).Msg("using prefetched ticket")
	}

	o.mu.Lock()
	o.started = true
	o.current = ticket
	o.mu.Unlock()

	if o.Engine.State() != core.StateDisconnected {
		log.Debug().Str("module", "orch").Str("media", o.Engine.State().String()).Msg("media session already up")
		return nil
	}

	if err := o.connect(ctx, ticket); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("room", string(ticket.Room)).Msg("media connect failed")
		o.count("failed")
		// The engine reports the failed attempt as a disconnect, which resets
		// the turn and prefetches the next ticket. Disconnect covers a half-up
		// session, e.g. connected with the microphone failed.
		if derr := o.Engine.Disconnect(context.WithoutCancel(ctx)); derr != nil {
			log.Warn().Err(derr).Str("module", "orch").Msg("disconnect after failed connect")
		}
		o.mu.Lock()
		o.started = false
		o.current = nil
		o.mu.Unlock()
		o.notify("Connection failed", err.Error())
		return fmt.Errorf("%w: %w", domain.ErrConnectionFailed, err)
	}
	o.count("ok")
	log.Info().Str("module", "orch").Str("room", string(ticket.Room)).Str("correlation_id", string(ticket.CorrelationID)).Msg("media session connected")
	return nil
}

func (o *Orchestrator) connect(ctx context.Context, ticket *domain.SessionTicket) error {
	cctx, cancel := context.WithTimeout(ctx, o.connectTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(cctx)
	g.Go(func() error {
		if err := o.Engine.SetMicrophone(gctx, true); err != nil {
			return fmt.Errorf("enable microphone: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return o.Engine.Connect(gctx, ticket.MediaURL, ticket.JoinToken)
	})
	return g.Wait()
}

// StopSession leaves the media session. It is safe to call repeatedly.
func (o *Orchestrator) StopSession(ctx context.Context) error {
	if o.Engine.State() == core.StateDisconnected {
		o.mu.Lock()
		o.started = false
		o.mu.Unlock()
		return nil
	}
	return o.Engine.Disconnect(ctx)
}

// Close stops the session, drops the engine subscription and waits for
// outstanding prefetches.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	err := o.StopSession(ctx)
	o.unsubscribe()
	o.prefetches.Wait()
	return err
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	snap := Snapshot{Started: o.started}
	if o.current != nil {
		snap.Room = string(o.current.Room)
		snap.CorrelationID = string(o.current.CorrelationID)
	}
	o.mu.Unlock()

	snap.Media = o.Engine.State().String()
	snap.Turn = o.Turns.State().String()
	snap.Microphone = o.Engine.MicrophoneEnabled()
	if id, ok := o.finder.Find(o.Engine.Participants()); ok {
		snap.Agent = id
	}
	return snap
}

func (o *Orchestrator) takePrefetched(uid domain.UserID) *domain.SessionTicket {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.prefetched
	o.prefetched = nil
	if p == nil || p.user != uid {
		return nil
	}
	return p.ticket
}

func (o *Orchestrator) notify(title, description string) {
	if o.Notifier != nil {
		o.Notifier.Notify(title, description)
	}
}

func (o *Orchestrator) count(result string) {
	if o.Metrics != nil {
		o.Metrics.Connects.WithLabelValues(result).Inc()
	}
}
