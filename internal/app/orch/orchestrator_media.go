package orch

import (
	"context"
	"errors"

	"github.com/dkeye/voicectl/internal/core"
	"github.com/dkeye/voicectl/internal/domain"
	"github.com/rs/zerolog/log"
)

var errPrefetchLimited = errors.New("prefetch rate limited")

func (o *Orchestrator) onEvent(ev core.Event) {
	switch ev.Kind {
	case core.EventConnected:
		log.Debug().Str("module", "orch").Msg("media connected")
	case core.EventDisconnected:
		o.OnMediaDisconnect()
	case core.EventMediaDeviceError:
		log.Error().Err(ev.Err).Str("module", "orch").Msg("media device error")
		desc := "the microphone could not be used"
		if ev.Err != nil {
			desc = ev.Err.Error()
		}
		o.notify("Media device error", desc)
	case core.EventParticipantJoined, core.EventParticipantLeft:
		if ev.Participant == nil {
			return
		}
		log.Info().
			Str("module", "orch").
			Str("identity", ev.Participant.Identity).
			Bool("agent", ev.Participant.IsAgent).
			Bool("joined", ev.Kind == core.EventParticipantJoined).
			Msg("participant changed")
	}
}

// OnMediaDisconnect resets per-session state and prefetches the next ticket.
func (o *Orchestrator) OnMediaDisconnect() {
	o.mu.Lock()
	o.started = false
	o.current = nil
	o.prefetched = nil
	closed := o.closed
	o.mu.Unlock()

	o.Turns.Reset()
	if o.Metrics != nil {
		o.Metrics.Disconnects.Inc()
	}
	log.Info().Str("module", "orch").Msg("media session disconnected")

	if closed {
		return
	}
	o.prefetches.Add(1)
	go func() {
		defer o.prefetches.Done()
		if err := o.prefetch(context.Background()); err != nil {
			log.Warn().Err(err).Str("module", "orch").Msg("ticket prefetch failed")
		}
	}()
}

func (o *Orchestrator) prefetch(ctx context.Context) error {
	cred, err := o.Creds.Load(ctx)
	if err != nil {
		o.prefetchResult("failed")
		return err
	}
	if cred == nil {
		o.prefetchResult("skipped")
		return nil
	}
	if !o.limiter.Allow(cred.User.ID) {
		o.prefetchResult("limited")
		return errPrefetchLimited
	}

	cctx, cancel := context.WithTimeout(ctx, o.connectTimeout)
	defer cancel()
	ticket, err := o.Sessions.EstablishSession(cctx, *cred)
	if err != nil {
		o.prefetchResult("failed")
		if errors.Is(err, domain.ErrCredentialExpired) {
			log.Info().Str("module", "orch").Msg("credential expired, login required before next call")
		}
		return err
	}

	o.mu.Lock()
	// A session started meanwhile has its own ticket.
	if !o.started && !o.closed {
		o.prefetched = &prefetchedTicket{user: cred.User.ID, ticket: ticket}
	}
	o.mu.Unlock()
	o.prefetchResult("ok")
	log.Debug().Str("module", "orch").Str("correlation_id", string(ticket.CorrelationID)).Msg("ticket prefetched")
	return nil
}

func (o *Orchestrator) prefetchResult(result string) {
	if o.Metrics != nil {
		o.Metrics.Prefetches.WithLabelValues(result).Inc()
	}
}
