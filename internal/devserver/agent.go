package devserver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/voicectl/internal/domain"
	"github.com/rs/zerolog/log"
)

// Agent is the scripted remote party. It accepts the turn methods and keeps a
// log of what it received.
type Agent struct {
	Identity string
	// Flagged controls whether the agent advertises itself with the agent flag.
	Flagged bool

	present atomic.Bool
	packets atomic.Int64

	mu      sync.Mutex
	calls   []string
	delay   time.Duration
	failure error
}

func NewAgent(identity string) *Agent {
	a := &Agent{Identity: identity, Flagged: true}
	a.present.Store(true)
	return a
}

func (a *Agent) Participant() domain.Participant {
	return domain.Participant{Identity: a.Identity, Name: "Agent", IsAgent: a.Flagged}
}

func (a *Agent) Present() bool { return a.present.Load() }

func (a *Agent) setPresent(v bool) { a.present.Store(v) }

// Calls returns the methods received so far.
func (a *Agent) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

// Packets is the number of audio packets received from members.
func (a *Agent) Packets() int64 { return a.packets.Load() }

func (a *Agent) heard() { a.packets.Add(1) }

// Script makes subsequent calls wait for delay and then fail with err when set.
func (a *Agent) Script(delay time.Duration, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delay, a.failure = delay, err
}

var errUnknownMethod = errors.New("unknown method")

func (a *Agent) Handle(ctx context.Context, caller, method, _ string) (string, error) {
	a.mu.Lock()
	a.calls = append(a.calls, method)
	delay, failure := a.delay, a.failure
	a.mu.Unlock()

	log.Info().Str("module", "devserver.agent").Str("caller", caller).Str("method", method).Msg("rpc")
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if failure != nil {
		return "", failure
	}
	switch method {
	case "start_turn", "end_turn", "cancel_turn":
		return fmt.Sprintf(`{"ack":%q}`, method), nil
	default:
		return "", fmt.Errorf("%w: %s", errUnknownMethod, method)
	}
}
