// Package coretest provides in-memory doubles of the core interfaces for tests.
package coretest

import (
	"context"
	"sync"

	"github.com/dkeye/voicectl/internal/core"
	"github.com/dkeye/voicectl/internal/domain"
)

// RPC is a recorded remote call.
type RPC struct {
	Identity string
	Method   string
	Payload  string
}

// Engine is a scriptable core.MediaEngine.
type Engine struct {
	mu           sync.Mutex
	state        core.ConnectionState
	mic          bool
	micCalls     []bool
	participants []domain.Participant
	calls        []RPC
	connects     [][2]string
	disconnects  int
	handlers     map[int]core.EventHandler
	nextHandler  int

	// CallErr is returned by Call when set.
	CallErr error
	// CallGate, when set, blocks Call until it is closed or ctx is done.
	CallGate chan struct{}
	// ConnectErr and MicErr make Connect / SetMicrophone fail.
	ConnectErr error
	MicErr     error
}

func NewEngine() *Engine {
	return &Engine{handlers: make(map[int]core.EventHandler)}
}

// Connected returns an engine already in the connected state.
func Connected(participants ...domain.Participant) *Engine {
	e := NewEngine()
	e.state = core.StateConnected
	e.participants = participants
	return e
}

func (e *Engine) Connect(_ context.Context, url, token string) error {
	e.mu.Lock()
	e.connects = append(e.connects, [2]string{url, token})
	if e.ConnectErr != nil {
		e.mu.Unlock()
		// A failed attempt passes through connecting and reports the drop.
		e.Emit(core.Event{Kind: core.EventDisconnected})
		return e.ConnectErr
	}
	e.state = core.StateConnected
	e.mu.Unlock()
	e.Emit(core.Event{Kind: core.EventConnected})
	return nil
}

func (e *Engine) Disconnect(context.Context) error {
	e.mu.Lock()
	if e.state == core.StateDisconnected {
		e.mu.Unlock()
		return nil
	}
	e.state = core.StateDisconnected
	e.disconnects++
	e.mu.Unlock()
	e.Emit(core.Event{Kind: core.EventDisconnected})
	return nil
}

// Drop simulates the remote side closing the session.
func (e *Engine) Drop() {
	_ = e.Disconnect(context.Background())
}

func (e *Engine) SetMicrophone(_ context.Context, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.micCalls = append(e.micCalls, enabled)
	if e.MicErr != nil {
		return e.MicErr
	}
	e.mic = enabled
	return nil
}

func (e *Engine) MicrophoneEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mic
}

func (e *Engine) State() core.ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) SetState(s core.ConnectionState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

func (e *Engine) Participants() []domain.Participant {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Participant(nil), e.participants...)
}

func (e *Engine) SetParticipants(ps ...domain.Participant) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.participants = ps
}

func (e *Engine) Call(ctx context.Context, identity, method, payload string) (string, error) {
	e.mu.Lock()
	e.calls = append(e.calls, RPC{Identity: identity, Method: method, Payload: payload})
	gate, err := e.CallGate, e.CallErr
	e.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return "", nil
}

func (e *Engine) Subscribe(fn core.EventHandler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextHandler
	e.nextHandler++
	e.handlers[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers, id)
	}
}

// Emit delivers ev to all subscribers synchronously.
func (e *Engine) Emit(ev core.Event) {
	e.mu.Lock()
	hs := make([]core.EventHandler, 0, len(e.handlers))
	for _, h := range e.handlers {
		hs = append(hs, h)
	}
	e.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (e *Engine) Calls() []RPC {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]RPC(nil), e.calls...)
}

func (e *Engine) MicCalls() []bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]bool(nil), e.micCalls...)
}

func (e *Engine) Connects() [][2]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][2]string(nil), e.connects...)
}

func (e *Engine) Disconnects() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disconnects
}

func (e *Engine) Subscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers)
}

var _ core.MediaEngine = (*Engine)(nil)
