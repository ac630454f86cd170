package core

import (
	"context"

	"github.com/dkeye/voicectl/internal/domain"
)

type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventMediaDeviceError
	EventParticipantJoined
	EventParticipantLeft
)

// Event is emitted by a MediaEngine to its subscribers.
type Event struct {
	Kind        EventKind
	Participant *domain.Participant
	Err         error
}

type EventHandler func(Event)

// MediaEngine is the real-time session the client joins. A single engine is
// owned by the orchestrator for the duration of one call.
type MediaEngine interface {
	// Connect joins the media session at url using the one-time join token.
	Connect(ctx context.Context, url, token string) error
	// Disconnect leaves the session. Disconnecting a disconnected engine is a no-op.
	Disconnect(ctx context.Context) error
	// SetMicrophone enables or disables the local microphone track.
	SetMicrophone(ctx context.Context, enabled bool) error
	MicrophoneEnabled() bool
	State() ConnectionState
	// Participants returns a snapshot of the remote participant registry.
	Participants() []domain.Participant
	// Call performs a unary remote call addressed to a participant identity.
	Call(ctx context.Context, identity, method, payload string) (string, error)
	// Subscribe registers fn for engine events; the returned func removes it.
	Subscribe(fn EventHandler) (unsubscribe func())
}
