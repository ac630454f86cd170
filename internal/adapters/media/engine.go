// Package media implements core.MediaEngine on top of the signaling socket
// and a pion peer connection.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/voicectl/internal/adapters/rtc"
	"github.com/dkeye/voicectl/internal/adapters/signal"
	"github.com/dkeye/voicectl/internal/core"
	"github.com/dkeye/voicectl/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected     = errors.New("media session not connected")
	ErrAlreadyConnected = errors.New("media session already connected")
	ErrAborted          = errors.New("connect aborted")
)

type Config struct {
	WebRTC webrtc.Configuration
	// Capture opens the microphone. Nil sends silence.
	Capture func() (rtc.FrameSource, error)
	// Name is announced to the room on join.
	Name string
}

type Engine struct {
	cfg Config

	mu           sync.Mutex
	state        core.ConnectionState
	gen          uint64
	micOn        bool
	sig          *signal.Client
	peer         *rtc.Peer
	mic          *rtc.MicTrack
	cancel       context.CancelFunc
	participants []domain.Participant
	// candidates received before the answer was applied.
	candidates []webrtc.ICECandidateInit
	answered   bool

	hmu      sync.RWMutex
	handlers map[int]core.EventHandler
	next     int
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, handlers: make(map[int]core.EventHandler)}
}

// Connect joins the room at url and negotiates the peer connection. It returns
// once the answer is applied; media keeps flowing in the background.
func (e *Engine) Connect(ctx context.Context, url, token string) error {
	e.mu.Lock()
	if e.state != core.StateDisconnected {
		e.mu.Unlock()
		return ErrAlreadyConnected
	}
	e.state = core.StateConnecting
	e.gen++
	gen := e.gen
	e.mu.Unlock()

	log.Info().Str("module", "media").Str("url", url).Msg("connecting")
	if err := e.connect(ctx, gen, url, token); err != nil {
		// Leaving connecting for disconnected is a disconnect like any other.
		if e.teardown(gen) {
			log.Warn().Err(err).Str("module", "media").Msg("connect failed")
			e.emit(core.Event{Kind: core.EventDisconnected})
		}
		return err
	}

	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return ErrAborted
	}
	e.state = core.StateConnected
	e.mu.Unlock()

	e.emit(core.Event{Kind: core.EventConnected})
	return nil
}

func (e *Engine) connect(ctx context.Context, gen uint64, url, token string) error {
	roomCh := make(chan signal.RoomState, 1)
	answerCh := make(chan webrtc.SessionDescription, 1)

	sig, err := signal.Dial(ctx, url, token, signal.Handlers{
		RoomState: func(rs signal.RoomState) {
			e.setParticipants(gen, rs.Participants)
			select {
			case roomCh <- rs:
			default:
			}
		},
		ParticipantJoined: func(p domain.Participant) { e.participantJoined(gen, p) },
		ParticipantLeft:   func(identity string) { e.participantLeft(gen, identity) },
		Answer: func(sd webrtc.SessionDescription) {
			select {
			case answerCh <- sd:
			default:
			}
		},
		Candidate: func(ci webrtc.ICECandidateInit) { e.addCandidate(gen, ci) },
		Closed:    func(err error) { e.drop(gen, "signal closed", err) },
	})
	if err != nil {
		return err
	}
	sessCtx, cancel := context.WithCancel(context.Background())
	if !e.attach(gen, func() { e.sig, e.cancel = sig, cancel }) {
		cancel()
		sig.Close()
		return ErrAborted
	}

	if err := sig.Send(signal.JoinMessage{Type: signal.TypeJoin, Name: e.cfg.Name}); err != nil {
		return fmt.Errorf("send join: %w", err)
	}
	var room signal.RoomState
	select {
	case room = <-roomCh:
	case <-sig.Done():
		return fmt.Errorf("signal closed before room state")
	case <-ctx.Done():
		return ctx.Err()
	}
	log.Info().Str("module", "media").Str("room", string(room.Room)).Str("identity", room.Identity).Int("participants", len(room.Participants)).Msg("joined room")

	mic, err := e.openMicrophone(gen)
	if err != nil {
		return err
	}
	peer, err := rtc.NewPeer(e.cfg.WebRTC)
	if err != nil {
		mic.Discard()
		return err
	}
	if !e.attach(gen, func() { e.peer, e.mic = peer, mic }) {
		mic.Discard()
		peer.Close()
		return ErrAborted
	}
	// Muted until enabled; teardown cancels sessCtx and the source is closed.
	go mic.Run(sessCtx)
	if _, err := peer.AddTrack(mic.Track); err != nil {
		return err
	}
	peer.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		if err := sig.Send(signal.Candidate{Type: signal.TypeCandidate, Candidate: ci}); err != nil {
			log.Warn().Err(err).Str("module", "media").Msg("candidate not sent")
		}
	})
	peer.OnFailed(func() { go e.drop(gen, "peer failed", nil) })
	peer.Start(sessCtx)

	offer, err := peer.CreateOffer(ctx)
	if err != nil {
		return err
	}
	if err := sig.Send(signal.SessionDescription{Type: signal.TypeOffer, SDP: offer.SDP}); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}

	select {
	case answer := <-answerCh:
		if err := peer.ApplyAnswer(answer); err != nil {
			return err
		}
	case <-sig.Done():
		return fmt.Errorf("signal closed before answer")
	case <-ctx.Done():
		return ctx.Err()
	}
	e.flushCandidates(gen)
	return nil
}

func (e *Engine) openMicrophone(gen uint64) (*rtc.MicTrack, error) {
	var src rtc.FrameSource
	if e.cfg.Capture != nil {
		s, err := e.cfg.Capture()
		if err != nil {
			// The call proceeds listen-only.
			log.Error().Err(err).Str("module", "media").Msg("microphone unavailable")
			e.emit(core.Event{Kind: core.EventMediaDeviceError, Err: err})
		} else {
			src = s
		}
	}
	mic, err := rtc.NewMicTrack(src)
	if err != nil {
		return nil, err
	}
	mic.OnDeviceError(func(err error) {
		if e.current(gen) {
			e.emit(core.Event{Kind: core.EventMediaDeviceError, Err: err})
		}
	})
	e.mu.Lock()
	if e.micOn {
		mic.MarkLive()
	}
	e.mu.Unlock()
	return mic, nil
}

// attach runs fn under the lock if gen is still current.
func (e *Engine) attach(gen uint64, fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return false
	}
	fn()
	return true
}

func (e *Engine) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen == gen
}

// Disconnect leaves the room. It is a no-op when already disconnected.
func (e *Engine) Disconnect(context.Context) error {
	e.mu.Lock()
	if e.state == core.StateDisconnected {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	if e.teardown(e.generation()) {
		log.Info().Str("module", "media").Msg("disconnected")
		e.emit(core.Event{Kind: core.EventDisconnected})
	}
	return nil
}

func (e *Engine) generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

// drop handles the remote side going away after the session was established.
func (e *Engine) drop(gen uint64, reason string, err error) {
	e.mu.Lock()
	live := e.gen == gen && e.state == core.StateConnected
	e.mu.Unlock()
	if !live {
		return
	}
	if e.teardown(gen) {
		log.Warn().Err(err).Str("module", "media").Str("reason", reason).Msg("media session lost")
		e.emit(core.Event{Kind: core.EventDisconnected})
	}
}

// teardown releases the resources of session gen and reports whether it did.
func (e *Engine) teardown(gen uint64) bool {
	e.mu.Lock()
	if e.gen != gen || e.state == core.StateDisconnected {
		e.mu.Unlock()
		return false
	}
	e.gen++
	e.state = core.StateDisconnected
	sig, peer, mic, cancel := e.sig, e.peer, e.mic, e.cancel
	e.sig, e.peer, e.mic, e.cancel = nil, nil, nil, nil
	e.participants = nil
	e.candidates = nil
	e.answered = false
	e.mu.Unlock()

	if mic != nil {
		mic.MarkClosed()
	}
	if cancel != nil {
		cancel()
	}
	if peer != nil {
		peer.Close()
	}
	if sig != nil {
		sig.Close()
	}
	return true
}

// SetMicrophone gates the local track. It may be called before Connect; the
// setting is applied once the track exists.
func (e *Engine) SetMicrophone(_ context.Context, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.micOn = enabled
	if e.mic != nil {
		if enabled {
			e.mic.MarkLive()
		} else {
			e.mic.MarkMuted()
		}
	}
	log.Debug().Str("module", "media").Bool("enabled", enabled).Msg("microphone")
	return nil
}

func (e *Engine) MicrophoneEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.micOn
}

func (e *Engine) State() core.ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Participants() []domain.Participant {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Participant(nil), e.participants...)
}

func (e *Engine) Call(ctx context.Context, identity, method, payload string) (string, error) {
	e.mu.Lock()
	sig, state := e.sig, e.state
	e.mu.Unlock()
	if state != core.StateConnected || sig == nil {
		return "", ErrNotConnected
	}
	return sig.Call(ctx, identity, method, payload)
}

func (e *Engine) Subscribe(fn core.EventHandler) func() {
	e.hmu.Lock()
	defer e.hmu.Unlock()
	id := e.next
	e.next++
	e.handlers[id] = fn
	return func() {
		e.hmu.Lock()
		defer e.hmu.Unlock()
		delete(e.handlers, id)
	}
}

func (e *Engine) emit(ev core.Event) {
	e.hmu.RLock()
	hs := make([]core.EventHandler, 0, len(e.handlers))
	for _, h := range e.handlers {
		hs = append(hs, h)
	}
	e.hmu.RUnlock()
	for _, h := range hs {
		h(ev)
	}
}

var _ core.MediaEngine = (*Engine)(nil)
