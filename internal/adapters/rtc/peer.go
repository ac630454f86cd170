// Package rtc wraps the pion peer connection used for the call: the local
// microphone is sent as an Opus track and remote audio is received.
package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// ConfigFromURLs builds a configuration with one ICE server per url.
func ConfigFromURLs(urls []string) webrtc.Configuration {
	if len(urls) == 0 {
		return DefaultWebRTCConfig()
	}
	cfg := webrtc.Configuration{}
	for _, u := range urls {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{URLs: []string{u}})
	}
	return cfg
}

// Peer is the offering side of the media connection.
type Peer struct {
	pc     *webrtc.PeerConnection
	cancel context.CancelFunc

	onICE     func(webrtc.ICECandidateInit)
	onFailed  func()
	closeOnce sync.Once
}

func NewPeer(cfg webrtc.Configuration) (*Peer, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return &Peer{pc: pc}, nil
}

// Start installs the connection callbacks. Remote tracks are drained until
// ctx is cancelled or the peer closes.
func (p *Peer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("ice_state", s.String()).Msg("ICE state")
	})

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed {
			if p.onFailed != nil {
				p.onFailed()
			}
		}
	})

	p.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && p.onICE != nil {
			p.onICE(cand.ToJSON())
		}
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		go drain(ctx, track)
	})
}

// drain consumes remote RTP so the receive buffers do not fill. Playback is
// left to the platform audio stack.
func drain(ctx context.Context, track *webrtc.TrackRemote) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := track.ReadRTP(); err != nil {
			log.Debug().Err(err).Str("module", "rtc").Str("track_id", track.ID()).Msg("remote track ended")
			return
		}
	}
}

// CreateOffer produces a local offer with all host candidates gathered.
func (p *Peer) CreateOffer(ctx context.Context) (*webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.pc.LocalDescription(), nil
}

func (p *Peer) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (p *Peer) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(ci)
}

func (p *Peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) { p.onICE = fn }

// OnFailed is called when the peer connection fails after negotiation.
func (p *Peer) OnFailed(fn func()) { p.onFailed = fn }

// AddTrack attaches a local track to the connection.
func (p *Peer) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}
	return sender, nil
}

func (p *Peer) State() webrtc.PeerConnectionState {
	return p.pc.ConnectionState()
}

func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		if err := p.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("close error")
		} else {
			log.Info().Str("module", "rtc").Msg("closed")
		}
	})
}
