package devserver

import (
	"context"
	"encoding/json"

	"github.com/dkeye/voicectl/internal/adapters/signal"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// handleOffer answers a member's offer with a receive-only peer. Incoming
// audio is counted by the agent.
func (r *Room) handleOffer(ctx context.Context, m *memberConn, data []byte) {
	var p signal.SessionDescription
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "devserver").Msg("bad offer payload")
		m.sendJSON(signal.ErrorMessage{Type: signal.TypeError, Error: "bad_payload"})
		return
	}

	pc, err := webrtc.NewPeerConnection(r.webrtc)
	if err != nil {
		log.Error().Err(err).Str("module", "devserver").Msg("new peer connection")
		m.sendJSON(signal.ErrorMessage{Type: signal.TypeError, Error: "peer_failed"})
		return
	}
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "devserver").Str("identity", m.identity).Str("kind", track.Kind().String()).Msg("OnTrack received")
		go r.listen(ctx, track)
	})

	answer, err := applyOfferAndCreateAnswer(pc, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP})
	if err != nil {
		log.Error().Err(err).Str("module", "devserver").Msg("answer failed")
		_ = pc.Close()
		m.sendJSON(signal.ErrorMessage{Type: signal.TypeError, Error: "answer_failed"})
		return
	}

	m.mu.Lock()
	old := m.pc
	m.pc = pc
	closed := m.closed
	m.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	if closed {
		_ = pc.Close()
		return
	}
	m.sendJSON(signal.SessionDescription{Type: signal.TypeAnswer, SDP: answer.SDP})
}

func applyOfferAndCreateAnswer(pc *webrtc.PeerConnection, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	<-gatherComplete
	return pc.LocalDescription(), nil
}

func (r *Room) handleCandidate(m *memberConn, data []byte) {
	var p signal.Candidate
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "devserver").Msg("bad candidate payload")
		return
	}
	m.mu.RLock()
	pc := m.pc
	m.mu.RUnlock()
	if pc == nil {
		log.Warn().Str("module", "devserver").Str("identity", m.identity).Msg("candidate before offer")
		return
	}
	if err := pc.AddICECandidate(p.Candidate); err != nil {
		log.Warn().Err(err).Str("module", "devserver").Msg("add candidate")
	}
}

func (r *Room) listen(ctx context.Context, track *webrtc.TrackRemote) {
	for ctx.Err() == nil {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
		if r.Agent != nil {
			r.Agent.heard()
		}
	}
}
