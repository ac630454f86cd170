package media

import (
	"github.com/dkeye/voicectl/internal/core"
	"github.com/dkeye/voicectl/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (e *Engine) setParticipants(gen uint64, ps []domain.Participant) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return
	}
	e.participants = append([]domain.Participant(nil), ps...)
}

func (e *Engine) participantJoined(gen uint64, p domain.Participant) {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return
	}
	replaced := false
	for i := range e.participants {
		if e.participants[i].Identity == p.Identity {
			e.participants[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		e.participants = append(e.participants, p)
	}
	e.mu.Unlock()

	e.emit(core.Event{Kind: core.EventParticipantJoined, Participant: &p})
}

func (e *Engine) participantLeft(gen uint64, identity string) {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return
	}
	var left *domain.Participant
	for i := range e.participants {
		if e.participants[i].Identity == identity {
			p := e.participants[i]
			left = &p
			e.participants = append(e.participants[:i], e.participants[i+1:]...)
			break
		}
	}
	e.mu.Unlock()

	if left == nil {
		left = &domain.Participant{Identity: identity}
	}
	e.emit(core.Event{Kind: core.EventParticipantLeft, Participant: left})
}

// addCandidate applies a remote candidate, or queues it until the answer is in.
func (e *Engine) addCandidate(gen uint64, ci webrtc.ICECandidateInit) {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return
	}
	if !e.answered || e.peer == nil {
		e.candidates = append(e.candidates, ci)
		e.mu.Unlock()
		return
	}
	peer := e.peer
	e.mu.Unlock()
	if err := peer.AddICECandidate(ci); err != nil {
		log.Warn().Err(err).Str("module", "media").Msg("add remote candidate")
	}
}

func (e *Engine) flushCandidates(gen uint64) {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return
	}
	e.answered = true
	queued, peer := e.candidates, e.peer
	e.candidates = nil
	e.mu.Unlock()
	for _, ci := range queued {
		if err := peer.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "media").Msg("add queued candidate")
		}
	}
}
