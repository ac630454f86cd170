// Package devserver is a local stand-in for the hosted backend: it issues
// credentials and tickets and runs a single room with a scripted agent that
// acknowledges turn RPCs. It exists for development and tests.
package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/dkeye/voicectl/internal/adapters/signal"
	"github.com/dkeye/voicectl/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Room is the single simulated media room.
type Room struct {
	Name  domain.RoomName
	Agent *Agent

	webrtc webrtc.Configuration

	mu      sync.RWMutex
	members map[string]*memberConn
	order   []string
	// tokens holds join tokens not yet used; nil accepts any token.
	tokens map[string]struct{}
	// pending routes member to member RPC responses back to the caller.
	pending map[string]string
}

func NewRoom(name domain.RoomName, agent *Agent) *Room {
	return &Room{
		Name:    name,
		Agent:   agent,
		members: make(map[string]*memberConn),
		pending: make(map[string]string),
	}
}

// RequireTokens makes the room accept only join tokens issued by IssueToken.
func (r *Room) RequireTokens() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tokens == nil {
		r.tokens = make(map[string]struct{})
	}
}

// IssueToken registers a one-time join token.
func (r *Room) IssueToken() string {
	tok := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tokens != nil {
		r.tokens[tok] = struct{}{}
	}
	return tok
}

func (r *Room) consumeToken(tok string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tokens == nil {
		return tok != ""
	}
	if _, ok := r.tokens[tok]; !ok {
		return false
	}
	delete(r.tokens, tok)
	return true
}

// HandleSignal upgrades the request to the signaling socket.
func (r *Room) HandleSignal(ctx context.Context, c *gin.Context) {
	tok := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !r.consumeToken(tok) {
		log.Warn().Str("module", "devserver").Msg("join token rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid join token"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "devserver").Msg("ws upgrade")
		return
	}
	m := &memberConn{
		identity: "user-" + uuid.NewString()[:8],
		conn:     ws,
		send:     make(chan []byte, 32),
	}
	log.Info().Str("module", "devserver").Str("identity", m.identity).Msg("new WS connection")

	go m.writePump()
	go r.readPump(ctx, m)
}

// Members returns the identities of connected members in join order.
func (r *Room) Members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Kick closes a member's connection as if the server dropped it.
func (r *Room) Kick(identity string) bool {
	r.mu.RLock()
	m, ok := r.members[identity]
	r.mu.RUnlock()
	if ok {
		m.Close()
	}
	return ok
}

func (r *Room) readPump(ctx context.Context, m *memberConn) {
	defer func() {
		log.Info().Str("module", "devserver").Str("identity", m.identity).Msg("readPump closing")
		r.leave(m)
		m.Close()
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := m.conn.ReadMessage()
		if err != nil {
			return
		}
		if !r.handle(ctx, m, data) {
			return
		}
	}
}

func (r *Room) handle(ctx context.Context, m *memberConn, data []byte) bool {
	var env signal.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "devserver").Msg("bad json")
		return true
	}

	switch env.Type {
	case signal.TypeJoin:
		r.join(m)
	case signal.TypeLeave:
		return false
	case signal.TypePing:
		m.sendJSON(signal.Envelope{Type: signal.TypePong})
	case signal.TypeOffer:
		r.handleOffer(ctx, m, data)
	case signal.TypeCandidate:
		r.handleCandidate(m, data)
	case signal.TypeRPCRequest:
		r.handleRPCRequest(ctx, m, data)
	case signal.TypeRPCResponse:
		r.handleRPCResponse(data)
	default:
		log.Warn().Str("module", "devserver").Str("type", env.Type).Msg("unknown signal")
	}
	return true
}

func (r *Room) join(m *memberConn) {
	r.mu.Lock()
	if _, ok := r.members[m.identity]; ok {
		r.mu.Unlock()
		m.sendJSON(signal.ErrorMessage{Type: signal.TypeError, Error: "already joined"})
		return
	}
	participants := r.participantsLocked()
	others := make([]*memberConn, 0, len(r.members))
	for _, id := range r.order {
		others = append(others, r.members[id])
	}
	r.members[m.identity] = m
	r.order = append(r.order, m.identity)
	r.mu.Unlock()

	log.Info().Str("module", "devserver").Str("identity", m.identity).Str("room", string(r.Name)).Msg("join")
	m.sendJSON(signal.RoomState{
		Type:         signal.TypeRoomState,
		Room:         r.Name,
		Identity:     m.identity,
		Participants: participants,
	})
	for _, o := range others {
		o.sendJSON(signal.ParticipantJoined{
			Type:        signal.TypeParticipantJoined,
			Participant: domain.Participant{Identity: m.identity},
		})
	}
}

func (r *Room) participantsLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.order)+1)
	if r.Agent != nil && r.Agent.Present() {
		out = append(out, r.Agent.Participant())
	}
	for _, id := range r.order {
		out = append(out, domain.Participant{Identity: id})
	}
	return out
}

func (r *Room) leave(m *memberConn) {
	r.mu.Lock()
	if _, ok := r.members[m.identity]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.members, m.identity)
	for i, id := range r.order {
		if id == m.identity {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	rest := make([]*memberConn, 0, len(r.members))
	for _, o := range r.members {
		rest = append(rest, o)
	}
	r.mu.Unlock()

	log.Info().Str("module", "devserver").Str("identity", m.identity).Msg("left")
	for _, o := range rest {
		o.sendJSON(signal.ParticipantLeft{Type: signal.TypeParticipantLeft, Identity: m.identity})
	}
}

func (r *Room) broadcast(v any) {
	r.mu.RLock()
	all := make([]*memberConn, 0, len(r.members))
	for _, m := range r.members {
		all = append(all, m)
	}
	r.mu.RUnlock()
	for _, m := range all {
		m.sendJSON(v)
	}
}

// SetAgentPresent adds or removes the agent and tells the members.
func (r *Room) SetAgentPresent(present bool) {
	if r.Agent == nil || r.Agent.Present() == present {
		return
	}
	r.Agent.setPresent(present)
	if present {
		r.broadcast(signal.ParticipantJoined{Type: signal.TypeParticipantJoined, Participant: r.Agent.Participant()})
	} else {
		r.broadcast(signal.ParticipantLeft{Type: signal.TypeParticipantLeft, Identity: r.Agent.Identity})
	}
}
