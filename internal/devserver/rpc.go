package devserver

import (
	"context"
	"encoding/json"

	"github.com/dkeye/voicectl/internal/adapters/signal"
	"github.com/rs/zerolog/log"
)

func (r *Room) handleRPCRequest(ctx context.Context, m *memberConn, data []byte) {
	var req signal.RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Error().Err(err).Str("module", "devserver").Msg("bad rpc payload")
		return
	}
	req.Caller = m.identity

	if r.Agent != nil && r.Agent.Present() && req.Destination == r.Agent.Identity {
		go func() {
			payload, err := r.Agent.Handle(ctx, req.Caller, req.Method, req.Payload)
			resp := signal.RPCResponse{Type: signal.TypeRPCResponse, ID: req.ID, Payload: payload}
			if err != nil {
				resp.Error = err.Error()
			}
			m.sendJSON(resp)
		}()
		return
	}

	r.mu.Lock()
	dst, ok := r.members[req.Destination]
	if ok {
		r.pending[req.ID] = m.identity
	}
	r.mu.Unlock()
	if !ok {
		m.sendJSON(signal.RPCResponse{Type: signal.TypeRPCResponse, ID: req.ID, Error: "destination not found"})
		return
	}
	dst.sendJSON(req)
}

func (r *Room) handleRPCResponse(data []byte) {
	var resp signal.RPCResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		log.Error().Err(err).Str("module", "devserver").Msg("bad rpc response")
		return
	}
	r.mu.Lock()
	caller, ok := r.pending[resp.ID]
	delete(r.pending, resp.ID)
	m := r.members[caller]
	r.mu.Unlock()
	if !ok || m == nil {
		return
	}
	m.sendJSON(resp)
}
