// Package signal is the client side of the room signaling socket: join,
// SDP/ICE exchange, participant updates and unary RPC between participants.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/voicectl/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("signal connection closed")
)

const (
	writeWait    = 5 * time.Second
	pingInterval = 15 * time.Second
	sendBuffer   = 32
)

// Handlers receive server pushed messages. They run on the read goroutine and
// must not block on the client.
type Handlers struct {
	RoomState         func(RoomState)
	ParticipantJoined func(domain.Participant)
	ParticipantLeft   func(identity string)
	Answer            func(webrtc.SessionDescription)
	Candidate         func(webrtc.ICECandidateInit)
	// RPC serves calls addressed to this participant. Nil rejects them.
	RPC func(method, payload string) (string, error)
	// Closed is called once when the connection ends, with the read error.
	Closed func(error)
}

type rpcResult struct {
	payload string
	err     error
}

type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	handlers Handlers
	done     chan struct{}

	mu      sync.RWMutex
	closed  bool
	pending map[string]chan rpcResult
}

// Dial opens the signaling socket at url, authenticating with token.
func Dial(ctx context.Context, url, token string, h Handlers) (*Client, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial signal: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial signal: %w", err)
	}
	c := &Client{
		conn:     ws,
		send:     make(chan []byte, sendBuffer),
		handlers: h,
		done:     make(chan struct{}),
		pending:  make(map[string]chan rpcResult),
	}
	go c.writePump()
	go c.readPump()
	log.Info().Str("module", "signal").Str("url", url).Msg("signal connected")
	return c, nil
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} { return c.done }

// Send queues v for writing. It never blocks.
func (c *Client) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %T: %w", v, err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

// Call sends a unary RPC to the participant with the given identity and waits
// for its response or ctx.
func (c *Client) Call(ctx context.Context, destination, method, payload string) (string, error) {
	id := uuid.NewString()
	ch := make(chan rpcResult, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer c.forget(id)

	req := RPCRequest{Type: TypeRPCRequest, ID: id, Destination: destination, Method: method, Payload: payload}
	if err := c.Send(req); err != nil {
		return "", err
	}

	select {
	case res := <-ch:
		return res.payload, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return "", ErrClosed
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Close sends a best-effort leave and closes the socket.
func (c *Client) Close() {
	_ = c.Send(Envelope{Type: TypeLeave})
	c.shutdown()
	<-c.done
}

func (c *Client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = c.conn.Close()
	}()
	ping, _ := json.Marshal(Envelope{Type: TypePing})

	for {
		var data []byte
		select {
		case b, ok := <-c.send:
			if !ok {
				return
			}
			data = b
		case <-ticker.C:
			data = ping
		case <-c.done:
			return
		}
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
			return
		}
	}
}

func (c *Client) readPump() {
	var readErr error
	defer func() {
		c.shutdown()
		_ = c.conn.Close()
		close(c.done)
		if c.handlers.Closed != nil {
			c.handlers.Closed(readErr)
		}
		log.Info().Err(readErr).Str("module", "signal").Msg("readPump closing")
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				readErr = err
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	env, err := decode[Envelope](data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case TypeRoomState:
		if m, err := decode[RoomState](data); c.ok(err, env.Type) && c.handlers.RoomState != nil {
			c.handlers.RoomState(m)
		}
	case TypeParticipantJoined:
		if m, err := decode[ParticipantJoined](data); c.ok(err, env.Type) && c.handlers.ParticipantJoined != nil {
			c.handlers.ParticipantJoined(m.Participant)
		}
	case TypeParticipantLeft:
		if m, err := decode[ParticipantLeft](data); c.ok(err, env.Type) && c.handlers.ParticipantLeft != nil {
			c.handlers.ParticipantLeft(m.Identity)
		}
	case TypeAnswer:
		if m, err := decode[SessionDescription](data); c.ok(err, env.Type) && c.handlers.Answer != nil {
			c.handlers.Answer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: m.SDP})
		}
	case TypeCandidate:
		if m, err := decode[Candidate](data); c.ok(err, env.Type) && c.handlers.Candidate != nil {
			c.handlers.Candidate(m.Candidate)
		}
	case TypeRPCResponse:
		if m, err := decode[RPCResponse](data); c.ok(err, env.Type) {
			c.resolve(m)
		}
	case TypeRPCRequest:
		if m, err := decode[RPCRequest](data); c.ok(err, env.Type) {
			go c.serve(m)
		}
	case TypeError:
		m, _ := decode[ErrorMessage](data)
		log.Warn().Str("module", "signal").Str("error", m.Error).Msg("server error")
	case TypePong:
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (c *Client) ok(err error, typ string) bool {
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("type", typ).Msg("bad payload")
		return false
	}
	return true
}

func (c *Client) resolve(m RPCResponse) {
	c.mu.RLock()
	ch, ok := c.pending[m.ID]
	c.mu.RUnlock()
	if !ok {
		log.Debug().Str("module", "signal").Str("id", m.ID).Msg("response for unknown rpc")
		return
	}
	res := rpcResult{payload: m.Payload}
	if m.Error != "" {
		res.err = &RemoteError{Message: m.Error}
	}
	select {
	case ch <- res:
	default:
	}
}

func (c *Client) serve(m RPCRequest) {
	resp := RPCResponse{Type: TypeRPCResponse, ID: m.ID}
	if c.handlers.RPC == nil {
		resp.Error = "unsupported method " + m.Method
	} else if out, err := c.handlers.RPC(m.Method, m.Payload); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Payload = out
	}
	if err := c.Send(resp); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("method", m.Method).Msg("rpc response not sent")
	}
}

// RemoteError is an error reported by the remote side of an RPC.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "remote: " + e.Message }
