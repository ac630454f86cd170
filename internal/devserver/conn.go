package devserver

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

// memberConn is one joined client: its socket and its answering peer.
type memberConn struct {
	identity string
	conn     *websocket.Conn
	send     chan []byte

	mu     sync.RWMutex
	closed bool
	pc     *webrtc.PeerConnection
}

func (c *memberConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *memberConn) sendJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "devserver").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "devserver").Str("identity", c.identity).Msg("sendJSON dropped")
	}
}

func (c *memberConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	pc := c.pc
	c.mu.Unlock()
	_ = c.conn.Close()
	if pc != nil {
		_ = pc.Close()
	}
}

func (c *memberConn) writePump() {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			log.Error().Err(err).Str("module", "devserver").Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "devserver").Msg("writePump write error")
			return
		}
	}
}
