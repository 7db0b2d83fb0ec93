// Package signal implements the signaling channel over a websocket: JSON
// envelopes with request-id ack correlation outbound, and an ordered inbound
// stream of controller pushes.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 32
)

var ErrChannelClosed = errors.New("signaling channel closed")

// Channel is the websocket-backed signaling transport.
type Channel struct {
	conn    *websocket.Conn
	send    chan []byte
	inbound chan core.InboundMessage
	done    chan struct{}
	once    sync.Once

	nextID uint64

	mu   sync.Mutex
	acks map[uint64]core.AckFunc
}

// Dial opens the channel to the controller named by the token. It satisfies
// room.Dialer.
func Dial(token domain.Token) (core.Channel, error) {
	scheme := "ws"
	if token.Secure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: token.Host, Path: "/signaling"}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling channel: %w", err)
	}
	return New(conn), nil
}

// New wraps an established websocket connection; used directly by tests.
func New(conn *websocket.Conn) *Channel {
	c := &Channel{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		inbound: make(chan core.InboundMessage, sendBuffer),
		done:    make(chan struct{}),
		acks:    make(map[uint64]core.AckFunc),
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.readPump()
	go c.writePump()
	return c
}

func (c *Channel) Request(event string, payload any, ack core.AckFunc) {
	id := atomic.AddUint64(&c.nextID, 1)
	if ack != nil {
		c.mu.Lock()
		c.acks[id] = ack
		c.mu.Unlock()
	}
	if err := c.enqueue(id, event, payload); err != nil {
		c.failAck(id, err)
	}
}

func (c *Channel) Notify(event string, payload any) {
	if err := c.enqueue(0, event, payload); err != nil {
		log.Warn().Str("module", "signal").Str("event", event).Err(err).Msg("notify dropped")
	}
}

func (c *Channel) Inbound() <-chan core.InboundMessage { return c.inbound }

func (c *Channel) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Channel) enqueue(id uint64, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	frame, err := json.Marshal(protocol.Envelope{ID: id, Event: event, Payload: raw})
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrChannelClosed
	}
}

func (c *Channel) readPump() {
	defer func() {
		c.Close()
		c.failPending()
		close(c.inbound)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug().Str("module", "signal").Err(err).Msg("read pump closing")
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Str("module", "signal").Err(err).Msg("bad frame from controller")
			continue
		}
		if env.Event == protocol.AckEvent {
			c.resolveAck(env.Payload)
			continue
		}
		select {
		case c.inbound <- core.InboundMessage{Event: env.Event, Payload: env.Payload}:
		case <-c.done:
			return
		}
	}
}

func (c *Channel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Str("module", "signal").Err(err).Msg("write pump closing")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// resolveAck fires the pending callback for one answered request. Acks for
// unknown ids are dropped, keeping the at-most-once contract.
func (c *Channel) resolveAck(payload json.RawMessage) {
	var ack protocol.Ack
	if err := json.Unmarshal(payload, &ack); err != nil {
		log.Warn().Str("module", "signal").Err(err).Msg("bad ack frame")
		return
	}
	c.mu.Lock()
	fn := c.acks[ack.ID]
	delete(c.acks, ack.ID)
	c.mu.Unlock()
	if fn == nil {
		return
	}
	if !ack.OK {
		fn(nil, errors.New(ack.Error))
		return
	}
	fn(ack.Result, nil)
}

func (c *Channel) failAck(id uint64, err error) {
	c.mu.Lock()
	fn := c.acks[id]
	delete(c.acks, id)
	c.mu.Unlock()
	if fn != nil {
		fn(nil, err)
	}
}

// failPending resolves every outstanding request with a channel error once
// the transport is gone.
func (c *Channel) failPending() {
	c.mu.Lock()
	pending := c.acks
	c.acks = make(map[uint64]core.AckFunc)
	c.mu.Unlock()
	for _, fn := range pending {
		fn(nil, ErrChannelClosed)
	}
}
