package room

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/events"
	"github.com/dkeye/roomlink/internal/protocol"
)

type sentMessage struct {
	event   string
	payload any
	ack     core.AckFunc
}

// fakeChannel records outgoing traffic and lets tests answer acks
// synchronously. Pushes are fed straight into the room's demux in tests, so
// the inbound channel only models transport loss.
type fakeChannel struct {
	mu       sync.Mutex
	requests []sentMessage
	notifies []sentMessage
	inbound  chan core.InboundMessage
	once     sync.Once
	closed   bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{inbound: make(chan core.InboundMessage, 64)}
}

func (c *fakeChannel) Request(event string, payload any, ack core.AckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, sentMessage{event: event, payload: payload, ack: ack})
}

func (c *fakeChannel) Notify(event string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifies = append(c.notifies, sentMessage{event: event, payload: payload})
}

func (c *fakeChannel) Inbound() <-chan core.InboundMessage { return c.inbound }

func (c *fakeChannel) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.inbound)
	})
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) lastRequest(t *testing.T, event string) sentMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.requests) - 1; i >= 0; i-- {
		if c.requests[i].event == event {
			return c.requests[i]
		}
	}
	t.Fatalf("no %q request sent", event)
	return sentMessage{}
}

func (c *fakeChannel) countRequests(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.requests {
		if r.event == event {
			n++
		}
	}
	return n
}

func (c *fakeChannel) lastNotify(t *testing.T, event string) sentMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.notifies) - 1; i >= 0; i-- {
		if c.notifies[i].event == event {
			return c.notifies[i]
		}
	}
	t.Fatalf("no %q notify sent", event)
	return sentMessage{}
}

// ackLast answers the most recent request of the given event with a success
// result.
func (c *fakeChannel) ackLast(t *testing.T, event string, result any) {
	t.Helper()
	req := c.lastRequest(t, event)
	require.NotNil(t, req.ack, "request %q carries no ack", event)
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	req.ack(raw, nil)
}

func (c *fakeChannel) rejectLast(t *testing.T, event string, failure error) {
	t.Helper()
	req := c.lastRequest(t, event)
	require.NotNil(t, req.ack, "request %q carries no ack", event)
	req.ack(nil, failure)
}

// fakeConnection records lifecycle calls and exposes the callbacks the room
// registered so tests can drive state transitions.
type fakeConnection struct {
	mu        sync.Mutex
	cfg       core.ConnectionConfig
	offers    int
	processed []json.RawMessage
	tracks    int
	closed    int
}

func (c *fakeConnection) CreateOffer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers++
}

func (c *fakeConnection) ProcessSignaling(msg json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed = append(c.processed, msg)
	return nil
}

func (c *fakeConnection) AddLocalTrack(*webrtc.TrackLocalStaticRTP) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks++
	return nil
}

func (c *fakeConnection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
}

func (c *fakeConnection) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConnection) signals() []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]json.RawMessage(nil), c.processed...)
}

func (c *fakeConnection) offerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offers
}

func (c *fakeConnection) setState(state core.ConnectionState) {
	c.cfg.OnStateChange(state)
}

type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConnection
	err   error
}

func (f *fakeFactory) New(cfg core.ConnectionConfig) (core.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConnection{cfg: cfg}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeFactory) last(t *testing.T) *fakeConnection {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.conns, "no connection was created")
	return f.conns[len(f.conns)-1]
}

// eventRecorder captures every event the room dispatches, in order.
type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func recordEvents(r *Room) *eventRecorder {
	rec := &eventRecorder{}
	all := []events.Type{
		RoomConnected, RoomDisconnected, RoomError,
		StreamAdded, StreamRemoved, StreamSubscribed, StreamFailed,
		StreamData, StreamAttributesUpdate, BandwidthAlert,
	}
	for _, typ := range all {
		r.On(typ, func(e events.Event) {
			rec.mu.Lock()
			rec.events = append(rec.events, e)
			rec.mu.Unlock()
		})
	}
	return rec
}

func (rec *eventRecorder) count(typ events.Type) int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	n := 0
	for _, e := range rec.events {
		if e.Kind() == typ {
			n++
		}
	}
	return n
}

func (rec *eventRecorder) last(t *testing.T, typ events.Type) events.Event {
	t.Helper()
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i := len(rec.events) - 1; i >= 0; i-- {
		if rec.events[i].Kind() == typ {
			return rec.events[i]
		}
	}
	t.Fatalf("no %q event dispatched", typ)
	return nil
}

func testToken() string {
	return domain.EncodeToken(domain.Token{TokenID: "t1", Host: "controller.test"})
}

func push(event string, payload any) core.InboundMessage {
	raw, _ := json.Marshal(payload)
	return core.InboundMessage{Event: event, Payload: raw}
}

// newTestRoom builds a room wired to fakes, not yet connected.
func newTestRoom(ch *fakeChannel, f *fakeFactory) *Room {
	return New(Config{
		Token:         testToken(),
		Dial:          func(domain.Token) (core.Channel, error) { return ch, nil },
		NewConnection: f.New,
	})
}

// connectRoom performs the handshake against the fake channel.
func connectRoom(t *testing.T, r *Room, ch *fakeChannel, resp protocol.TokenResponse) {
	t.Helper()
	r.Connect()
	ch.ackLast(t, protocol.MsgToken, resp)
	require.Equal(t, domain.Connected, r.State())
}

func defaultSession(p2p bool) protocol.TokenResponse {
	return protocol.TokenResponse{
		ID:             "room1",
		P2P:            p2p,
		DefaultVideoBW: 300,
		MaxVideoBW:     600,
	}
}
