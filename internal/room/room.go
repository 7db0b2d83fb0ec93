// Package room implements the session-and-stream signaling core of one room
// membership: the session state machine, publish/subscribe lifecycle,
// inbound protocol dispatch and the failure policy. The media plane and the
// socket transport are consumed through the interfaces in internal/core.
package room

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/events"
	"github.com/dkeye/roomlink/internal/protocol"
)

var (
	ErrNotConnected       = errors.New("session is not connected")
	ErrInvalidStream      = errors.New("invalid stream")
	ErrStreamUndefined    = errors.New("invalid or undefined stream")
	ErrStreamLocal        = errors.New("local copy of stream")
	ErrStreamFailed       = errors.New("failed stream")
	ErrNothingToSubscribe = errors.New("nothing to subscribe to")
	ErrNotLocalStream     = errors.New("stream does not exist or is not local")
	ErrNotRemoteStream    = errors.New("stream does not exist or is not remote")
)

// Dialer opens the signaling channel to the controller named by the token.
type Dialer func(token domain.Token) (core.Channel, error)

// PublishCallback reports the outcome of a publish request.
type PublishCallback func(id domain.StreamID, err error)

// ResultCallback reports the outcome of any other request.
type ResultCallback func(ok bool, err error)

// Config wires a Room to its collaborators.
type Config struct {
	// Token is the base64 credential issued by the application service.
	Token string
	// Dial opens the signaling channel.
	Dial Dialer
	// NewConnection builds media connections; injectable for tests.
	NewConnection core.ConnectionFactory
}

// Room owns the session state, both stream registries and every media
// connection of one room membership. All mutation happens under mu; events
// are always dispatched with mu released so observers may call back in.
type Room struct {
	*events.Dispatcher

	token string
	dial  Dialer
	newPC core.ConnectionFactory

	mu      sync.Mutex
	streams registry

	state domain.SessionState
	id    domain.RoomID
	p2p   bool

	iceServers     []domain.ICEServer
	defaultVideoBW uint64
	maxVideoBW     uint64
	maxAudioBW     uint64

	ch core.Channel
}

func New(cfg Config) *Room {
	r := &Room{
		Dispatcher: events.NewDispatcher(),
		token:      cfg.Token,
		dial:       cfg.Dial,
		newPC:      cfg.NewConnection,
		streams:    newRegistry(),
	}
	// Teardown lives behind the room-disconnected event so that expected and
	// unexpected disconnections share one idempotent path.
	r.On(RoomDisconnected, func(events.Event) { r.teardown() })
	return r
}

// RoomID returns the controller-assigned room identifier, set on handshake.
func (r *Room) RoomID() domain.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

// State returns the current session state.
func (r *Room) State() domain.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// P2P reports whether the session runs in peer-to-peer topology.
func (r *Room) P2P() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.p2p
}

// LocalStreams returns a snapshot of the published streams by id.
func (r *Room) LocalStreams() map[domain.StreamID]*Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domain.StreamID]*Stream, len(r.streams.local))
	for id, s := range r.streams.local {
		out[id] = s
	}
	return out
}

// RemoteStreams returns a snapshot of the known remote streams by id.
func (r *Room) RemoteStreams() map[domain.StreamID]*Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domain.StreamID]*Stream, len(r.streams.remote))
	for id, s := range r.streams.remote {
		out[id] = s
	}
	return out
}

// Connect decodes the credential token, opens the signaling channel and
// performs the handshake. Completion is reported through room-connected or
// room-error events.
func (r *Room) Connect() {
	token, err := domain.DecodeToken(r.token)
	if err != nil {
		log.Error().Str("module", "room").Err(err).Msg("bad credential token")
		r.Dispatch(RoomEvent{Type: RoomError, Message: err.Error()})
		return
	}

	r.mu.Lock()
	if r.state != domain.Disconnected {
		log.Warn().Str("module", "room").Str("state", r.state.String()).Msg("room already connected")
	}
	r.state = domain.Connecting
	r.mu.Unlock()

	ch, err := r.dial(token)
	if err != nil {
		log.Error().Str("module", "room").Err(err).Msg("cannot reach the controller")
		r.mu.Lock()
		r.state = domain.Disconnected
		r.mu.Unlock()
		r.Dispatch(RoomEvent{Type: RoomError, Message: err.Error()})
		return
	}

	r.mu.Lock()
	r.ch = ch
	r.mu.Unlock()
	go r.readLoop(ch)

	ch.Request(protocol.MsgToken, token, func(result json.RawMessage, err error) {
		if err != nil {
			log.Error().Str("module", "room").Err(err).Msg("handshake rejected")
			r.Dispatch(RoomEvent{Type: RoomError, Message: err.Error()})
			return
		}
		var resp protocol.TokenResponse
		if uerr := json.Unmarshal(result, &resp); uerr != nil {
			log.Error().Str("module", "room").Err(uerr).Msg("malformed session descriptor")
			r.Dispatch(RoomEvent{Type: RoomError, Message: uerr.Error()})
			return
		}

		r.mu.Lock()
		r.id = resp.ID
		r.p2p = resp.P2P
		r.iceServers = resp.ICEServers
		r.defaultVideoBW = resp.DefaultVideoBW
		r.maxVideoBW = resp.MaxVideoBW
		streamList := make([]*Stream, 0, len(resp.Streams))
		for _, d := range resp.Streams {
			s := newRemoteStream(d)
			r.streams.remote[d.ID] = s
			streamList = append(streamList, s)
		}
		r.state = domain.Connected
		r.mu.Unlock()

		log.Info().Str("module", "room").Str("room", string(resp.ID)).Bool("p2p", resp.P2P).
			Int("streams", len(streamList)).Msg("connected to room")
		r.Dispatch(RoomEvent{Type: RoomConnected, Streams: streamList})
	})
}

// Disconnect leaves the room. The actual teardown happens in the
// room-disconnected listener registered at construction, so transport-
// initiated and user-initiated disconnections behave identically.
func (r *Room) Disconnect() {
	log.Debug().Str("module", "room").Msg("disconnection requested")
	r.Dispatch(RoomEvent{Type: RoomDisconnected, Message: ReasonExpected})
}

// readLoop consumes server pushes until the transport is gone. An exhausted
// inbound channel while the session is still live is an unexpected loss.
func (r *Room) readLoop(ch core.Channel) {
	for msg := range ch.Inbound() {
		r.route(msg)
	}

	r.mu.Lock()
	lost := r.state != domain.Disconnected && r.ch == ch
	r.mu.Unlock()
	if lost {
		log.Error().Str("module", "room").Msg("unexpected disconnection from the controller")
		r.Dispatch(RoomEvent{Type: RoomDisconnected, Message: ReasonUnexpected})
	}
}

// teardown removes every stream, closes every connection, clears both
// registries and closes the channel. Idempotent: a second run finds nothing
// to do.
func (r *Room) teardown() {
	r.mu.Lock()
	r.state = domain.Disconnected
	remote := r.streams.remote
	local := r.streams.local
	r.streams.clear()
	ch := r.ch
	r.ch = nil
	r.mu.Unlock()

	for _, s := range remote {
		pc := r.detachConnections(s)
		closeAll(pc)
		if !s.Failed() {
			r.Dispatch(StreamEvent{Type: StreamRemoved, Stream: s})
		}
	}
	for _, s := range local {
		closeAll(r.detachConnections(s))
		s.clearCaps()
	}

	if ch != nil {
		ch.Close()
	}
	log.Info().Str("module", "room").Msg("session torn down")
}

// detachConnections removes and returns every connection a stream holds,
// covering both the single-relay field and the full per-peer key set.
func (r *Room) detachConnections(s *Stream) []core.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.Connection
	if s.pc != nil {
		out = append(out, s.pc)
		s.pc = nil
	}
	for peer, pc := range s.peers {
		out = append(out, pc)
		delete(s.peers, peer)
	}
	return out
}

func closeAll(pcs []core.Connection) {
	for _, pc := range pcs {
		pc.Close()
	}
}

// request sends an acked message if the channel is up; otherwise the ack is
// failed immediately.
func (r *Room) request(event string, payload any, ack core.AckFunc) {
	r.mu.Lock()
	ch := r.ch
	st := r.state
	r.mu.Unlock()
	if ch == nil || st == domain.Disconnected {
		log.Warn().Str("module", "room").Str("event", event).Msg("request over a disconnected channel")
		if ack != nil {
			ack(nil, ErrNotConnected)
		}
		return
	}
	ch.Request(event, payload, ack)
}

// notify sends a fire-and-forget message; dropped silently when the channel
// is gone, matching the at-most-once contract of signaling relays.
func (r *Room) notify(event string, payload any) {
	r.mu.Lock()
	ch := r.ch
	st := r.state
	r.mu.Unlock()
	if ch == nil || st == domain.Disconnected {
		log.Warn().Str("module", "room").Str("event", event).Msg("notify over a disconnected channel")
		return
	}
	ch.Notify(event, payload)
}

func rawJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Str("module", "room").Err(err).Msg("cannot marshal payload")
		return nil
	}
	return b
}
