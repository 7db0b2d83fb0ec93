package room

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/protocol"
)

// route demultiplexes one inbound controller push to exactly one handler.
// Handlers are idempotent against duplicate and stale notifications.
func (r *Room) route(msg core.InboundMessage) {
	switch msg.Event {
	case protocol.MsgOnAddStream:
		r.handleAddStream(msg.Payload)
	case protocol.MsgOnRemoveStream:
		r.handleRemoveStream(msg.Payload)
	case protocol.MsgSignalingErizo:
		r.handleSignalingErizo(msg.Payload)
	case protocol.MsgSignalingPeer:
		r.handleSignalingPeer(msg.Payload)
	case protocol.MsgPublishMe:
		r.handlePublishMe(msg.Payload)
	case protocol.MsgOnBandwidthAlert:
		r.handleBandwidthAlert(msg.Payload)
	case protocol.MsgOnDataStream:
		r.handleDataStream(msg.Payload)
	case protocol.MsgOnUpdateAttributes:
		r.handleUpdateAttributes(msg.Payload)
	case protocol.MsgOnConnectionFailed:
		r.handleConnectionFailed(msg.Payload)
	case protocol.MsgDisconnect:
		r.handleDisconnect()
	default:
		log.Debug().Str("module", "room").Str("event", msg.Event).Msg("unknown controller event")
	}
}

func (r *Room) handleAddStream(payload json.RawMessage) {
	var d protocol.StreamDescriptor
	if err := json.Unmarshal(payload, &d); err != nil {
		log.Warn().Str("module", "room").Err(err).Msg("bad onAddStream payload")
		return
	}
	r.mu.Lock()
	if _, dup := r.streams.remote[d.ID]; dup {
		r.mu.Unlock()
		log.Debug().Str("module", "room").Str("stream", string(d.ID)).Msg("duplicate onAddStream ignored")
		return
	}
	s := newRemoteStream(d)
	r.streams.remote[d.ID] = s
	r.mu.Unlock()
	r.Dispatch(StreamEvent{Type: StreamAdded, Stream: s})
}

func (r *Room) handleRemoveStream(payload json.RawMessage) {
	var ref protocol.StreamRef
	if err := json.Unmarshal(payload, &ref); err != nil {
		log.Warn().Str("module", "room").Err(err).Msg("bad onRemoveStream payload")
		return
	}

	r.mu.Lock()
	local := r.streams.local[ref.ID]
	r.mu.Unlock()
	if local != nil {
		// The controller dropped our own stream, most likely because its
		// media agent timed out.
		if !local.markFailed() {
			return
		}
		log.Warn().Str("module", "room").Str("stream", string(ref.ID)).Msg("controller removed our own stream")
		r.Dispatch(StreamEvent{Type: StreamFailed, Stream: local, Message: "publishing local stream failed controller side"})
		r.Unpublish(local, nil)
		return
	}

	r.mu.Lock()
	remote := r.streams.remote[ref.ID]
	if remote == nil {
		r.mu.Unlock()
		log.Debug().Str("module", "room").Str("stream", string(ref.ID)).Msg("removeStream for unregistered stream ignored")
		return
	}
	if remote.Failed() {
		r.mu.Unlock()
		log.Debug().Str("module", "room").Str("stream", string(ref.ID)).Msg("removeStream for already failed stream ignored")
		return
	}
	delete(r.streams.remote, ref.ID)
	r.mu.Unlock()

	closeAll(r.detachConnections(remote))
	r.Dispatch(StreamEvent{Type: StreamRemoved, Stream: remote})
}

func (r *Room) handleSignalingErizo(payload json.RawMessage) {
	var m protocol.SignalingMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		log.Warn().Str("module", "room").Err(err).Msg("bad signaling payload")
		return
	}

	r.mu.Lock()
	var s *Stream
	if m.PeerID != "" {
		s = r.streams.remote[m.PeerID]
	} else {
		s = r.streams.local[m.StreamID]
	}
	var pc core.Connection
	if s != nil {
		pc = s.pc
	}
	r.mu.Unlock()

	if s == nil || s.Failed() || pc == nil {
		return
	}
	if err := pc.ProcessSignaling(m.Msg); err != nil {
		log.Warn().Str("module", "room").Err(err).Msg("cannot process signaling message")
	}
}

// handleSignalingPeer routes p2p negotiation traffic: either to a publisher's
// per-peer connection, or to the subscriber side, where the connection is
// created lazily on the publisher's first message.
func (r *Room) handleSignalingPeer(payload json.RawMessage) {
	var m protocol.SignalingMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		log.Warn().Str("module", "room").Err(err).Msg("bad peer signaling payload")
		return
	}

	r.mu.Lock()
	if local := r.streams.local[m.StreamID]; local != nil && !local.Failed() {
		pc := local.peers[m.PeerSocket]
		r.mu.Unlock()
		if pc == nil {
			log.Debug().Str("module", "room").Str("peer", m.PeerSocket).Msg("peer signaling for unknown peer connection")
			return
		}
		if err := pc.ProcessSignaling(m.Msg); err != nil {
			log.Warn().Str("module", "room").Err(err).Msg("cannot process peer signaling message")
		}
		return
	}
	remote := r.streams.remote[m.StreamID]
	r.mu.Unlock()
	if remote == nil {
		log.Debug().Str("module", "room").Str("stream", string(m.StreamID)).Msg("peer signaling for unknown stream ignored")
		return
	}

	pc, err := r.ensureRemotePeerConnection(remote, m.PeerSocket)
	if err != nil {
		log.Error().Str("module", "room").Err(err).Msg("cannot create receiving peer connection")
		return
	}
	if err := pc.ProcessSignaling(m.Msg); err != nil {
		log.Warn().Str("module", "room").Err(err).Msg("cannot process peer signaling message")
	}
}

func (r *Room) handleBandwidthAlert(payload json.RawMessage) {
	var a protocol.BandwidthAlert
	if err := json.Unmarshal(payload, &a); err != nil {
		log.Warn().Str("module", "room").Err(err).Msg("bad bandwidth alert payload")
		return
	}
	log.Info().Str("module", "room").Str("stream", string(a.StreamID)).
		Str("message", a.Message).Uint64("bandwidth", a.Bandwidth).Msg("bandwidth alert")
	r.mu.Lock()
	s := r.streams.remote[a.StreamID]
	r.mu.Unlock()
	if s == nil || s.Failed() {
		return
	}
	r.Dispatch(StreamEvent{Type: BandwidthAlert, Stream: s, Message: a.Message, Bandwidth: a.Bandwidth})
}

func (r *Room) handleDataStream(payload json.RawMessage) {
	var d protocol.DataStream
	if err := json.Unmarshal(payload, &d); err != nil {
		log.Warn().Str("module", "room").Err(err).Msg("bad data stream payload")
		return
	}
	r.mu.Lock()
	s := r.streams.remote[d.ID]
	r.mu.Unlock()
	if s == nil {
		log.Debug().Str("module", "room").Str("stream", string(d.ID)).Msg("data for unknown stream ignored")
		return
	}
	r.Dispatch(StreamEvent{Type: StreamData, Stream: s, Msg: d.Msg})
}

func (r *Room) handleUpdateAttributes(payload json.RawMessage) {
	var u protocol.UpdateAttributes
	if err := json.Unmarshal(payload, &u); err != nil {
		log.Warn().Str("module", "room").Err(err).Msg("bad attribute update payload")
		return
	}
	r.mu.Lock()
	s := r.streams.remote[u.ID]
	r.mu.Unlock()
	if s == nil {
		log.Debug().Str("module", "room").Str("stream", string(u.ID)).Msg("attribute update for unknown stream ignored")
		return
	}
	s.setLocalAttributes(u.Attrs)
	r.Dispatch(StreamEvent{Type: StreamAttributesUpdate, Stream: s, Attrs: u.Attrs})
}

// handleConnectionFailed applies the controller-observed ICE failure to the
// matching side, with the same exactly-once policy as locally observed
// failures.
func (r *Room) handleConnectionFailed(payload json.RawMessage) {
	var f protocol.ConnectionFailed
	if err := json.Unmarshal(payload, &f); err != nil {
		log.Warn().Str("module", "room").Err(err).Msg("bad connection_failed payload")
		return
	}
	if f.StreamID == "" || r.State() == domain.Disconnected {
		return
	}

	if f.Type == "publish" {
		log.Error().Str("module", "room").Str("stream", string(f.StreamID)).Msg("ICE connection failed on publishing stream")
		r.mu.Lock()
		s := r.streams.local[f.StreamID]
		r.mu.Unlock()
		if s != nil {
			r.failLocalStream(s, "publishing local stream failed ICE checks")
		}
		return
	}

	log.Error().Str("module", "room").Str("stream", string(f.StreamID)).Msg("ICE connection failed on subscribed stream")
	r.mu.Lock()
	s := r.streams.remote[f.StreamID]
	r.mu.Unlock()
	if s != nil {
		r.failRemoteStream(s, "subscriber failed ICE, cannot reach the relay for media")
	}
}

func (r *Room) handleDisconnect() {
	log.Info().Str("module", "room").Msg("controller closed the session")
	if r.State() == domain.Disconnected {
		return
	}
	r.Dispatch(RoomEvent{Type: RoomDisconnected, Message: ReasonUnexpected})
}
