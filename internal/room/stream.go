package room

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/protocol"
)

// streamCaps is the capability record attached to a stream once its identity
// is finalized. Clearing it neutralizes stale references: calls on an
// unpublished stream become logged no-ops instead of panics.
type streamCaps struct {
	id       domain.StreamID
	send     func(msg any)
	setAttrs func(attrs domain.Attributes)
}

// Stream is one published or subscribed media/data unit. A Stream is owned
// by at most one Room; connection fields are mutated only by the owning
// Room's handlers.
type Stream struct {
	local  bool
	spec   domain.StreamSpec
	tracks []*webrtc.TrackLocalStaticRTP

	caps   atomic.Pointer[streamCaps]
	failed atomic.Bool

	attrMu sync.Mutex
	attrs  domain.Attributes

	// guarded by the owning Room's mutex
	pc    core.Connection
	peers map[string]core.Connection
}

// NewLocalStream builds a publishable stream. Tracks are the local media
// sources attached to the peer connection on relayed or per-peer publish;
// data-only and externally sourced streams carry none.
func NewLocalStream(spec domain.StreamSpec, tracks ...*webrtc.TrackLocalStaticRTP) *Stream {
	return &Stream{
		local:  true,
		spec:   spec,
		tracks: tracks,
		attrs:  spec.Attributes,
	}
}

func newRemoteStream(d protocol.StreamDescriptor) *Stream {
	s := &Stream{
		spec: domain.StreamSpec{
			Audio:      d.Audio,
			Video:      d.Video,
			Data:       d.Data,
			Screen:     d.Screen,
			Attributes: d.Attributes,
		},
		attrs: d.Attributes,
	}
	s.caps.Store(&streamCaps{id: d.ID})
	return s
}

// ID returns the server-assigned stream id, or "" if the stream has no
// active identity (never published, or already unpublished).
func (s *Stream) ID() domain.StreamID {
	if c := s.caps.Load(); c != nil {
		return c.id
	}
	return ""
}

func (s *Stream) Local() bool  { return s.local }
func (s *Stream) Failed() bool { return s.failed.Load() }

// Spec returns the stream's media description as of creation time.
func (s *Stream) Spec() domain.StreamSpec { return s.spec }

// Attributes returns the current application attributes.
func (s *Stream) Attributes() domain.Attributes {
	s.attrMu.Lock()
	defer s.attrMu.Unlock()
	return s.attrs
}

func (s *Stream) setLocalAttributes(attrs domain.Attributes) {
	s.attrMu.Lock()
	s.attrs = attrs
	s.attrMu.Unlock()
}

// SendData sends an application payload over the stream's data channel.
// Only local, published, data-capable streams can send.
func (s *Stream) SendData(msg any) {
	c := s.caps.Load()
	if c == nil || c.send == nil {
		log.Error().Str("module", "room.stream").Msg("cannot send data through this stream")
		return
	}
	c.send(msg)
}

// SetAttributes replaces the stream's attributes and propagates the update
// to the controller. Only local published streams can update.
func (s *Stream) SetAttributes(attrs domain.Attributes) {
	c := s.caps.Load()
	if c == nil || c.setAttrs == nil {
		log.Error().Str("module", "room.stream").Msg("cannot update attributes of this stream")
		return
	}
	c.setAttrs(attrs)
}

func (s *Stream) clearCaps() { s.caps.Store(nil) }

// markFailed flips the one-way failed flag; it reports false if the stream
// was already failed, so failure handling runs exactly once.
func (s *Stream) markFailed() bool {
	return s.failed.CompareAndSwap(false, true)
}
