package room

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/protocol"
)

// Publish announces a local stream to the room. The publish kind is selected
// from the stream contents and the session topology: external source,
// peer-to-peer media, relayed media or data-only. Completion is asynchronous
// through cb; a rejected publish leaves the stream out of the registry and
// publishable again.
func (r *Room) Publish(s *Stream, opts domain.PublishOptions, cb PublishCallback) {
	r.mu.Lock()
	st := r.state
	p2p := r.p2p
	opts.Clamp(r.defaultVideoBW, r.maxVideoBW)
	registered := false
	if s != nil {
		if id := s.ID(); id != "" {
			_, registered = r.streams.local[id]
		}
	}
	r.mu.Unlock()

	if st != domain.Connected {
		fail(cb, ErrNotConnected)
		return
	}
	if s == nil || !s.local || s.Failed() || registered {
		log.Error().Str("module", "room").Msg("trying to publish invalid stream")
		fail(cb, ErrInvalidStream)
		return
	}

	switch {
	case s.spec.HasMedia() && s.spec.External():
		r.publishExternal(s, opts, cb)
	case s.spec.HasMedia() && p2p:
		r.publishP2P(s, opts, cb)
	case s.spec.HasMedia():
		r.publishRelayed(s, opts, cb)
	case s.spec.Data:
		r.publishData(s, opts, cb)
	default:
		log.Error().Str("module", "room").Msg("stream carries nothing to publish")
		fail(cb, ErrInvalidStream)
	}
}

// publishExternal asks the controller to drive a URL or recording source; no
// local connection ever exists for these.
func (r *Room) publishExternal(s *Stream, opts domain.PublishOptions, cb PublishCallback) {
	state := protocol.StateURL
	source := s.spec.URL
	if source == "" {
		state = protocol.StateRecording
		source = s.spec.Recording
	}
	req := protocol.PublishRequest{
		State:       state,
		Source:      source,
		Audio:       s.spec.Audio,
		Video:       s.spec.Video,
		Data:        s.spec.Data,
		Attributes:  s.Attributes(),
		Metadata:    opts.Metadata,
		CreateOffer: opts.CreateOffer,
	}
	r.request(protocol.MsgPublish, req, func(result json.RawMessage, err error) {
		id, err := decodeStreamID(result, err)
		if err != nil {
			log.Error().Str("module", "room").Err(err).Msg("error publishing external stream")
			fail(cb, err)
			return
		}
		r.registerLocal(s, id)
		log.Info().Str("module", "room").Str("stream", string(id)).Msg("external stream published")
		if cb != nil {
			cb(id, nil)
		}
	})
}

// publishP2P only announces the stream; per-peer connections are created
// lazily when the controller pushes publish_me for each subscriber.
func (r *Room) publishP2P(s *Stream, opts domain.PublishOptions, cb PublishCallback) {
	r.mu.Lock()
	// Remembered for the lazily created per-peer connections.
	r.maxAudioBW = opts.MaxAudioBW
	r.maxVideoBW = opts.MaxVideoBW
	r.mu.Unlock()

	req := protocol.PublishRequest{
		State:      protocol.StateP2P,
		Audio:      s.spec.Audio,
		Video:      s.spec.Video,
		Data:       s.spec.Data,
		Screen:     s.spec.Screen,
		Attributes: s.Attributes(),
		Metadata:   opts.Metadata,
	}
	r.request(protocol.MsgPublish, req, func(result json.RawMessage, err error) {
		id, err := decodeStreamID(result, err)
		if err != nil {
			log.Error().Str("module", "room").Err(err).Msg("error publishing p2p stream")
			fail(cb, err)
			return
		}
		r.registerLocal(s, id)
		log.Info().Str("module", "room").Str("stream", string(id)).Msg("p2p stream published")
		if cb != nil {
			cb(id, nil)
		}
	})
}

// publishRelayed creates the single relay connection once the controller has
// assigned an id, wires its offer back through the channel and arms the
// failed-ICE policy.
func (r *Room) publishRelayed(s *Stream, opts domain.PublishOptions, cb PublishCallback) {
	req := protocol.PublishRequest{
		State:       protocol.StateErizo,
		Audio:       s.spec.Audio,
		Video:       s.spec.Video,
		Data:        s.spec.Data,
		Screen:      s.spec.Screen,
		MinVideoBW:  opts.MinVideoBW,
		Attributes:  s.Attributes(),
		Metadata:    opts.Metadata,
		CreateOffer: opts.CreateOffer,
		Scheme:      opts.Scheme,
	}
	r.request(protocol.MsgPublish, req, func(result json.RawMessage, err error) {
		id, err := decodeStreamID(result, err)
		if err != nil {
			log.Error().Str("module", "room").Err(err).Msg("error publishing stream")
			fail(cb, err)
			return
		}

		r.registerLocal(s, id)

		r.mu.Lock()
		iceServers := r.iceServers
		maxAudio := r.maxAudioBW
		r.mu.Unlock()
		pc, cerr := r.newPC(core.ConnectionConfig{
			OnMessage: func(msg json.RawMessage) {
				r.notify(protocol.MsgSignaling, protocol.SignalingMessage{StreamID: id, Msg: msg})
			},
			OnStateChange: func(state core.ConnectionState) {
				if state == core.ConnectionFailed {
					r.failLocalStream(s, "publishing stream failed after connection")
				}
			},
			ICEServers: iceServers,
			Audio:      s.spec.Audio,
			Video:      s.spec.Video,
			MaxAudioBW: maxAudio,
			MaxVideoBW: opts.MaxVideoBW,
			Simulcast:  opts.Simulcast,
		})
		if cerr != nil {
			log.Error().Str("module", "room").Err(cerr).Msg("cannot create publish connection")
			r.dropLocal(s, id)
			fail(cb, cerr)
			return
		}
		for _, track := range s.tracks {
			if terr := pc.AddLocalTrack(track); terr != nil {
				log.Error().Str("module", "room").Err(terr).Msg("cannot attach local track")
			}
		}
		r.mu.Lock()
		s.pc = pc
		r.mu.Unlock()
		if !opts.CreateOffer {
			pc.CreateOffer()
		}
		log.Info().Str("module", "room").Str("stream", string(id)).Msg("stream published, negotiation started")
		if cb != nil {
			cb(id, nil)
		}
	})
}

func (r *Room) publishData(s *Stream, opts domain.PublishOptions, cb PublishCallback) {
	req := protocol.PublishRequest{
		State:      protocol.StateData,
		Data:       true,
		Attributes: s.Attributes(),
		Metadata:   opts.Metadata,
	}
	r.request(protocol.MsgPublish, req, func(result json.RawMessage, err error) {
		id, err := decodeStreamID(result, err)
		if err != nil {
			log.Error().Str("module", "room").Err(err).Msg("error publishing data stream")
			fail(cb, err)
			return
		}
		r.registerLocal(s, id)
		log.Info().Str("module", "room").Str("stream", string(id)).Msg("data stream published")
		if cb != nil {
			cb(id, nil)
		}
	})
}

// Unpublish withdraws a local stream. Local cleanup is unconditional; the
// controller's answer only decides whether the failed flag is cleared, which
// makes the stream publishable again.
func (r *Room) Unpublish(s *Stream, cb ResultCallback) {
	if s == nil || !s.local {
		log.Error().Str("module", "room").Msg("cannot unpublish, stream does not exist or is not local")
		if cb != nil {
			cb(false, ErrNotLocalStream)
		}
		return
	}
	id := s.ID()

	r.request(protocol.MsgUnpublish, protocol.StreamRef{ID: id}, func(_ json.RawMessage, err error) {
		if err != nil {
			log.Error().Str("module", "room").Err(err).Msg("error unpublishing stream")
			if cb != nil {
				cb(false, err)
			}
			return
		}
		// Correctly removed controller-side, so eligible to publish again.
		s.failed.Store(false)
		log.Info().Str("module", "room").Str("stream", string(id)).Msg("stream unpublished")
		if cb != nil {
			cb(true, nil)
		}
	})

	closeAll(r.detachConnections(s))
	r.mu.Lock()
	delete(r.streams.local, id)
	r.mu.Unlock()
	s.clearCaps()
}

// registerLocal records a freshly acknowledged stream and attaches its
// capability record.
func (r *Room) registerLocal(s *Stream, id domain.StreamID) {
	caps := &streamCaps{
		id: id,
		setAttrs: func(attrs domain.Attributes) {
			s.setLocalAttributes(attrs)
			r.notify(protocol.MsgUpdateAttributes, protocol.UpdateAttributes{ID: id, Attrs: attrs})
		},
	}
	if s.spec.Data {
		caps.send = func(msg any) {
			r.notify(protocol.MsgSendDataStream, protocol.DataStream{ID: id, Msg: rawJSON(msg)})
		}
	}
	s.caps.Store(caps)
	r.mu.Lock()
	r.streams.local[id] = s
	r.mu.Unlock()
}

func (r *Room) dropLocal(s *Stream, id domain.StreamID) {
	r.mu.Lock()
	delete(r.streams.local, id)
	r.mu.Unlock()
	s.clearCaps()
}

// failLocalStream applies the media-link failure policy to a published
// stream: close and detach the connection first, then exactly one
// stream-failed event and one corrective unpublish.
func (r *Room) failLocalStream(s *Stream, msg string) {
	if r.State() != domain.Connected {
		return
	}
	if !s.markFailed() {
		return
	}
	closeAll(r.detachConnections(s))
	log.Warn().Str("module", "room").Str("stream", string(s.ID())).Msg("publishing stream failed after successful ICE checks")
	r.Dispatch(StreamEvent{Type: StreamFailed, Stream: s, Message: msg})
	r.Unpublish(s, nil)
}

func decodeStreamID(result json.RawMessage, err error) (domain.StreamID, error) {
	if err != nil {
		return "", err
	}
	var id domain.StreamID
	if uerr := json.Unmarshal(result, &id); uerr != nil {
		return "", uerr
	}
	return id, nil
}

func fail(cb PublishCallback, err error) {
	if cb != nil {
		cb("", err)
	}
}
