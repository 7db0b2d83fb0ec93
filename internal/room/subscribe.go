package room

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/protocol"
)

// Subscribe asks for a remote stream's media or data. In peer-to-peer mode
// the request only relays the subscriber's identity and the connection is
// created reactively when the publisher pushes its offer; in relayed mode
// the connection is created eagerly on acknowledgment.
func (r *Room) Subscribe(s *Stream, opts domain.SubscribeOptions, cb ResultCallback) {
	switch {
	case s == nil:
		log.Warn().Str("module", "room").Msg("cannot subscribe to undefined stream")
		failResult(cb, ErrStreamUndefined)
		return
	case s.local:
		log.Warn().Str("module", "room").Msg("cannot subscribe to the local copy of a stream")
		failResult(cb, ErrStreamLocal)
		return
	case s.Failed():
		log.Warn().Str("module", "room").Msg("cannot subscribe to a failed stream, wait for a new stream-added")
		failResult(cb, ErrStreamFailed)
		return
	}
	if r.State() != domain.Connected {
		failResult(cb, ErrNotConnected)
		return
	}

	switch {
	case s.spec.HasMedia():
		// Never request media the publisher does not offer.
		opts.Restrict(s.spec)
		if r.P2P() {
			r.notify(protocol.MsgSubscribe, protocol.SubscribeRequest{
				StreamID: s.ID(),
				Metadata: opts.Metadata,
			})
			if cb != nil {
				cb(true, nil)
			}
			return
		}
		r.subscribeRelayed(s, opts, cb)
	case s.spec.Data:
		r.subscribeData(s, opts, cb)
	default:
		log.Warn().Str("module", "room").Str("stream", string(s.ID())).Msg("there is nothing to subscribe to")
		failResult(cb, ErrNothingToSubscribe)
	}
}

func (r *Room) subscribeRelayed(s *Stream, opts domain.SubscribeOptions, cb ResultCallback) {
	r.mu.Lock()
	opts.ClampVideo(r.defaultVideoBW, r.maxVideoBW)
	r.mu.Unlock()

	id := s.ID()
	req := protocol.SubscribeRequest{
		StreamID:      id,
		Audio:         opts.Audio,
		Video:         opts.Video,
		Data:          opts.Data,
		SlideShowMode: opts.SlideShowMode,
		Metadata:      opts.Metadata,
	}
	r.request(protocol.MsgSubscribe, req, func(_ json.RawMessage, err error) {
		if err != nil {
			log.Error().Str("module", "room").Err(err).Msg("error subscribing to stream")
			failResult(cb, err)
			return
		}

		r.mu.Lock()
		iceServers := r.iceServers
		maxAudio := r.maxAudioBW
		maxVideo := r.maxVideoBW
		r.mu.Unlock()
		pc, cerr := r.newPC(core.ConnectionConfig{
			OnMessage: func(msg json.RawMessage) {
				r.notify(protocol.MsgSignaling, protocol.SignalingMessage{StreamID: id, Msg: msg})
			},
			OnStateChange: func(state core.ConnectionState) {
				switch state {
				case core.ConnectionConnected:
					log.Info().Str("module", "room").Str("stream", string(id)).Msg("stream subscribed")
					r.Dispatch(StreamEvent{Type: StreamSubscribed, Stream: s})
				case core.ConnectionFailed:
					r.failRemoteStream(s, "subscribing stream failed after connection")
				}
			},
			ICEServers: iceServers,
			Audio:      opts.Audio,
			Video:      opts.Video,
			MaxAudioBW: maxAudio,
			MaxVideoBW: maxVideo,
		})
		if cerr != nil {
			log.Error().Str("module", "room").Err(cerr).Msg("cannot create subscribe connection")
			failResult(cb, cerr)
			return
		}
		r.mu.Lock()
		s.pc = pc
		r.mu.Unlock()
		pc.CreateOffer()
		log.Info().Str("module", "room").Str("stream", string(id)).Msg("subscriber added, negotiation started")
		if cb != nil {
			cb(true, nil)
		}
	})
}

func (r *Room) subscribeData(s *Stream, opts domain.SubscribeOptions, cb ResultCallback) {
	id := s.ID()
	req := protocol.SubscribeRequest{
		StreamID: id,
		Data:     true,
		Metadata: opts.Metadata,
	}
	r.request(protocol.MsgSubscribe, req, func(_ json.RawMessage, err error) {
		if err != nil {
			log.Error().Str("module", "room").Err(err).Msg("error subscribing to data stream")
			failResult(cb, err)
			return
		}
		log.Info().Str("module", "room").Str("stream", string(id)).Msg("data stream subscribed")
		r.Dispatch(StreamEvent{Type: StreamSubscribed, Stream: s})
		if cb != nil {
			cb(true, nil)
		}
	})
}

// Unsubscribe detaches the subscriber-side connection. Unlike Unpublish the
// stream stays registered: the controller still owns it, and only its
// onRemoveStream push deregisters.
func (r *Room) Unsubscribe(s *Stream, cb ResultCallback) {
	if s == nil || s.local {
		log.Error().Str("module", "room").Msg("cannot unsubscribe, stream does not exist or is not remote")
		if cb != nil {
			cb(false, ErrNotRemoteStream)
		}
		return
	}
	id := s.ID()
	r.request(protocol.MsgUnsubscribe, protocol.StreamRef{ID: id}, func(_ json.RawMessage, err error) {
		if err != nil {
			log.Error().Str("module", "room").Err(err).Msg("error unsubscribing from stream")
			if cb != nil {
				cb(false, err)
			}
			return
		}
		closeAll(r.detachConnections(s))
		log.Info().Str("module", "room").Str("stream", string(id)).Msg("stream unsubscribed")
		if cb != nil {
			cb(true, nil)
		}
	})
}

// failRemoteStream mirrors failLocalStream for the subscriber side.
func (r *Room) failRemoteStream(s *Stream, msg string) {
	if r.State() != domain.Connected {
		return
	}
	if !s.markFailed() {
		return
	}
	closeAll(r.detachConnections(s))
	log.Warn().Str("module", "room").Str("stream", string(s.ID())).Msg("subscribing stream failed after successful ICE checks")
	r.Dispatch(StreamEvent{Type: StreamFailed, Stream: s, Message: msg})
	r.Unsubscribe(s, nil)
}

func failResult(cb ResultCallback, err error) {
	if cb != nil {
		cb(false, err)
	}
}
