package room

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/protocol"
)

// handlePublishMe reacts to a subscriber wanting our stream in peer-to-peer
// mode: create one outbound connection keyed by the subscriber's socket id
// and produce an offer. Per-peer ICE failure closes and removes only that
// entry; the stream itself stays healthy.
func (r *Room) handlePublishMe(payload json.RawMessage) {
	var req protocol.PublishMe
	if err := json.Unmarshal(payload, &req); err != nil {
		log.Warn().Str("module", "room").Err(err).Msg("bad publish_me payload")
		return
	}

	r.mu.Lock()
	s := r.streams.local[req.StreamID]
	iceServers := r.iceServers
	maxAudio := r.maxAudioBW
	maxVideo := r.maxVideoBW
	r.mu.Unlock()
	if s == nil {
		log.Warn().Str("module", "room").Str("stream", string(req.StreamID)).Msg("publish_me for unknown local stream")
		return
	}

	peer := req.PeerSocket
	pc, err := r.newPC(core.ConnectionConfig{
		OnMessage: func(msg json.RawMessage) {
			r.notify(protocol.MsgSignaling, protocol.SignalingMessage{
				StreamID:   req.StreamID,
				PeerSocket: peer,
				Msg:        msg,
			})
		},
		OnStateChange: func(state core.ConnectionState) {
			if state == core.ConnectionFailed {
				r.dropPeerConnection(s, peer)
			}
		},
		ICEServers: iceServers,
		Audio:      s.spec.Audio,
		Video:      s.spec.Video,
		MaxAudioBW: maxAudio,
		MaxVideoBW: maxVideo,
	})
	if err != nil {
		log.Error().Str("module", "room").Err(err).Str("peer", peer).Msg("cannot create peer connection")
		return
	}

	for _, track := range s.tracks {
		if terr := pc.AddLocalTrack(track); terr != nil {
			log.Error().Str("module", "room").Err(terr).Str("peer", peer).Msg("cannot attach local track")
		}
	}

	r.mu.Lock()
	if s.peers == nil {
		s.peers = make(map[string]core.Connection)
	}
	if old := s.peers[peer]; old != nil {
		old.Close()
	}
	s.peers[peer] = pc
	r.mu.Unlock()

	pc.CreateOffer()
	log.Info().Str("module", "room").Str("stream", string(req.StreamID)).Str("peer", peer).Msg("peer connection offered")
}

// dropPeerConnection removes exactly one per-peer entry after its ICE
// failure, leaving the rest of the fan-out untouched.
func (r *Room) dropPeerConnection(s *Stream, peer string) {
	r.mu.Lock()
	pc := s.peers[peer]
	delete(s.peers, peer)
	r.mu.Unlock()
	if pc != nil {
		pc.Close()
		log.Warn().Str("module", "room").Str("stream", string(s.ID())).Str("peer", peer).Msg("peer connection failed and was removed")
	}
}

// ensureRemotePeerConnection lazily builds the subscriber-side connection
// for a peer-to-peer stream when the publisher's first signaling message
// arrives.
func (r *Room) ensureRemotePeerConnection(s *Stream, peerSocket string) (core.Connection, error) {
	r.mu.Lock()
	if s.pc != nil {
		pc := s.pc
		r.mu.Unlock()
		return pc, nil
	}
	iceServers := r.iceServers
	maxAudio := r.maxAudioBW
	maxVideo := r.maxVideoBW
	r.mu.Unlock()

	id := s.ID()
	pc, err := r.newPC(core.ConnectionConfig{
		OnMessage: func(msg json.RawMessage) {
			r.notify(protocol.MsgSignaling, protocol.SignalingMessage{
				StreamID:   id,
				PeerSocket: peerSocket,
				Msg:        msg,
			})
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
		Audio:      s.spec.Audio,
		Video:      s.spec.Video,
		MaxAudioBW: maxAudio,
		MaxVideoBW: maxVideo,
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	s.pc = pc
	r.mu.Unlock()
	return pc, nil
}
