// Package rtc implements the media connection capability on pion/webrtc.
// It only negotiates: SDP and candidates go through the session's signaling
// callback, media itself stays inside pion.
package rtc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
)

// signalingPayload is the negotiation message shape exchanged with the
// controller and peers.
type signalingPayload struct {
	Type      string            `json:"type"`
	SDP       string            `json:"sdp,omitempty"`
	Candidate *candidatePayload `json:"candidate,omitempty"`
}

type candidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

type Connection struct {
	pc        *webrtc.PeerConnection
	onMessage func(json.RawMessage)
	closeOnce sync.Once
}

var _ core.Connection = (*Connection)(nil)

// New builds one pion peer connection wired to the config callbacks. It
// satisfies core.ConnectionFactory.
func New(cfg core.ConnectionConfig) (core.Connection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: toICEServers(cfg.ICEServers),
	})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := &Connection{pc: pc, onMessage: cfg.OnMessage}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("ice_state", s.String()).Msg("ICE state")
		if cfg.OnStateChange == nil {
			return
		}
		switch s {
		case webrtc.ICEConnectionStateConnected:
			cfg.OnStateChange(core.ConnectionConnected)
		case webrtc.ICEConnectionStateFailed:
			cfg.OnStateChange(core.ConnectionFailed)
		case webrtc.ICEConnectionStateDisconnected:
			cfg.OnStateChange(core.ConnectionDisconnected)
		}
	})

	return c, nil
}

func toICEServers(servers []domain.ICEServer) []webrtc.ICEServer {
	if len(servers) == 0 {
		return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

// CreateOffer starts negotiation. Gathering runs to completion so the
// emitted offer carries its candidates; the call itself does not block.
func (c *Connection) CreateOffer() {
	go func() {
		offer, err := c.pc.CreateOffer(nil)
		if err != nil {
			log.Error().Str("module", "rtc").Err(err).Msg("create offer")
			return
		}
		gathered := webrtc.GatheringCompletePromise(c.pc)
		if err := c.pc.SetLocalDescription(offer); err != nil {
			log.Error().Str("module", "rtc").Err(err).Msg("set local description")
			return
		}
		<-gathered
		c.emit(signalingPayload{Type: "offer", SDP: c.pc.LocalDescription().SDP})
	}()
}

// ProcessSignaling applies one remote negotiation message: an answer to our
// offer, a trickled candidate, or a peer's offer that we answer in place.
func (c *Connection) ProcessSignaling(msg json.RawMessage) error {
	var p signalingPayload
	if err := json.Unmarshal(msg, &p); err != nil {
		return fmt.Errorf("bad signaling payload: %w", err)
	}

	switch p.Type {
	case "answer":
		return c.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  p.SDP,
		})
	case "offer":
		return c.answer(p.SDP)
	case "candidate":
		if p.Candidate == nil {
			return nil
		}
		cand := webrtc.ICECandidateInit{Candidate: p.Candidate.Candidate}
		if p.Candidate.SDPMid != "" {
			cand.SDPMid = &p.Candidate.SDPMid
		}
		cand.SDPMLineIndex = &p.Candidate.SDPMLineIndex
		return c.pc.AddICECandidate(cand)
	default:
		log.Debug().Str("module", "rtc").Str("type", p.Type).Msg("ignoring signaling message")
		return nil
	}
}

func (c *Connection) answer(sdp string) error {
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		return err
	}
	// Gathering can take a while; never stall the session's dispatch loop.
	go func() {
		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			log.Error().Str("module", "rtc").Err(err).Msg("create answer")
			return
		}
		gathered := webrtc.GatheringCompletePromise(c.pc)
		if err := c.pc.SetLocalDescription(answer); err != nil {
			log.Error().Str("module", "rtc").Err(err).Msg("set local description")
			return
		}
		<-gathered
		c.emit(signalingPayload{Type: "answer", SDP: c.pc.LocalDescription().SDP})
	}()
	return nil
}

func (c *Connection) AddLocalTrack(track *webrtc.TrackLocalStaticRTP) error {
	_, err := c.pc.AddTrack(track)
	return err
}

func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		if err := c.pc.Close(); err != nil {
			log.Error().Str("module", "rtc").Err(err).Msg("close error")
		} else {
			log.Info().Str("module", "rtc").Msg("closed")
		}
	})
}

func (c *Connection) emit(p signalingPayload) {
	if c.onMessage == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		log.Error().Str("module", "rtc").Err(err).Msg("marshal signaling payload")
		return
	}
	c.onMessage(raw)
}
