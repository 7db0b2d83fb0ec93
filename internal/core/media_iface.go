package core

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/roomlink/internal/domain"
)

// ConnectionState is the lifecycle signal a media connection reports back.
type ConnectionState string

const (
	ConnectionConnected    ConnectionState = "connected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionDisconnected ConnectionState = "disconnected"
)

// Connection represents one negotiated peer media link. The media plane
// behind it (ICE, DTLS, RTP) is opaque to the session core.
type Connection interface {
	// CreateOffer starts negotiation; the resulting SDP and candidates
	// arrive through the OnMessage callback from ConnectionConfig.
	CreateOffer()
	// ProcessSignaling applies a remote SDP or candidate message.
	ProcessSignaling(msg json.RawMessage) error
	// AddLocalTrack attaches a local media source before offering.
	AddLocalTrack(track *webrtc.TrackLocalStaticRTP) error
	// Close releases all media resources. Safe to call more than once.
	Close()
}

// ConnectionConfig carries everything a connection needs at creation time.
// Both callbacks are invoked from the connection's own goroutines.
type ConnectionConfig struct {
	// OnMessage forwards locally produced SDP/candidate messages so the
	// session can relay them to the controller or a peer.
	OnMessage func(msg json.RawMessage)
	// OnStateChange reports connected/failed/disconnected transitions.
	OnStateChange func(state ConnectionState)

	ICEServers []domain.ICEServer
	Audio      bool
	Video      bool
	MaxAudioBW uint64
	MaxVideoBW uint64
	Simulcast  bool
}

// ConnectionFactory builds one media connection per (stream, peer) pair.
type ConnectionFactory func(cfg ConnectionConfig) (Connection, error)
