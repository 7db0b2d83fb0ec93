// Package protocol defines the wire vocabulary spoken over the signaling
// channel: message type names, request/response payloads and the websocket
// envelope framing.
package protocol

import (
	"encoding/json"

	"github.com/dkeye/roomlink/internal/domain"
)

// Client-to-controller request events.
const (
	MsgToken            = "token"
	MsgPublish          = "publish"
	MsgUnpublish        = "unpublish"
	MsgSubscribe        = "subscribe"
	MsgUnsubscribe      = "unsubscribe"
	MsgSignaling        = "signaling_message"
	MsgSendDataStream   = "sendDataStream"
	MsgUpdateAttributes = "updateStreamAttributes"
	MsgStartRecorder    = "startRecorder"
	MsgStopRecorder     = "stopRecorder"
	MsgGetStreamStats   = "getStreamStats"
)

// Controller-to-client push events.
const (
	MsgOnAddStream         = "onAddStream"
	MsgOnRemoveStream      = "onRemoveStream"
	MsgSignalingErizo      = "signaling_message_erizo"
	MsgSignalingPeer       = "signaling_message_peer"
	MsgPublishMe           = "publish_me"
	MsgOnBandwidthAlert    = "onBandwidthAlert"
	MsgOnDataStream        = "onDataStream"
	MsgOnUpdateAttributes  = "onUpdateAttributeStream"
	MsgOnConnectionFailed  = "connection_failed"
	MsgDisconnect          = "disconnect"
)

// Publish states, selecting how the controller sources the stream.
const (
	StateURL       = "url"
	StateRecording = "recording"
	StateP2P       = "p2p"
	StateErizo     = "erizo"
	StateData      = "data"
)

// Envelope frames one client-to-controller message. ID zero means no ack is
// expected.
type Envelope struct {
	ID      uint64          `json:"id,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Ack answers one Envelope by ID.
type Ack struct {
	ID     uint64          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// AckEvent is the reserved event name carrying an Ack payload.
const AckEvent = "ack"

// StreamDescriptor is the controller's view of one stream.
type StreamDescriptor struct {
	ID         domain.StreamID   `json:"id"`
	Audio      bool              `json:"audio"`
	Video      bool              `json:"video"`
	Data       bool              `json:"data"`
	Screen     bool              `json:"screen"`
	Attributes domain.Attributes `json:"attributes,omitempty"`
}

// TokenResponse is the session descriptor returned by a successful handshake.
type TokenResponse struct {
	ID             domain.RoomID      `json:"id"`
	P2P            bool               `json:"p2p"`
	ICEServers     []domain.ICEServer `json:"iceServers,omitempty"`
	Streams        []StreamDescriptor `json:"streams,omitempty"`
	DefaultVideoBW uint64             `json:"defaultVideoBW"`
	MaxVideoBW     uint64             `json:"maxVideoBW"`
}

type PublishRequest struct {
	State       string            `json:"state"`
	Audio       bool              `json:"audio"`
	Video       bool              `json:"video"`
	Data        bool              `json:"data"`
	Screen      bool              `json:"screen"`
	MinVideoBW  uint64            `json:"minVideoBW,omitempty"`
	Attributes  domain.Attributes `json:"attributes,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	CreateOffer bool              `json:"createOffer,omitempty"`
	Scheme      string            `json:"scheme,omitempty"`
	// Source carries the URL or recording id for externally sourced streams.
	Source string `json:"source,omitempty"`
}

type SubscribeRequest struct {
	StreamID      domain.StreamID `json:"streamId"`
	Audio         bool            `json:"audio"`
	Video         bool            `json:"video"`
	Data          bool            `json:"data"`
	SlideShowMode bool            `json:"slideShowMode,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
}

// SignalingMessage relays SDP/candidate payloads in either direction.
// PeerSocket is set only in peer-to-peer mode; PeerID only on pushes aimed
// at a subscriber-side connection.
type SignalingMessage struct {
	StreamID   domain.StreamID `json:"streamId,omitempty"`
	PeerID     domain.StreamID `json:"peerId,omitempty"`
	PeerSocket string          `json:"peerSocket,omitempty"`
	Msg        json.RawMessage `json:"msg"`
}

type PublishMe struct {
	StreamID   domain.StreamID `json:"streamId"`
	PeerSocket string          `json:"peerSocket"`
}

type StreamRef struct {
	ID domain.StreamID `json:"id"`
}

type BandwidthAlert struct {
	StreamID  domain.StreamID `json:"streamID"`
	Message   string          `json:"message"`
	Bandwidth uint64          `json:"bandwidth"`
}

type DataStream struct {
	ID  domain.StreamID `json:"id"`
	Msg json.RawMessage `json:"msg"`
}

type UpdateAttributes struct {
	ID    domain.StreamID   `json:"id"`
	Attrs domain.Attributes `json:"attrs"`
}

// ConnectionFailed reports a server-observed ICE failure for one stream.
type ConnectionFailed struct {
	Type     string          `json:"type"` // "publish" or "subscribe"
	StreamID domain.StreamID `json:"streamId"`
}

type RecorderRequest struct {
	To domain.StreamID `json:"to,omitempty"`
	ID string          `json:"id,omitempty"`
}
