package core

import "encoding/json"

// InboundMessage is one server-pushed signaling frame, routed by the room
// session's demultiplexer.
type InboundMessage struct {
	Event   string
	Payload json.RawMessage
}

// AckFunc receives the controller's answer to one request. It fires at most
// once; result is nil when err is non-nil.
type AckFunc func(result json.RawMessage, err error)

// Channel abstracts the duplex signaling transport to the controller.
// Owned by the adapter; the adapter must Close() it.
type Channel interface {
	// Request sends an event expecting an acknowledgment. ack may be nil.
	Request(event string, payload any, ack AckFunc)
	// Notify sends a fire-and-forget event.
	Notify(event string, payload any)
	// Inbound yields server pushes in arrival order. The channel is closed
	// when the transport is lost or Close is called.
	Inbound() <-chan InboundMessage
	Close()
}
