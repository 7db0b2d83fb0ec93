package room

import (
	"encoding/json"

	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/events"
)

// Event types observable on a Room.
const (
	RoomConnected    events.Type = "room-connected"
	RoomDisconnected events.Type = "room-disconnected"
	RoomError        events.Type = "room-error"

	StreamAdded            events.Type = "stream-added"
	StreamRemoved          events.Type = "stream-removed"
	StreamSubscribed       events.Type = "stream-subscribed"
	StreamFailed           events.Type = "stream-failed"
	StreamData             events.Type = "stream-data"
	StreamAttributesUpdate events.Type = "stream-attributes-update"
	BandwidthAlert         events.Type = "bandwidth-alert"
)

// Disconnection reasons carried by RoomDisconnected events.
const (
	ReasonExpected   = "expected-disconnection"
	ReasonUnexpected = "unexpected-disconnection"
)

// RoomEvent is a session-level notification.
type RoomEvent struct {
	Type    events.Type
	Message string
	// Streams carries the remote streams already present at connect time.
	Streams []*Stream
}

func (e RoomEvent) Kind() events.Type { return e.Type }

// StreamEvent is a stream-level notification.
type StreamEvent struct {
	Type    events.Type
	Stream  *Stream
	Message string
	// Msg carries the payload of a stream-data event.
	Msg json.RawMessage
	// Attrs carries the new mapping of a stream-attributes-update event.
	Attrs domain.Attributes
	// Bandwidth carries the figure of a bandwidth-alert event.
	Bandwidth uint64
}

func (e StreamEvent) Kind() events.Type { return e.Type }
