// Package domain contains entity without logic, just meta-data
package domain

type StreamID string

// Attributes is an application-defined key/value mapping attached to a
// stream by its publisher.
type Attributes map[string]any

// StreamSpec describes what a stream carries. For a local stream it is set
// by the caller before publishing; for a remote stream it comes from the
// controller's stream descriptor.
type StreamSpec struct {
	Audio      bool
	Video      bool
	Data       bool
	Screen     bool
	Attributes Attributes

	// URL marks an external source handled entirely by the controller.
	URL string
	// Recording marks a server-side recording used as the media source.
	Recording string
}

// HasMedia reports whether the stream carries anything negotiable.
func (s StreamSpec) HasMedia() bool {
	return s.Audio || s.Video || s.Screen
}

// External reports whether the controller drives the source directly,
// meaning no local peer connection is ever created.
func (s StreamSpec) External() bool {
	return s.URL != "" || s.Recording != ""
}
