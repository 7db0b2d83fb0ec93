package domain

type RoomID string

// SessionState is the lifecycle of one room membership. A session that
// reaches Disconnected is terminal; reconnecting means a new session.
type SessionState int32

const (
	Disconnected SessionState = iota
	Connecting
	Connected
)

func (s SessionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// ICEServer mirrors the RTCIceServer shape the controller hands out.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}
