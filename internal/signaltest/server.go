// Package signaltest provides an in-process controller speaking the wire
// protocol over a real websocket. Tests point the signaling channel at it to
// exercise dial, ack correlation and push delivery end to end.
package signaltest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/protocol"
)

// Handler answers one client request; errStr non-empty means a rejection.
type Handler func(payload json.RawMessage) (result any, errStr string)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is a scripted controller. Register handlers per request event;
// unhandled events get a default ack.
type Server struct {
	http *httptest.Server

	mu       sync.Mutex
	handlers map[string]Handler
	conn     *websocket.Conn
	writeMu  sync.Mutex
}

func NewServer() *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{handlers: make(map[string]Handler)}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/signaling", s.handleWS)
	s.http = httptest.NewServer(r)
	return s
}

// Host returns the host:port clients should dial.
func (s *Server) Host() string {
	return strings.TrimPrefix(s.http.URL, "http://")
}

// TokenFor builds an encoded credential pointing at this server.
func (s *Server) TokenFor() string {
	return domain.EncodeToken(domain.Token{
		TokenID: uuid.NewString(),
		Host:    s.Host(),
	})
}

// Handle scripts the answer for one request event.
func (s *Server) Handle(event string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = h
}

// Push sends a server push to the connected client.
func (s *Server) Push(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error().Str("module", "signaltest").Err(err).Msg("marshal push payload")
		return
	}
	s.write(protocol.Envelope{Event: event, Payload: raw})
}

func (s *Server) Close() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	s.http.Close()
}

// DropClient severs the websocket without closing the HTTP server, for
// unexpected-disconnection tests.
func (s *Server) DropClient() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (s *Server) handleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Str("module", "signaltest").Err(err).Msg("upgrade failed")
		return
	}
	s.mu.Lock()
	s.conn = ws
	s.mu.Unlock()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Str("module", "signaltest").Err(err).Msg("bad client frame")
			continue
		}
		s.dispatch(env)
	}
}

func (s *Server) dispatch(env protocol.Envelope) {
	s.mu.Lock()
	h := s.handlers[env.Event]
	s.mu.Unlock()

	if env.ID == 0 {
		// Fire-and-forget; run the handler for side effects if scripted.
		if h != nil {
			h(env.Payload)
		}
		return
	}

	ack := protocol.Ack{ID: env.ID, OK: true}
	result, errStr := s.defaultAnswer(env)
	if h != nil {
		result, errStr = h(env.Payload)
	}
	if errStr != "" {
		ack.OK = false
		ack.Error = errStr
	} else if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			log.Error().Str("module", "signaltest").Err(err).Msg("marshal ack result")
			return
		}
		ack.Result = raw
	}

	raw, _ := json.Marshal(ack)
	s.write(protocol.Envelope{Event: protocol.AckEvent, Payload: raw})
}

// defaultAnswer gives each request a plausible success so tests only script
// what they assert.
func (s *Server) defaultAnswer(env protocol.Envelope) (any, string) {
	switch env.Event {
	case protocol.MsgToken:
		return protocol.TokenResponse{
			ID:             "testroom",
			DefaultVideoBW: 300,
			MaxVideoBW:     600,
		}, ""
	case protocol.MsgPublish:
		return domain.StreamID(uuid.NewString()), ""
	case protocol.MsgStartRecorder:
		return uuid.NewString(), ""
	default:
		return true, ""
	}
}

func (s *Server) write(env protocol.Envelope) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		log.Warn().Str("module", "signaltest").Msg("no connected client")
		return
	}
	frame, err := json.Marshal(env)
	if err != nil {
		log.Error().Str("module", "signaltest").Err(err).Msg("marshal frame")
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, frame)
}
