package room

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomlink/internal/protocol"
)

// RecordingCallback reports the outcome of a recorder request.
type RecordingCallback func(recordingID string, err error)

// StatsCallback receives the controller's raw stats object for one stream.
type StatsCallback func(stats json.RawMessage, err error)

// StartRecording asks the controller to start recording a stream.
func (r *Room) StartRecording(s *Stream, cb RecordingCallback) {
	if s == nil || s.ID() == "" {
		log.Error().Str("module", "room").Msg("trying to start recording on an invalid stream")
		if cb != nil {
			cb("", ErrInvalidStream)
		}
		return
	}
	id := s.ID()
	log.Debug().Str("module", "room").Str("stream", string(id)).Msg("start recording requested")
	r.request(protocol.MsgStartRecorder, protocol.RecorderRequest{To: id}, func(result json.RawMessage, err error) {
		if err != nil {
			log.Error().Str("module", "room").Err(err).Msg("error starting recording")
			if cb != nil {
				cb("", err)
			}
			return
		}
		var recID string
		if uerr := json.Unmarshal(result, &recID); uerr != nil {
			if cb != nil {
				cb("", uerr)
			}
			return
		}
		log.Info().Str("module", "room").Str("recording", recID).Msg("recording started")
		if cb != nil {
			cb(recID, nil)
		}
	})
}

// StopRecording stops a recording by its id.
func (r *Room) StopRecording(recordingID string, cb ResultCallback) {
	r.request(protocol.MsgStopRecorder, protocol.RecorderRequest{ID: recordingID}, func(_ json.RawMessage, err error) {
		if err != nil {
			log.Error().Str("module", "room").Err(err).Msg("error stopping recording")
			if cb != nil {
				cb(false, err)
			}
			return
		}
		log.Info().Str("module", "room").Str("recording", recordingID).Msg("recording stopped")
		if cb != nil {
			cb(true, nil)
		}
	})
}

// StreamStats fetches the controller-side stats object for a stream.
func (r *Room) StreamStats(s *Stream, cb StatsCallback) {
	if s == nil {
		if cb != nil {
			cb(nil, ErrStreamUndefined)
		}
		return
	}
	r.request(protocol.MsgGetStreamStats, protocol.StreamRef{ID: s.ID()}, func(result json.RawMessage, err error) {
		if cb != nil {
			cb(result, err)
		}
	})
}

// SendControlMessage relays a control action for one stream through the
// signaling path, e.g. pausing a track relay.
func (r *Room) SendControlMessage(s *Stream, action string) {
	if s == nil || s.ID() == "" {
		return
	}
	msg := rawJSON(map[string]string{"type": "control", "action": action})
	r.notify(protocol.MsgSignaling, protocol.SignalingMessage{StreamID: s.ID(), Msg: msg})
}

// StreamsByAttribute returns the remote streams whose attribute name equals
// value.
func (r *Room) StreamsByAttribute(name string, value any) []*Stream {
	r.mu.Lock()
	remote := make([]*Stream, 0, len(r.streams.remote))
	for _, s := range r.streams.remote {
		remote = append(remote, s)
	}
	r.mu.Unlock()

	var out []*Stream
	for _, s := range remote {
		attrs := s.Attributes()
		if attrs == nil {
			continue
		}
		if v, ok := attrs[name]; ok && v == value {
			out = append(out, s)
		}
	}
	return out
}
