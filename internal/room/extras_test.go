package room

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/protocol"
)

func TestRecording_StartAndStop(t *testing.T) {
	ch := newFakeChannel()
	r := newTestRoom(ch, &fakeFactory{})
	connectRoom(t, r, ch, sessionWithStream(protocol.StreamDescriptor{ID: "r1", Audio: true, Video: true}))

	var recID string
	r.StartRecording(r.RemoteStreams()["r1"], func(id string, err error) {
		require.NoError(t, err)
		recID = id
	})
	req := ch.lastRequest(t, protocol.MsgStartRecorder).payload.(protocol.RecorderRequest)
	assert.Equal(t, domain.StreamID("r1"), req.To)
	ch.ackLast(t, protocol.MsgStartRecorder, "rec-7")
	assert.Equal(t, "rec-7", recID)

	var stopped bool
	r.StopRecording(recID, func(ok bool, err error) {
		require.NoError(t, err)
		stopped = ok
	})
	stop := ch.lastRequest(t, protocol.MsgStopRecorder).payload.(protocol.RecorderRequest)
	assert.Equal(t, "rec-7", stop.ID)
	ch.ackLast(t, protocol.MsgStopRecorder, true)
	assert.True(t, stopped)
}

func TestStartRecording_InvalidStream(t *testing.T) {
	ch := newFakeChannel()
	r := newTestRoom(ch, &fakeFactory{})
	connectRoom(t, r, ch, defaultSession(false))

	var gotErr error
	r.StartRecording(nil, func(_ string, err error) { gotErr = err })
	assert.ErrorIs(t, gotErr, ErrInvalidStream)

	// A stream that was never acknowledged has no id to record.
	r.StartRecording(NewLocalStream(domain.StreamSpec{Audio: true}), func(_ string, err error) { gotErr = err })
	assert.ErrorIs(t, gotErr, ErrInvalidStream)
	assert.Equal(t, 0, ch.countRequests(protocol.MsgStartRecorder))
}

func TestStreamStats_RelaysRawResult(t *testing.T) {
	ch := newFakeChannel()
	r := newTestRoom(ch, &fakeFactory{})
	connectRoom(t, r, ch, sessionWithStream(protocol.StreamDescriptor{ID: "r1", Video: true}))

	var got json.RawMessage
	r.StreamStats(r.RemoteStreams()["r1"], func(stats json.RawMessage, err error) {
		require.NoError(t, err)
		got = stats
	})
	ch.ackLast(t, protocol.MsgGetStreamStats, map[string]any{"bitrate": 480})
	assert.JSONEq(t, `{"bitrate":480}`, string(got))

	var gotErr error
	r.StreamStats(r.RemoteStreams()["r1"], func(_ json.RawMessage, err error) { gotErr = err })
	ch.rejectLast(t, protocol.MsgGetStreamStats, errors.New("no such stream"))
	assert.EqualError(t, gotErr, "no such stream")
}

func TestSendControlMessage(t *testing.T) {
	ch := newFakeChannel()
	r := newTestRoom(ch, &fakeFactory{})
	connectRoom(t, r, ch, sessionWithStream(protocol.StreamDescriptor{ID: "r1", Video: true}))

	r.SendControlMessage(r.RemoteStreams()["r1"], "pauseVideo")

	sent := ch.lastNotify(t, protocol.MsgSignaling).payload.(protocol.SignalingMessage)
	assert.Equal(t, domain.StreamID("r1"), sent.StreamID)
	assert.JSONEq(t, `{"type":"control","action":"pauseVideo"}`, string(sent.Msg))

	// No id, nothing to address: silently dropped.
	r.SendControlMessage(NewLocalStream(domain.StreamSpec{Audio: true}), "pauseAudio")
	assert.Equal(t, 1, len(ch.notifies))
}

func TestStreamsByAttribute(t *testing.T) {
	ch := newFakeChannel()
	r := newTestRoom(ch, &fakeFactory{})
	resp := defaultSession(false)
	resp.Streams = []protocol.StreamDescriptor{
		{ID: "a", Audio: true, Attributes: domain.Attributes{"role": "speaker"}},
		{ID: "b", Audio: true, Attributes: domain.Attributes{"role": "listener"}},
		{ID: "c", Audio: true},
	}
	connectRoom(t, r, ch, resp)

	speakers := r.StreamsByAttribute("role", "speaker")
	require.Len(t, speakers, 1)
	assert.Equal(t, domain.StreamID("a"), speakers[0].ID())

	assert.Empty(t, r.StreamsByAttribute("role", "moderator"))
}
