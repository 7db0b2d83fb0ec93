package room

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/protocol"
)

func TestConnect_PopulatesSessionAndRegistry(t *testing.T) {
	ch := newFakeChannel()
	f := &fakeFactory{}
	r := newTestRoom(ch, f)
	rec := recordEvents(r)

	r.Connect()
	require.Equal(t, domain.Connecting, r.State())

	ch.ackLast(t, protocol.MsgToken, protocol.TokenResponse{
		ID:             "room1",
		P2P:            false,
		DefaultVideoBW: 300,
		MaxVideoBW:     600,
		Streams: []protocol.StreamDescriptor{
			{ID: "s1", Audio: true, Video: true},
		},
	})

	require.Equal(t, domain.Connected, r.State())
	assert.Equal(t, domain.RoomID("room1"), r.RoomID())
	assert.False(t, r.P2P())

	evt := rec.last(t, RoomConnected).(RoomEvent)
	require.Len(t, evt.Streams, 1)
	assert.Equal(t, domain.StreamID("s1"), evt.Streams[0].ID())
	assert.False(t, evt.Streams[0].Local())

	remote := r.RemoteStreams()
	require.Contains(t, remote, domain.StreamID("s1"))
	assert.True(t, remote["s1"].Spec().Audio)
}

func TestConnect_HandshakeRejected(t *testing.T) {
	ch := newFakeChannel()
	r := newTestRoom(ch, &fakeFactory{})
	rec := recordEvents(r)

	r.Connect()
	ch.rejectLast(t, protocol.MsgToken, errors.New("token invalid"))

	require.NotEqual(t, domain.Connected, r.State())
	evt := rec.last(t, RoomError).(RoomEvent)
	assert.Equal(t, "token invalid", evt.Message)
	assert.Equal(t, 0, rec.count(RoomConnected))
}

func TestConnect_BadToken(t *testing.T) {
	r := New(Config{
		Token: "not base64 at all!!",
		Dial: func(domain.Token) (core.Channel, error) {
			t.Fatal("dial must not be reached with a bad token")
			return nil, nil
		},
	})
	rec := recordEvents(r)
	r.Connect()
	assert.Equal(t, 1, rec.count(RoomError))
	assert.Equal(t, domain.Disconnected, r.State())
}

func TestConnect_DialError(t *testing.T) {
	r := New(Config{
		Token: testToken(),
		Dial:  func(domain.Token) (core.Channel, error) { return nil, errors.New("no route") },
	})
	rec := recordEvents(r)
	r.Connect()
	assert.Equal(t, domain.Disconnected, r.State())
	assert.Equal(t, 1, rec.count(RoomError))
}

func TestDisconnect_TearsDownEverything(t *testing.T) {
	ch := newFakeChannel()
	f := &fakeFactory{}
	r := newTestRoom(ch, f)
	rec := recordEvents(r)
	connectRoom(t, r, ch, protocol.TokenResponse{
		ID:             "room1",
		DefaultVideoBW: 300,
		MaxVideoBW:     600,
		Streams: []protocol.StreamDescriptor{
			{ID: "r1", Audio: true},
			{ID: "r2", Data: true},
		},
	})

	local := NewLocalStream(domain.StreamSpec{Audio: true, Video: true})
	r.Publish(local, domain.PublishOptions{}, nil)
	ch.ackLast(t, protocol.MsgPublish, domain.StreamID("l1"))
	require.Len(t, r.LocalStreams(), 1)
	pc := f.last(t)

	r.Disconnect()

	assert.Equal(t, domain.Disconnected, r.State())
	assert.Empty(t, r.LocalStreams())
	assert.Empty(t, r.RemoteStreams())
	assert.True(t, ch.isClosed())
	assert.Equal(t, 1, pc.closeCount())
	assert.Equal(t, 2, rec.count(StreamRemoved))
	assert.Equal(t, "", string(local.ID()), "capability record must be cleared")

	evt := rec.last(t, RoomDisconnected).(RoomEvent)
	assert.Equal(t, ReasonExpected, evt.Message)
}

func TestDisconnect_SkipsRemovedEventForFailedStreams(t *testing.T) {
	ch := newFakeChannel()
	r := newTestRoom(ch, &fakeFactory{})
	rec := recordEvents(r)
	connectRoom(t, r, ch, protocol.TokenResponse{
		ID: "room1",
		Streams: []protocol.StreamDescriptor{
			{ID: "r1", Audio: true},
		},
	})

	r.RemoteStreams()["r1"].markFailed()
	r.Disconnect()

	assert.Equal(t, 0, rec.count(StreamRemoved))
	assert.Empty(t, r.RemoteStreams())
}

func TestTransportLoss_IsUnexpectedDisconnection(t *testing.T) {
	ch := newFakeChannel()
	r := newTestRoom(ch, &fakeFactory{})
	rec := recordEvents(r)
	connectRoom(t, r, ch, defaultSession(false))

	// Simulate the transport dying underneath the session.
	ch.Close()

	require.Eventually(t, func() bool {
		return r.State() == domain.Disconnected
	}, time.Second, 5*time.Millisecond)

	evt := rec.last(t, RoomDisconnected).(RoomEvent)
	assert.Equal(t, ReasonUnexpected, evt.Message)
	assert.Empty(t, r.RemoteStreams())
	assert.Empty(t, r.LocalStreams())
}

func TestDisconnectPush_FromController(t *testing.T) {
	ch := newFakeChannel()
	r := newTestRoom(ch, &fakeFactory{})
	rec := recordEvents(r)
	connectRoom(t, r, ch, defaultSession(false))

	r.route(core.InboundMessage{Event: protocol.MsgDisconnect})

	assert.Equal(t, domain.Disconnected, r.State())
	evt := rec.last(t, RoomDisconnected).(RoomEvent)
	assert.Equal(t, ReasonUnexpected, evt.Message)

	// A second push must be a no-op.
	r.route(core.InboundMessage{Event: protocol.MsgDisconnect})
	assert.Equal(t, 1, rec.count(RoomDisconnected))
}

func TestDisconnect_IsIdempotent(t *testing.T) {
	ch := newFakeChannel()
	r := newTestRoom(ch, &fakeFactory{})
	rec := recordEvents(r)
	connectRoom(t, r, ch, defaultSession(false))

	r.Disconnect()
	r.Disconnect()

	assert.Equal(t, domain.Disconnected, r.State())
	assert.Equal(t, 2, rec.count(RoomDisconnected))
	assert.Empty(t, r.RemoteStreams())
}
