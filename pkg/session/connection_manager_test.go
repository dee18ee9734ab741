package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stateRecorder struct {
	mu     sync.Mutex
	states []ConnectionState
}

func (r *stateRecorder) record(cur, _ ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, cur)
}

func (r *stateRecorder) all() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectionState(nil), r.states...)
}

func testJoinRequest() JoinRequest {
	return JoinRequest{
		AppID:         "app",
		Channel:       "room-1",
		Token:         "tok",
		ParticipantID: "alice",
	}
}

func TestConnectionManagerJoinPublishesLocalTracks(t *testing.T) {
	transport := newMockTransport()
	devices := newMockDeviceSource()
	cm := NewConnectionManager(transport, devices, zap.NewNop())

	recorder := &stateRecorder{}
	cm.SetCallbacks(ConnectionCallbacks{OnConnectionStateChanged: recorder.record})

	err := cm.Join(context.Background(), testJoinRequest())
	require.NoError(t, err)

	assert.Equal(t, ConnectionConnected, cm.State())
	assert.Equal(t, []ConnectionState{ConnectionConnecting, ConnectionConnected}, recorder.all())

	published := transport.publishedTracks()
	require.Len(t, published, 2)
	assert.Equal(t, TrackKindAudio, published[0].Kind())
	assert.Equal(t, TrackKindVideo, published[1].Kind())
}

func TestConnectionManagerJoinDeviceUnavailable(t *testing.T) {
	transport := newMockTransport()
	devices := newMockDeviceSource()
	devices.audioErr = errors.New("microphone busy")
	cm := NewConnectionManager(transport, devices, zap.NewNop())

	err := cm.Join(context.Background(), testJoinRequest())
	require.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Equal(t, 0, transport.joinCalls)
	assert.Equal(t, ConnectionDisconnected, cm.State())
}

func TestConnectionManagerJoinVideoFailureReleasesAudio(t *testing.T) {
	transport := newMockTransport()
	devices := newMockDeviceSource()
	devices.videoErr = errors.New("camera busy")
	cm := NewConnectionManager(transport, devices, zap.NewNop())

	err := cm.Join(context.Background(), testJoinRequest())
	require.ErrorIs(t, err, ErrDeviceUnavailable)

	require.Len(t, devices.audio, 1)
	assert.Equal(t, 1, devices.audio[0].closes())
	assert.Equal(t, 0, transport.joinCalls)
}

func TestConnectionManagerJoinRejected(t *testing.T) {
	transport := newMockTransport()
	transport.joinErr = errors.New("invalid token")
	devices := newMockDeviceSource()
	cm := NewConnectionManager(transport, devices, zap.NewNop())

	err := cm.Join(context.Background(), testJoinRequest())
	require.ErrorIs(t, err, ErrJoinRejected)

	// Tracks acquired before the rejection are released.
	require.Len(t, devices.audio, 1)
	require.Len(t, devices.video, 1)
	assert.Equal(t, 1, devices.audio[0].closes())
	assert.Equal(t, 1, devices.video[0].closes())
	assert.Equal(t, ConnectionDisconnected, cm.State())
}

func TestConnectionManagerLeaveIsIdempotent(t *testing.T) {
	transport := newMockTransport()
	devices := newMockDeviceSource()
	cm := NewConnectionManager(transport, devices, zap.NewNop())

	require.NoError(t, cm.Join(context.Background(), testJoinRequest()))

	cm.Leave()
	cm.Leave()

	assert.Equal(t, 1, transport.leaves())
	require.Len(t, devices.audio, 1)
	assert.Equal(t, 1, devices.audio[0].closes(), "tracks must be closed exactly once")
	assert.Equal(t, 1, devices.video[0].closes())
	assert.Equal(t, ConnectionDisconnected, cm.State())
}

func TestConnectionManagerLeaveBeforeJoinIsNoop(t *testing.T) {
	transport := newMockTransport()
	cm := NewConnectionManager(transport, newMockDeviceSource(), zap.NewNop())

	cm.Leave()
	assert.Equal(t, 0, transport.leaves())
}

func TestConnectionManagerTogglesAreNoopsWithoutTracks(t *testing.T) {
	cm := NewConnectionManager(newMockTransport(), newMockDeviceSource(), zap.NewNop())

	// Must not panic or error before any track exists.
	cm.SetAudioEnabled(false)
	cm.SetVideoEnabled(false)
}

func TestConnectionManagerToggles(t *testing.T) {
	transport := newMockTransport()
	devices := newMockDeviceSource()
	cm := NewConnectionManager(transport, devices, zap.NewNop())
	require.NoError(t, cm.Join(context.Background(), testJoinRequest()))

	cm.SetAudioEnabled(false)
	assert.False(t, devices.audio[0].Enabled())
	assert.True(t, devices.video[0].Enabled())

	cm.SetAudioEnabled(true)
	cm.SetVideoEnabled(false)
	assert.True(t, devices.audio[0].Enabled())
	assert.False(t, devices.video[0].Enabled())
}

func TestConnectionManagerRemoteParticipantRegistry(t *testing.T) {
	transport := newMockTransport()
	cm := NewConnectionManager(transport, newMockDeviceSource(), zap.NewNop())
	require.NoError(t, cm.Join(context.Background(), testJoinRequest()))

	transport.emitTrackAdded("bob", TrackKindAudio)
	transport.emitTrackAdded("bob", TrackKindVideo)

	participants := cm.Participants()
	require.Len(t, participants, 1)
	assert.Equal(t, "bob", participants[0].ID)
	assert.NotNil(t, participants[0].Audio)
	assert.NotNil(t, participants[0].Video)

	transport.emitTrackRemoved("bob", TrackKindVideo)
	participants = cm.Participants()
	require.Len(t, participants, 1)
	assert.NotNil(t, participants[0].Audio)
	assert.Nil(t, participants[0].Video)

	transport.emitParticipantLeft("bob")
	assert.Empty(t, cm.Participants())
}

func TestConnectionManagerTransportStateSurfaced(t *testing.T) {
	transport := newMockTransport()
	cm := NewConnectionManager(transport, newMockDeviceSource(), zap.NewNop())

	recorder := &stateRecorder{}
	cm.SetCallbacks(ConnectionCallbacks{OnConnectionStateChanged: recorder.record})
	require.NoError(t, cm.Join(context.Background(), testJoinRequest()))

	transport.emitState(ConnectionReconnecting, ConnectionConnected)
	assert.Equal(t, ConnectionReconnecting, cm.State())

	transport.emitState(ConnectionConnected, ConnectionReconnecting)
	assert.Equal(t, ConnectionConnected, cm.State())

	transport.emitState(ConnectionDisconnected, ConnectionConnected)
	assert.Equal(t, ConnectionDisconnected, cm.State())

	assert.Equal(t, []ConnectionState{
		ConnectionConnecting,
		ConnectionConnected,
		ConnectionReconnecting,
		ConnectionConnected,
		ConnectionDisconnected,
	}, recorder.all())
}

func TestConnectionManagerScreenShare(t *testing.T) {
	transport := newMockTransport()
	devices := newMockDeviceSource()
	cm := NewConnectionManager(transport, devices, zap.NewNop())
	require.NoError(t, cm.Join(context.Background(), testJoinRequest()))

	require.NoError(t, cm.StartScreenShare(context.Background()))
	require.Len(t, devices.screen, 1)

	// A second share replaces the first: the old track is unpublished and
	// closed, never leaked.
	require.NoError(t, cm.StartScreenShare(context.Background()))
	require.Len(t, devices.screen, 2)
	assert.Equal(t, 1, devices.screen[0].closes())

	cm.StopScreenShare()
	assert.Equal(t, 1, devices.screen[1].closes())

	// Stop with no active share is a no-op.
	cm.StopScreenShare()
	assert.Equal(t, 1, devices.screen[1].closes())
}

func TestConnectionManagerScreenShareRequiresConnection(t *testing.T) {
	cm := NewConnectionManager(newMockTransport(), newMockDeviceSource(), zap.NewNop())
	assert.Error(t, cm.StartScreenShare(context.Background()))
}

func TestConnectionManagerLeaveClosesScreenTrack(t *testing.T) {
	transport := newMockTransport()
	devices := newMockDeviceSource()
	cm := NewConnectionManager(transport, devices, zap.NewNop())
	require.NoError(t, cm.Join(context.Background(), testJoinRequest()))
	require.NoError(t, cm.StartScreenShare(context.Background()))

	cm.Leave()
	assert.Equal(t, 1, devices.screen[0].closes())
}
