package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeClock supplies a controllable now() to the components under test so
// billing math never depends on real sleeps.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// mockLocalTrack counts closes so tests can assert exactly-once release.
type mockLocalTrack struct {
	mu         sync.Mutex
	kind       TrackKind
	enabled    bool
	closeCount int
}

func newMockLocalTrack(kind TrackKind) *mockLocalTrack {
	return &mockLocalTrack{kind: kind, enabled: true}
}

func (t *mockLocalTrack) Kind() TrackKind { return t.kind }

func (t *mockLocalTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *mockLocalTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *mockLocalTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeCount++
	return nil
}

func (t *mockLocalTrack) closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCount
}

// mockRemoteTrack is an opaque remote track reference.
type mockRemoteTrack struct {
	id   string
	kind TrackKind
}

func (t *mockRemoteTrack) ID() string      { return t.id }
func (t *mockRemoteTrack) Kind() TrackKind { return t.kind }

// mockDeviceSource hands out mock tracks and can be told to fail.
type mockDeviceSource struct {
	mu        sync.Mutex
	audioErr  error
	videoErr  error
	screenErr error
	audio     []*mockLocalTrack
	video     []*mockLocalTrack
	screen    []*mockLocalTrack
}

func newMockDeviceSource() *mockDeviceSource {
	return &mockDeviceSource{}
}

func (s *mockDeviceSource) CreateAudioTrack() (LocalTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audioErr != nil {
		return nil, s.audioErr
	}
	t := newMockLocalTrack(TrackKindAudio)
	s.audio = append(s.audio, t)
	return t, nil
}

func (s *mockDeviceSource) CreateVideoTrack() (LocalTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.videoErr != nil {
		return nil, s.videoErr
	}
	t := newMockLocalTrack(TrackKindVideo)
	s.video = append(s.video, t)
	return t, nil
}

func (s *mockDeviceSource) CreateScreenTrack() (LocalTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.screenErr != nil {
		return nil, s.screenErr
	}
	t := newMockLocalTrack(TrackKindScreen)
	s.screen = append(s.screen, t)
	return t, nil
}

// mockTransport records join/leave/publish calls and lets tests emit
// transport events through the registered observer.
type mockTransport struct {
	mu          sync.Mutex
	observer    TransportObserver
	joinErr     error
	publishErr  error
	joinCalls   int
	leaveCalls  int
	published   []LocalTrack
	unpublished []LocalTrack
	lastJoin    JoinRequest
}

func newMockTransport() *mockTransport {
	return &mockTransport{}
}

func (m *mockTransport) Join(_ context.Context, req JoinRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joinCalls++
	m.lastJoin = req
	return m.joinErr
}

func (m *mockTransport) Leave() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveCalls++
	return nil
}

func (m *mockTransport) Publish(_ context.Context, tracks ...LocalTrack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, tracks...)
	return nil
}

func (m *mockTransport) Unpublish(track LocalTrack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unpublished = append(m.unpublished, track)
	return nil
}

func (m *mockTransport) Subscribe(string, TrackKind) error { return nil }

func (m *mockTransport) SetObserver(observer TransportObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = observer
}

func (m *mockTransport) leaves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaveCalls
}

func (m *mockTransport) publishedTracks() []LocalTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LocalTrack(nil), m.published...)
}

// Event emit helpers, used by tests to simulate the transport.

func (m *mockTransport) emitState(cur, prev ConnectionState) {
	m.mu.Lock()
	observer := m.observer
	m.mu.Unlock()
	observer.OnConnectionStateChanged(cur, prev)
}

func (m *mockTransport) emitTrackAdded(participantID string, kind TrackKind) {
	m.mu.Lock()
	observer := m.observer
	m.mu.Unlock()
	observer.OnRemoteTrackAdded(participantID, kind, &mockRemoteTrack{
		id:   fmt.Sprintf("%s-%s", participantID, kind),
		kind: kind,
	})
}

func (m *mockTransport) emitTrackRemoved(participantID string, kind TrackKind) {
	m.mu.Lock()
	observer := m.observer
	m.mu.Unlock()
	observer.OnRemoteTrackRemoved(participantID, kind)
}

func (m *mockTransport) emitParticipantLeft(participantID string) {
	m.mu.Lock()
	observer := m.observer
	m.mu.Unlock()
	observer.OnParticipantLeft(participantID)
}

// mockRecordingClient scripts the recording backend.
type mockRecordingClient struct {
	mu         sync.Mutex
	startErr   error
	stopErr    error
	startCalls int
	stopCalls  int
	lastID     string
}

func newMockRecordingClient() *mockRecordingClient {
	return &mockRecordingClient{}
}

func (c *mockRecordingClient) StartRecording(_ context.Context, channel, uid string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startCalls++
	if c.startErr != nil {
		return "", c.startErr
	}
	c.lastID = fmt.Sprintf("rec-%s-%s", channel, uid)
	return c.lastID, nil
}

func (c *mockRecordingClient) StopRecording(_ context.Context, recordingID, channel string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopCalls++
	if c.stopErr != nil {
		return "", c.stopErr
	}
	return fmt.Sprintf("https://cdn.example.com/%s/%s.mp4", channel, recordingID), nil
}
