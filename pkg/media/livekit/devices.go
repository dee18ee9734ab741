package livekit

import (
	"fmt"
	"sync"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"

	"github.com/fanlink/callsession-go/pkg/session"
)

// SampleDeviceSource creates LiveKit sample tracks for the local side of a
// call: Opus audio, H.264 camera video, and H.264 screen capture.
type SampleDeviceSource struct{}

// NewSampleDeviceSource returns a device source backed by LiveKit local
// sample tracks.
func NewSampleDeviceSource() *SampleDeviceSource {
	return &SampleDeviceSource{}
}

// CreateAudioTrack implements session.DeviceSource.
func (s *SampleDeviceSource) CreateAudioTrack() (session.LocalTrack, error) {
	sample, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	})
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	return newSampleTrack(sample, session.TrackKindAudio, livekit.TrackSource_MICROPHONE), nil
}

// CreateVideoTrack implements session.DeviceSource.
func (s *SampleDeviceSource) CreateVideoTrack() (session.LocalTrack, error) {
	sample, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeH264,
		ClockRate: 90000,
	})
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}
	return newSampleTrack(sample, session.TrackKindVideo, livekit.TrackSource_CAMERA), nil
}

// CreateScreenTrack implements session.DeviceSource.
func (s *SampleDeviceSource) CreateScreenTrack() (session.LocalTrack, error) {
	sample, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeH264,
		ClockRate: 90000,
	})
	if err != nil {
		return nil, fmt.Errorf("create screen track: %w", err)
	}
	return newSampleTrack(sample, session.TrackKindScreen, livekit.TrackSource_SCREEN_SHARE), nil
}

// sampleTrack wraps a LiveKit local sample track with the session-level
// track contract. Enabled maps to the publication's mute state once the
// track has been published.
type sampleTrack struct {
	mu      sync.Mutex
	sample  *lksdk.LocalSampleTrack
	kind    session.TrackKind
	source  livekit.TrackSource
	pub     *lksdk.LocalTrackPublication
	enabled bool
	closed  bool
}

func newSampleTrack(sample *lksdk.LocalSampleTrack, kind session.TrackKind, source livekit.TrackSource) *sampleTrack {
	return &sampleTrack{
		sample:  sample,
		kind:    kind,
		source:  source,
		enabled: true,
	}
}

func (t *sampleTrack) attach(pub *lksdk.LocalTrackPublication) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pub = pub
}

// Kind implements session.LocalTrack.
func (t *sampleTrack) Kind() session.TrackKind {
	return t.kind
}

// SetEnabled implements session.LocalTrack. Toggling maps to publication
// mute, which does not renegotiate the connection.
func (t *sampleTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	pub := t.pub
	t.mu.Unlock()

	if pub != nil {
		pub.SetMuted(!enabled)
	}
}

// Enabled implements session.LocalTrack.
func (t *sampleTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Close implements session.LocalTrack. Closing twice is a safe no-op.
func (t *sampleTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.pub = nil
	return nil
}
