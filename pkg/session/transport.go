package session

import "context"

// ConnectionState models the media transport connection lifecycle.
// Reconnecting is entered by the transport itself on transient network loss
// and resolves either back to Connected or to Disconnected on give-up.
type ConnectionState int

const (
	ConnectionDisconnected ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionReconnecting
)

// String returns a human-readable representation of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// TrackKind identifies the media type of a track.
type TrackKind string

const (
	TrackKindAudio  TrackKind = "audio"
	TrackKindVideo  TrackKind = "video"
	TrackKindScreen TrackKind = "screen"
)

// LocalTrack is a locally captured media track owned by the ConnectionManager.
// SetEnabled toggles the track without renegotiating the connection.
// Close releases the underlying device; closing twice is a safe no-op.
type LocalTrack interface {
	Kind() TrackKind
	SetEnabled(enabled bool)
	Enabled() bool
	Close() error
}

// RemoteTrack is a track published by the remote side. The orchestrator never
// owns a remote track's lifecycle; it only references it for rendering.
type RemoteTrack interface {
	ID() string
	Kind() TrackKind
}

// DeviceSource acquires local media tracks from capture hardware.
// Acquisition failures are fatal to join and map to ErrDeviceUnavailable.
type DeviceSource interface {
	CreateAudioTrack() (LocalTrack, error)
	CreateVideoTrack() (LocalTrack, error)
	CreateScreenTrack() (LocalTrack, error)
}

// JoinRequest carries the credentials for joining a channel. The token is
// supplied by the caller; this package never mints transport credentials itself.
type JoinRequest struct {
	AppID         string
	Channel       string
	Token         string
	ParticipantID string
}

// TransportObserver receives one-way notifications from the media transport.
// Implementations must not block; callbacks may be invoked from transport
// goroutines.
type TransportObserver interface {
	// OnConnectionStateChanged reports mid-call transport state transitions.
	// The transport is the sole authority on reconnection: it enters
	// Reconnecting on its own and resolves to Connected or Disconnected.
	OnConnectionStateChanged(cur, prev ConnectionState)

	// OnRemoteTrackAdded fires when the remote side publishes a track.
	OnRemoteTrackAdded(participantID string, kind TrackKind, track RemoteTrack)

	// OnRemoteTrackRemoved fires when the remote side unpublishes a track.
	OnRemoteTrackRemoved(participantID string, kind TrackKind)

	// OnParticipantLeft fires when a remote participant leaves the channel.
	OnParticipantLeft(participantID string)
}

// MediaTransport is the narrow capability contract a media vendor SDK must
// satisfy. The orchestration logic depends on nothing else from the vendor.
type MediaTransport interface {
	// Join connects to the named channel with the supplied credentials.
	// It must return an error when the credentials are rejected; the
	// observer's state events are the authority on everything after join.
	Join(ctx context.Context, req JoinRequest) error

	// Leave disconnects from the channel. Safe to call when not joined.
	Leave() error

	// Publish makes local tracks available to the remote side.
	Publish(ctx context.Context, tracks ...LocalTrack) error

	// Unpublish withdraws a previously published local track.
	Unpublish(track LocalTrack) error

	// Subscribe requests the media stream of a remote participant's track.
	Subscribe(participantID string, kind TrackKind) error

	// SetObserver registers the event sink. Must be called before Join.
	SetObserver(observer TransportObserver)
}
