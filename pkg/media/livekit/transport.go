// Package livekit adapts the LiveKit server SDK to the session.MediaTransport
// contract. The orchestration logic never sees LiveKit types; everything
// vendor-specific stays behind this package.
package livekit

import (
	"context"
	"fmt"
	"sync"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/fanlink/callsession-go/pkg/session"
)

// Transport implements session.MediaTransport over a LiveKit room.
type Transport struct {
	mu       sync.Mutex
	logger   *zap.Logger
	url      string
	room     *lksdk.Room
	observer session.TransportObserver
	state    session.ConnectionState

	// published maps local tracks to their publications so tracks can be
	// unpublished and muted after the fact.
	published map[session.LocalTrack]*lksdk.LocalTrackPublication
}

// NewTransport creates a transport that connects to the LiveKit server at url.
func NewTransport(url string, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		logger:    logger,
		url:       url,
		state:     session.ConnectionDisconnected,
		published: make(map[session.LocalTrack]*lksdk.LocalTrackPublication),
	}
}

// SetObserver implements session.MediaTransport.
func (t *Transport) SetObserver(observer session.TransportObserver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observer = observer
}

// Join implements session.MediaTransport. The token is the sole credential:
// LiveKit access tokens carry the room name and identity, so req.Channel and
// req.ParticipantID are informational here.
func (t *Transport) Join(ctx context.Context, req session.JoinRequest) error {
	t.mu.Lock()
	if t.room != nil {
		t.mu.Unlock()
		return fmt.Errorf("already joined")
	}
	t.mu.Unlock()

	room, err := lksdk.ConnectToRoomWithToken(t.url, req.Token, t.roomCallback(), lksdk.WithAutoSubscribe(true))
	if err != nil {
		return fmt.Errorf("connect to room %s: %w", req.Channel, err)
	}

	t.mu.Lock()
	t.room = room
	t.state = session.ConnectionConnected
	t.mu.Unlock()

	t.logger.Info("connected to livekit room",
		zap.String("room", req.Channel),
		zap.String("identity", req.ParticipantID))
	return nil
}

// Leave implements session.MediaTransport. Safe to call when not joined.
func (t *Transport) Leave() error {
	t.mu.Lock()
	room := t.room
	t.room = nil
	t.published = make(map[session.LocalTrack]*lksdk.LocalTrackPublication)
	t.state = session.ConnectionDisconnected
	t.mu.Unlock()

	if room != nil {
		room.Disconnect()
	}
	return nil
}

// Publish implements session.MediaTransport. Tracks must come from this
// package's DeviceSource.
func (t *Transport) Publish(_ context.Context, tracks ...session.LocalTrack) error {
	t.mu.Lock()
	room := t.room
	t.mu.Unlock()
	if room == nil {
		return fmt.Errorf("not joined")
	}

	for _, track := range tracks {
		st, ok := track.(*sampleTrack)
		if !ok {
			return fmt.Errorf("track %s was not created by this transport's device source", track.Kind())
		}
		pub, err := room.LocalParticipant.PublishTrack(st.sample, &lksdk.TrackPublicationOptions{
			Name:   string(st.Kind()),
			Source: st.source,
		})
		if err != nil {
			return fmt.Errorf("publish %s track: %w", st.Kind(), err)
		}
		st.attach(pub)
		t.mu.Lock()
		t.published[track] = pub
		t.mu.Unlock()
	}
	return nil
}

// Unpublish implements session.MediaTransport.
func (t *Transport) Unpublish(track session.LocalTrack) error {
	t.mu.Lock()
	room := t.room
	pub := t.published[track]
	delete(t.published, track)
	t.mu.Unlock()

	if room == nil || pub == nil {
		return nil
	}
	return room.LocalParticipant.UnpublishTrack(pub.SID())
}

// Subscribe implements session.MediaTransport. With auto-subscribe enabled
// this is only needed for tracks that were explicitly unsubscribed.
func (t *Transport) Subscribe(participantID string, kind session.TrackKind) error {
	t.mu.Lock()
	room := t.room
	t.mu.Unlock()
	if room == nil {
		return fmt.Errorf("not joined")
	}

	for _, rp := range room.GetRemoteParticipants() {
		if rp.Identity() != participantID {
			continue
		}
		for _, pub := range rp.TrackPublications() {
			remotePub, ok := pub.(*lksdk.RemoteTrackPublication)
			if !ok {
				continue
			}
			if kindOf(remotePub.Kind()) != kind {
				continue
			}
			return remotePub.SetSubscribed(true)
		}
	}
	return fmt.Errorf("no %s track for participant %s", kind, participantID)
}

// roomCallback maps LiveKit room events onto the transport observer. The SDK
// drives reconnection itself; this adapter only reports the transitions.
func (t *Transport) roomCallback() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		OnReconnecting: func() {
			t.emitState(session.ConnectionReconnecting)
		},
		OnReconnected: func() {
			t.emitState(session.ConnectionConnected)
		},
		OnDisconnectedWithReason: func(reason lksdk.DisconnectionReason) {
			t.logger.Warn("disconnected from room", zap.String("reason", string(reason)))
			t.emitState(session.ConnectionDisconnected)
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			if observer := t.currentObserver(); observer != nil {
				observer.OnParticipantLeft(rp.Identity())
			}
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if observer := t.currentObserver(); observer != nil {
					observer.OnRemoteTrackAdded(rp.Identity(), kindOf(pub.Kind()), &remoteTrack{
						sid:  pub.SID(),
						kind: kindOf(pub.Kind()),
					})
				}
			},
			OnTrackUnpublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if observer := t.currentObserver(); observer != nil {
					observer.OnRemoteTrackRemoved(rp.Identity(), kindOf(pub.Kind()))
				}
			},
		},
	}
}

func (t *Transport) currentObserver() session.TransportObserver {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.observer
}

func (t *Transport) emitState(cur session.ConnectionState) {
	t.mu.Lock()
	prev := t.state
	if cur == prev {
		t.mu.Unlock()
		return
	}
	t.state = cur
	observer := t.observer
	t.mu.Unlock()

	if observer != nil {
		observer.OnConnectionStateChanged(cur, prev)
	}
}

// kindOf maps the SDK track kind to the session-level kind.
func kindOf(kind lksdk.TrackKind) session.TrackKind {
	if kind == lksdk.TrackKindAudio {
		return session.TrackKindAudio
	}
	return session.TrackKindVideo
}

// remoteTrack is a thin reference to a remote publication. The session layer
// never owns a remote track's lifecycle.
type remoteTrack struct {
	sid  string
	kind session.TrackKind
}

func (r *remoteTrack) ID() string              { return r.sid }
func (r *remoteTrack) Kind() session.TrackKind { return r.kind }
