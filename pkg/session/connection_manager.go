package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ConnectionCallbacks are the notifications the ConnectionManager emits.
// All fields are optional. Callbacks are invoked outside the manager's lock
// and may fire from transport goroutines.
type ConnectionCallbacks struct {
	OnConnectionStateChanged func(cur, prev ConnectionState)
	OnRemoteTrackAdded       func(participantID string, kind TrackKind)
	OnRemoteTrackRemoved     func(participantID string, kind TrackKind)
	OnParticipantLeft        func(participantID string)
}

// RemoteParticipant holds the tracks a remote participant currently publishes.
// Either track may be nil; the remote side publishes and unpublishes each
// independently.
type RemoteParticipant struct {
	ID    string
	Audio RemoteTrack
	Video RemoteTrack
}

// localTrackSet owns the local capture tracks: one optional audio, one
// optional video, and at most one screen share. Each track is closed exactly
// once; close is a no-op for tracks already released.
type localTrackSet struct {
	audio  LocalTrack
	video  LocalTrack
	screen LocalTrack
}

func (s *localTrackSet) empty() bool {
	return s.audio == nil && s.video == nil && s.screen == nil
}

func (s *localTrackSet) close() {
	if s.audio != nil {
		_ = s.audio.Close()
		s.audio = nil
	}
	if s.video != nil {
		_ = s.video.Close()
		s.video = nil
	}
	if s.screen != nil {
		_ = s.screen.Close()
		s.screen = nil
	}
}

// ConnectionManager owns the media transport handle, the local track set, and
// the registry of remote participants' tracks. It is the leaf component of a
// call session: it knows nothing about billing or recording.
type ConnectionManager struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	transport MediaTransport
	devices   DeviceSource
	callbacks ConnectionCallbacks

	state   ConnectionState
	joined  bool
	local   localTrackSet
	remotes map[string]*RemoteParticipant
}

// NewConnectionManager creates a manager over the given transport and device
// source. A nil logger defaults to a no-op logger.
func NewConnectionManager(transport MediaTransport, devices DeviceSource, logger *zap.Logger) *ConnectionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	cm := &ConnectionManager{
		logger:    logger,
		transport: transport,
		devices:   devices,
		state:     ConnectionDisconnected,
		remotes:   make(map[string]*RemoteParticipant),
	}
	transport.SetObserver(&transportObserver{cm: cm})
	return cm
}

// SetCallbacks registers the manager's event sinks. Call before Join.
func (cm *ConnectionManager) SetCallbacks(callbacks ConnectionCallbacks) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = callbacks
}

// Join acquires local audio and video tracks, joins the channel, and publishes
// the tracks. Track acquisition failures return ErrDeviceUnavailable and
// rejected credentials return ErrJoinRejected; in both cases any tracks
// acquired so far are released and no remote interaction has begun.
func (cm *ConnectionManager) Join(ctx context.Context, req JoinRequest) error {
	cm.mu.Lock()
	if cm.joined {
		cm.mu.Unlock()
		cm.logger.Warn("join called while already connected", zap.String("channel", req.Channel))
		return nil
	}

	audio, err := cm.devices.CreateAudioTrack()
	if err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("%w: acquire audio: %w", ErrDeviceUnavailable, err)
	}
	video, err := cm.devices.CreateVideoTrack()
	if err != nil {
		_ = audio.Close()
		cm.mu.Unlock()
		return fmt.Errorf("%w: acquire video: %w", ErrDeviceUnavailable, err)
	}
	cm.local.audio = audio
	cm.local.video = video
	emit := cm.setStateLocked(ConnectionConnecting)
	cm.mu.Unlock()
	if emit != nil {
		emit()
	}

	if err := cm.transport.Join(ctx, req); err != nil {
		cm.failJoin()
		return fmt.Errorf("%w: %w", ErrJoinRejected, err)
	}

	if err := cm.transport.Publish(ctx, audio, video); err != nil {
		_ = cm.transport.Leave()
		cm.failJoin()
		return fmt.Errorf("publish local tracks: %w", err)
	}

	cm.mu.Lock()
	cm.joined = true
	emit = cm.setStateLocked(ConnectionConnected)
	cm.mu.Unlock()
	if emit != nil {
		emit()
	}

	cm.logger.Info("joined channel",
		zap.String("channel", req.Channel),
		zap.String("participantID", req.ParticipantID))
	return nil
}

// Leave releases local tracks, leaves the channel, and clears the remote
// participant registry. Idempotent: calling while already disconnected is a
// no-op, and local tracks are never closed twice.
func (cm *ConnectionManager) Leave() {
	cm.mu.Lock()
	// Already fully torn down. A transport-initiated disconnect clears the
	// joined flag but leaves track release to this method, so owned tracks
	// keep the teardown path alive.
	if !cm.joined && cm.state == ConnectionDisconnected && cm.local.empty() {
		cm.mu.Unlock()
		return
	}
	cm.joined = false
	cm.local.close()
	cm.remotes = make(map[string]*RemoteParticipant)
	emit := cm.setStateLocked(ConnectionDisconnected)
	cm.mu.Unlock()
	if emit != nil {
		emit()
	}

	if err := cm.transport.Leave(); err != nil {
		cm.logger.Warn("transport leave failed", zap.Error(err))
	}
	cm.logger.Info("left channel")
}

// failJoin unwinds a partially completed join: releases local tracks and
// returns the state to disconnected.
func (cm *ConnectionManager) failJoin() {
	cm.mu.Lock()
	cm.local.close()
	emit := cm.setStateLocked(ConnectionDisconnected)
	cm.mu.Unlock()
	if emit != nil {
		emit()
	}
}

// SetAudioEnabled toggles the local audio track without renegotiating the
// connection. No-op when no audio track exists.
func (cm *ConnectionManager) SetAudioEnabled(enabled bool) {
	cm.mu.RLock()
	track := cm.local.audio
	cm.mu.RUnlock()
	if track != nil {
		track.SetEnabled(enabled)
	}
}

// SetVideoEnabled toggles the local video track without renegotiating the
// connection. No-op when no video track exists.
func (cm *ConnectionManager) SetVideoEnabled(enabled bool) {
	cm.mu.RLock()
	track := cm.local.video
	cm.mu.RUnlock()
	if track != nil {
		track.SetEnabled(enabled)
	}
}

// StartScreenShare acquires a screen track and publishes it. Any previous
// screen-share track is unpublished and closed first.
func (cm *ConnectionManager) StartScreenShare(ctx context.Context) error {
	cm.mu.Lock()
	if !cm.joined {
		cm.mu.Unlock()
		return fmt.Errorf("not connected")
	}
	prev := cm.local.screen
	cm.local.screen = nil
	cm.mu.Unlock()

	if prev != nil {
		_ = cm.transport.Unpublish(prev)
		_ = prev.Close()
	}

	track, err := cm.devices.CreateScreenTrack()
	if err != nil {
		return fmt.Errorf("%w: acquire screen: %w", ErrDeviceUnavailable, err)
	}
	if err := cm.transport.Publish(ctx, track); err != nil {
		_ = track.Close()
		return fmt.Errorf("publish screen track: %w", err)
	}

	cm.mu.Lock()
	cm.local.screen = track
	cm.mu.Unlock()
	return nil
}

// StopScreenShare unpublishes and releases the screen-share track, if any.
func (cm *ConnectionManager) StopScreenShare() {
	cm.mu.Lock()
	track := cm.local.screen
	cm.local.screen = nil
	cm.mu.Unlock()
	if track == nil {
		return
	}
	if err := cm.transport.Unpublish(track); err != nil {
		cm.logger.Warn("unpublish screen track failed", zap.Error(err))
	}
	_ = track.Close()
}

// State returns the current connection state.
func (cm *ConnectionManager) State() ConnectionState {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.state
}

// Participants returns a snapshot of the remote participants and the tracks
// they currently publish. The returned values are copies.
func (cm *ConnectionManager) Participants() []RemoteParticipant {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]RemoteParticipant, 0, len(cm.remotes))
	for _, p := range cm.remotes {
		out = append(out, *p)
	}
	return out
}

// setStateLocked records a state transition and returns the emit function the
// caller must invoke after releasing cm.mu. Returns nil when nothing changed.
func (cm *ConnectionManager) setStateLocked(cur ConnectionState) func() {
	prev := cm.state
	if cur == prev {
		return nil
	}
	cm.state = cur
	cb := cm.callbacks.OnConnectionStateChanged
	if cb == nil {
		return nil
	}
	return func() { cb(cur, prev) }
}

// handleTransportState applies a mid-call state change surfaced by the
// transport. The manager never retries leave or join itself; it records the
// state and lets the orchestrator decide.
func (cm *ConnectionManager) handleTransportState(cur ConnectionState) {
	cm.mu.Lock()
	prev := cm.state
	if cur == prev {
		cm.mu.Unlock()
		return
	}
	cm.state = cur
	if cur == ConnectionDisconnected {
		cm.joined = false
	}
	cb := cm.callbacks.OnConnectionStateChanged
	cm.mu.Unlock()

	cm.logger.Info("connection state changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", cur))
	if cb != nil {
		cb(cur, prev)
	}
}

func (cm *ConnectionManager) handleRemoteTrackAdded(participantID string, kind TrackKind, track RemoteTrack) {
	cm.mu.Lock()
	p, ok := cm.remotes[participantID]
	if !ok {
		p = &RemoteParticipant{ID: participantID}
		cm.remotes[participantID] = p
	}
	switch kind {
	case TrackKindAudio:
		p.Audio = track
	case TrackKindVideo:
		p.Video = track
	}
	cb := cm.callbacks.OnRemoteTrackAdded
	cm.mu.Unlock()

	if cb != nil {
		cb(participantID, kind)
	}
}

func (cm *ConnectionManager) handleRemoteTrackRemoved(participantID string, kind TrackKind) {
	cm.mu.Lock()
	if p, ok := cm.remotes[participantID]; ok {
		switch kind {
		case TrackKindAudio:
			p.Audio = nil
		case TrackKindVideo:
			p.Video = nil
		}
	}
	cb := cm.callbacks.OnRemoteTrackRemoved
	cm.mu.Unlock()

	if cb != nil {
		cb(participantID, kind)
	}
}

func (cm *ConnectionManager) handleParticipantLeft(participantID string) {
	cm.mu.Lock()
	delete(cm.remotes, participantID)
	cb := cm.callbacks.OnParticipantLeft
	cm.mu.Unlock()

	if cb != nil {
		cb(participantID)
	}
}

// transportObserver adapts transport events onto the manager without exposing
// the TransportObserver methods on the manager's public API.
type transportObserver struct {
	cm *ConnectionManager
}

func (o *transportObserver) OnConnectionStateChanged(cur, _ ConnectionState) {
	o.cm.handleTransportState(cur)
}

func (o *transportObserver) OnRemoteTrackAdded(participantID string, kind TrackKind, track RemoteTrack) {
	o.cm.handleRemoteTrackAdded(participantID, kind, track)
}

func (o *transportObserver) OnRemoteTrackRemoved(participantID string, kind TrackKind) {
	o.cm.handleRemoteTrackRemoved(participantID, kind)
}

func (o *transportObserver) OnParticipantLeft(participantID string) {
	o.cm.handleParticipantLeft(participantID)
}
