package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RecordingStatus is the cloud recording state machine:
// idle → starting → recording → stopping → stopped.
type RecordingStatus int

const (
	RecordingIdle RecordingStatus = iota
	RecordingStarting
	RecordingActive
	RecordingStopping
	RecordingStopped
)

// String returns a human-readable representation of the recording status.
func (s RecordingStatus) String() string {
	switch s {
	case RecordingIdle:
		return "idle"
	case RecordingStarting:
		return "starting"
	case RecordingActive:
		return "recording"
	case RecordingStopping:
		return "stopping"
	case RecordingStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// RecordingClient is the recording-control collaborator: a backend service
// that runs server-side composite recordings. Errors are surfaced verbatim
// to the controller's error paths.
type RecordingClient interface {
	// StartRecording begins a mix-mode recording of the channel and returns
	// the backend-assigned recording identifier.
	StartRecording(ctx context.Context, channel, uid string) (recordingID string, err error)

	// StopRecording stops the identified recording and returns the artifact
	// location.
	StopRecording(ctx context.Context, recordingID, channel string) (artifactURL string, err error)
}

// RecordingController drives one server-side recording per physical call.
// Recording failures are never fatal to the call: a failed start reverts to
// idle and leaves billing untouched; a failed stop reverts to recording so
// the caller may retry.
type RecordingController struct {
	mu     sync.Mutex
	logger *zap.Logger
	client RecordingClient
	now    func() time.Time

	status      RecordingStatus
	recordingID string
	channel     string
	startedAt   time.Time
	duration    time.Duration
	artifactURL string
}

// NewRecordingController creates an idle controller over the given client.
func NewRecordingController(client RecordingClient, logger *zap.Logger) *RecordingController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordingController{
		logger: logger,
		client: client,
		now:    time.Now,
		status: RecordingIdle,
	}
}

// StartRecording asks the backend to begin a composite recording keyed by
// channel and participant id. Starting while a recording is in progress, or
// after one has already completed for this call, returns ErrAlreadyRecording
// rather than silently restarting. On backend failure the controller reverts
// to idle and returns ErrRecordingStartFailed.
func (rc *RecordingController) StartRecording(ctx context.Context, channel, uid string) (string, error) {
	rc.mu.Lock()
	if rc.status != RecordingIdle {
		status := rc.status
		rc.mu.Unlock()
		return "", fmt.Errorf("%w (status %s)", ErrAlreadyRecording, status)
	}
	rc.status = RecordingStarting
	rc.mu.Unlock()

	recordingID, err := rc.client.StartRecording(ctx, channel, uid)
	if err != nil {
		rc.mu.Lock()
		rc.status = RecordingIdle
		rc.mu.Unlock()
		recordingFailures.Inc()
		rc.logger.Error("recording start failed", zap.String("channel", channel), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrRecordingStartFailed, err)
	}

	rc.mu.Lock()
	rc.status = RecordingActive
	rc.recordingID = recordingID
	rc.channel = channel
	rc.startedAt = rc.now()
	rc.mu.Unlock()

	rc.logger.Info("recording started",
		zap.String("channel", channel),
		zap.String("recordingID", recordingID))
	return recordingID, nil
}

// StopRecording asks the backend to finish the recording and returns the
// artifact location. Stopping when no recording is running, including a
// second stop after success, is rejected with ErrRecordingNotActive. On
// backend failure the controller reverts to recording so the caller may
// retry, and returns ErrRecordingStopFailed.
func (rc *RecordingController) StopRecording(ctx context.Context) (string, error) {
	rc.mu.Lock()
	if rc.status != RecordingActive {
		status := rc.status
		rc.mu.Unlock()
		return "", fmt.Errorf("%w (status %s)", ErrRecordingNotActive, status)
	}
	rc.status = RecordingStopping
	recordingID := rc.recordingID
	channel := rc.channel
	rc.mu.Unlock()

	artifactURL, err := rc.client.StopRecording(ctx, recordingID, channel)
	if err != nil {
		rc.mu.Lock()
		rc.status = RecordingActive
		rc.mu.Unlock()
		recordingFailures.Inc()
		rc.logger.Error("recording stop failed", zap.String("recordingID", recordingID), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrRecordingStopFailed, err)
	}

	rc.mu.Lock()
	rc.status = RecordingStopped
	rc.duration = rc.now().Sub(rc.startedAt)
	rc.artifactURL = artifactURL
	rc.mu.Unlock()

	rc.logger.Info("recording stopped",
		zap.String("recordingID", recordingID),
		zap.String("artifact", artifactURL))
	return artifactURL, nil
}

// Status returns the current state and the elapsed recording duration for
// display. The duration freezes at the value reached when the recording
// stopped.
func (rc *RecordingController) Status() (RecordingStatus, time.Duration) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	switch rc.status {
	case RecordingActive, RecordingStopping:
		return rc.status, rc.now().Sub(rc.startedAt)
	default:
		return rc.status, rc.duration
	}
}

// ArtifactURL returns the recording artifact location, set only after a
// successful stop.
func (rc *RecordingController) ArtifactURL() string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.artifactURL
}
