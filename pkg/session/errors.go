package session

import "errors"

var (
	// ErrDeviceUnavailable is returned by ConnectionManager.Join when a local
	// audio or video track cannot be acquired from the device.
	ErrDeviceUnavailable = errors.New("local media device unavailable")

	// ErrJoinRejected is returned by ConnectionManager.Join when the media
	// transport rejects the supplied credentials.
	ErrJoinRejected = errors.New("transport rejected join credentials")

	// ErrRecordingStartFailed is returned when the recording backend fails to
	// start a recording. The controller reverts to idle; the call is unaffected.
	ErrRecordingStartFailed = errors.New("recording start failed")

	// ErrRecordingStopFailed is returned when the recording backend fails to
	// stop a recording. The controller reverts to recording so a retry is possible.
	ErrRecordingStopFailed = errors.New("recording stop failed")

	// ErrAlreadyRecording is returned when a recording is requested while one
	// is already in progress or has already completed for this call.
	ErrAlreadyRecording = errors.New("recording already in progress")

	// ErrRecordingNotActive is returned when a stop is requested and no
	// recording is running.
	ErrRecordingNotActive = errors.New("no recording in progress")

	// ErrInsufficientFunds marks a system-initiated termination caused by the
	// balance running out. It is delivered as a session end reason, not as a
	// failure of any operation the caller invoked.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrSessionNotIdle is returned by Start when the orchestrator has already
	// been started. Orchestrator instances are single-use.
	ErrSessionNotIdle = errors.New("session already started")

	// ErrSessionEnded is returned by operations invoked after the session
	// reached its terminal state.
	ErrSessionEnded = errors.New("session has ended")
)
