// Package session implements the orchestration logic for a paid one-to-one
// audio/video call: the media connection and its tracks, a wall-clock-driven
// token billing meter, and an independently lifecycled cloud recording.
//
// The package is an in-process library consumed by a call screen. It is
// composed leaf-first:
//   - ConnectionManager owns the media transport handle and local tracks
//   - BillingMeter runs the per-second billing clock on the payer side
//   - RecordingController drives the server-side composite recording
//   - CallSessionOrchestrator ties the three together under one lifecycle
//
// The media transport and the recording backend are external collaborators
// consumed through the MediaTransport and RecordingClient interfaces; the
// package does not depend on any specific vendor.
package session

import (
	"time"
)

// Role identifies which side of the call the local participant is on.
// Only the payer side runs the billing meter; the payee is never billed.
type Role int

const (
	// RolePayer is the participant paying per minute for the call.
	RolePayer Role = iota
	// RolePayee is the participant being paid; the meter never runs for them.
	RolePayee
)

// String returns a human-readable representation of the role.
func (r Role) String() string {
	switch r {
	case RolePayer:
		return "payer"
	case RolePayee:
		return "payee"
	default:
		return "unknown"
	}
}

// SessionState represents the lifecycle state of a call session.
// Transitions only move forward: Idle → Joining → Active → Ending → Ended.
// Ended is terminal; a new session requires a new orchestrator instance.
type SessionState int

const (
	// StateIdle is the initial state before Start is called.
	StateIdle SessionState = iota
	// StateJoining means the media connection is being established.
	StateJoining
	// StateActive means the call is connected and, on the payer side, billed.
	StateActive
	// StateEnding means teardown is in progress.
	StateEnding
	// StateEnded is the terminal state; all owned resources are released.
	StateEnded
)

// String returns a human-readable representation of the session state.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// EndReason explains why a session reached Ended.
type EndReason string

const (
	// EndReasonCompleted means the local participant ended the call.
	EndReasonCompleted EndReason = "completed"
	// EndReasonInsufficientFunds means the billing meter exhausted the
	// balance and force-terminated the call. System-initiated, not an error.
	EndReasonInsufficientFunds EndReason = "insufficient_funds"
	// EndReasonConnectionLost means the media transport gave up reconnecting.
	EndReasonConnectionLost EndReason = "connection_lost"
)

// CallSession identifies one call and its fixed parameters. The rate is fixed
// for the lifetime of a session; a rate change requires a new session.
type CallSession struct {
	ID            string
	Channel       string
	ParticipantID string
	Role          Role
	RatePerMinute int64
	StartedAt     time.Time
}

// SessionSummary is returned when a session ends. RecordingArtifact is empty
// when no recording was made or the recording stop failed.
type SessionSummary struct {
	SessionID         string
	Reason            EndReason
	FinalCost         int64
	Duration          time.Duration
	RecordingArtifact string
}
