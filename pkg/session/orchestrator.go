package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionConfig describes one call session. The rate is per minute in integer
// token units; the payee side uses RolePayee and is never metered. The token
// and starting balance come from the caller; this package never queries a
// balance service itself.
type SessionConfig struct {
	// SessionID identifies the session. Generated when empty.
	SessionID string

	AppID         string
	Channel       string
	Token         string
	ParticipantID string

	Role            Role
	RatePerMinute   int64
	StartingBalance int64
}

// SessionCallbacks are the orchestrator's notifications to the call screen.
// All fields are optional and invoked outside the orchestrator's lock.
type SessionCallbacks struct {
	// OnStateChanged reports lifecycle transitions.
	OnStateChanged func(cur, prev SessionState)

	// OnLowBalance forwards the meter's one-time low-balance warning.
	OnLowBalance func(snapshot BillingSnapshot)

	// OnEnded delivers the final summary, for both user-initiated and
	// system-initiated ends.
	OnEnded func(summary SessionSummary)
}

// CallSessionOrchestrator composes the connection manager, billing meter, and
// recording controller under one lifecycle: start call → run → end call.
// It reconciles their events: billing pauses during reconnection and resumes
// without double-counting, and everything unwinds in order when the call ends
// for any reason.
//
// Each instance is the sole mutator of its components and serializes its own
// transitions; events arriving after the session leaves Active are ignored.
// Instances are single-use: a new session requires a new orchestrator.
type CallSessionOrchestrator struct {
	mu        sync.Mutex
	logger    *zap.Logger
	callbacks SessionCallbacks

	session   CallSession
	cfg       SessionConfig
	conn      *ConnectionManager
	billing   *BillingMeter
	recording *RecordingController

	state          SessionState
	reconnecting   bool
	billingStarted bool
	summary        *SessionSummary
}

// NewCallSessionOrchestrator wires the three components into one session.
// The orchestrator installs itself as the sink for connection-state and
// billing events; callers observe the session through SessionCallbacks.
func NewCallSessionOrchestrator(
	cfg SessionConfig,
	conn *ConnectionManager,
	billing *BillingMeter,
	recording *RecordingController,
	logger *zap.Logger,
) *CallSessionOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	o := &CallSessionOrchestrator{
		logger: logger.With(zap.String("sessionID", cfg.SessionID)),
		cfg:    cfg,
		session: CallSession{
			ID:            cfg.SessionID,
			Channel:       cfg.Channel,
			ParticipantID: cfg.ParticipantID,
			Role:          cfg.Role,
			RatePerMinute: cfg.RatePerMinute,
		},
		conn:      conn,
		billing:   billing,
		recording: recording,
		state:     StateIdle,
	}

	conn.SetCallbacks(ConnectionCallbacks{
		OnConnectionStateChanged: o.handleConnectionState,
	})
	billing.SetCallbacks(BillingCallbacks{
		OnLowBalance: o.handleLowBalance,
		OnTerminated: o.handleBillingTerminated,
	})
	return o
}

// SetCallbacks registers the caller's event sinks. Call before Start.
func (o *CallSessionOrchestrator) SetCallbacks(callbacks SessionCallbacks) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callbacks = callbacks
}

// Start joins the call and, on the payer side, starts the billing clock.
// A second Start on the same instance returns ErrSessionNotIdle. Device and
// join errors abort the start before any billing begins and leave the session
// in its terminal state.
func (o *CallSessionOrchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return ErrSessionNotIdle
	}
	o.session.StartedAt = time.Now()
	emit := o.setStateLocked(StateJoining)
	o.mu.Unlock()
	emit()

	if err := o.conn.Join(ctx, JoinRequest{
		AppID:         o.cfg.AppID,
		Channel:       o.cfg.Channel,
		Token:         o.cfg.Token,
		ParticipantID: o.cfg.ParticipantID,
	}); err != nil {
		o.mu.Lock()
		emit = o.setStateLocked(StateEnded)
		o.mu.Unlock()
		emit()
		o.logger.Error("call start failed", zap.Error(err))
		return err
	}

	o.mu.Lock()
	if o.state != StateJoining {
		// End raced the join; unwind the late connection.
		o.mu.Unlock()
		o.conn.Leave()
		return nil
	}
	emit = o.setStateLocked(StateActive)
	startBilling := o.session.Role == RolePayer && o.cfg.RatePerMinute > 0
	o.billingStarted = startBilling
	o.mu.Unlock()
	emit()

	if startBilling {
		o.billing.Start(o.cfg.RatePerMinute, o.cfg.StartingBalance)
	}
	activeSessions.Inc()
	o.logger.Info("call active",
		zap.Stringer("role", o.session.Role),
		zap.Int64("ratePerMinute", o.session.RatePerMinute))
	return nil
}

// End terminates the session on the caller's behalf. Safe to call from any
// non-terminal state; components that never started are never unwound, but
// leaving the transport is always attempted. Returns the session summary.
func (o *CallSessionOrchestrator) End(ctx context.Context) (SessionSummary, error) {
	return o.endWithReason(ctx, EndReasonCompleted)
}

// StartRecording begins the cloud recording for this call. Recording failures
// are not fatal to the call: billing and the connection are unaffected.
func (o *CallSessionOrchestrator) StartRecording(ctx context.Context) (string, error) {
	o.mu.Lock()
	if o.state != StateActive {
		state := o.state
		o.mu.Unlock()
		if state == StateEnded || state == StateEnding {
			return "", ErrSessionEnded
		}
		return "", ErrRecordingStartFailed
	}
	channel := o.session.Channel
	uid := o.session.ParticipantID
	o.mu.Unlock()

	return o.recording.StartRecording(ctx, channel, uid)
}

// StopRecording finishes the cloud recording and returns the artifact URL.
func (o *CallSessionOrchestrator) StopRecording(ctx context.Context) (string, error) {
	return o.recording.StopRecording(ctx)
}

// RefreshBalance resets the meter's starting balance after an external
// top-up. The session rate is fixed; only the balance changes.
func (o *CallSessionOrchestrator) RefreshBalance(newBalance int64) {
	o.billing.RefreshBalance(newBalance)
}

// State returns the current session lifecycle state.
func (o *CallSessionOrchestrator) State() SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Reconnecting reports whether the transport is currently in a reconnection
// episode. Only meaningful while the session is Active.
func (o *CallSessionOrchestrator) Reconnecting() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reconnecting
}

// Session returns a copy of the session record.
func (o *CallSessionOrchestrator) Session() CallSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// Summary returns the final summary once the session has ended.
func (o *CallSessionOrchestrator) Summary() (SessionSummary, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.summary == nil {
		return SessionSummary{}, false
	}
	return *o.summary, true
}

// handleConnectionState reconciles transport state with the session state
// machine. Reconnection is only meaningful while Active: the payer is not
// billed for dead air, and a transport give-up ends the call with a
// connection-lost reason instead of an error.
func (o *CallSessionOrchestrator) handleConnectionState(cur, prev ConnectionState) {
	o.mu.Lock()
	if o.state != StateActive {
		o.mu.Unlock()
		return
	}

	switch cur {
	case ConnectionReconnecting:
		if !o.reconnecting {
			o.reconnecting = true
			o.mu.Unlock()
			reconnections.Inc()
			o.logger.Warn("transport reconnecting, billing paused")
			o.billing.Pause()
			return
		}
		o.mu.Unlock()

	case ConnectionConnected:
		if o.reconnecting {
			o.reconnecting = false
			o.mu.Unlock()
			o.logger.Info("transport reconnected, billing resumed")
			o.billing.Resume()
			return
		}
		o.mu.Unlock()

	case ConnectionDisconnected:
		o.mu.Unlock()
		o.logger.Warn("transport gave up, ending call",
			zap.Stringer("previousState", prev))
		_, _ = o.endWithReason(context.Background(), EndReasonConnectionLost)

	default:
		o.mu.Unlock()
	}
}

func (o *CallSessionOrchestrator) handleLowBalance(snapshot BillingSnapshot) {
	o.mu.Lock()
	cb := o.callbacks.OnLowBalance
	o.mu.Unlock()
	if cb != nil {
		cb(snapshot)
	}
}

// handleBillingTerminated reacts to the meter exhausting the balance. This is
// a system-initiated end, distinguishable from a user end by its reason code.
func (o *CallSessionOrchestrator) handleBillingTerminated(snapshot BillingSnapshot) {
	o.logger.Warn("balance exhausted, terminating call",
		zap.Int64("finalCost", snapshot.Cost))
	_, _ = o.endWithReason(context.Background(), EndReasonInsufficientFunds)
}

// endWithReason runs the teardown sequence exactly once: stop the recording
// if one is running, stop the billing meter if it ever started, and always
// leave the transport. Events arriving while teardown is in flight see a
// state past Active and are ignored.
func (o *CallSessionOrchestrator) endWithReason(ctx context.Context, reason EndReason) (SessionSummary, error) {
	o.mu.Lock()
	if o.state == StateEnded {
		summary := o.summary
		o.mu.Unlock()
		if summary != nil {
			return *summary, ErrSessionEnded
		}
		return SessionSummary{}, ErrSessionEnded
	}
	if o.state == StateEnding {
		o.mu.Unlock()
		return SessionSummary{}, ErrSessionEnded
	}
	wasActive := o.state == StateActive
	billingStarted := o.billingStarted
	startedAt := o.session.StartedAt
	emit := o.setStateLocked(StateEnding)
	o.mu.Unlock()
	emit()

	var artifact string
	if status, _ := o.recording.Status(); status == RecordingActive {
		url, err := o.recording.StopRecording(ctx)
		if err != nil {
			o.logger.Warn("recording stop during teardown failed", zap.Error(err))
		} else {
			artifact = url
		}
	}

	var finalCost int64
	if billingStarted {
		o.billing.Stop()
		finalCost = o.billing.FinalCost()
	}

	o.conn.Leave()

	var duration time.Duration
	if !startedAt.IsZero() {
		duration = time.Since(startedAt)
	}
	summary := SessionSummary{
		SessionID:         o.session.ID,
		Reason:            reason,
		FinalCost:         finalCost,
		Duration:          duration,
		RecordingArtifact: artifact,
	}

	o.mu.Lock()
	o.summary = &summary
	emit = o.setStateLocked(StateEnded)
	onEnded := o.callbacks.OnEnded
	o.mu.Unlock()
	emit()

	if wasActive {
		activeSessions.Dec()
	}
	o.logger.Info("call ended",
		zap.String("reason", string(reason)),
		zap.Int64("finalCost", finalCost),
		zap.Duration("duration", duration))
	if onEnded != nil {
		onEnded(summary)
	}
	return summary, nil
}

// setStateLocked records a transition and returns the emit closure to invoke
// after releasing o.mu. The closure is never nil.
func (o *CallSessionOrchestrator) setStateLocked(cur SessionState) func() {
	prev := o.state
	if cur == prev {
		return func() {}
	}
	o.state = cur
	cb := o.callbacks.OnStateChanged
	if cb == nil {
		return func() {}
	}
	return func() { cb(cur, prev) }
}
