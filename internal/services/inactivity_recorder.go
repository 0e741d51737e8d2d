package services

import (
	"context"
	"strings"
	"time"

	"engagement-backend/internal/models"
	"engagement-backend/internal/repository"
)

type InactivityInput struct {
	SessionID string
	Start     time.Time
	End       time.Time
	// Duration in seconds as measured by the client.
	Duration float64
	Type     models.InactivityType
}

type InactivityResult struct {
	Event models.InactivityEvent
	// SessionID is where the event was appended.
	SessionID    string
	SessionSplit bool
	// NewSessionID is set whenever the client must switch sessions.
	NewSessionID string
}

type InactivityRecorder struct {
	monitor *ActivityMonitor
	store   repository.SessionStore
	policy  StorePolicy
}

func NewInactivityRecorder(monitor *ActivityMonitor, store repository.SessionStore, policy StorePolicy) *InactivityRecorder {
	return &InactivityRecorder{monitor: monitor, store: store, policy: policy}
}

// RecordInactivity appends the idle period to the session. If the idle
// period exceeds the idle threshold the session is split: closed at the
// start of the idle period and reopened at its end.
func (r *InactivityRecorder) RecordInactivity(ctx context.Context, in InactivityInput) (*InactivityResult, error) {
	if err := validateInactivity(&in); err != nil {
		return nil, err
	}

	m := r.monitor.sessions
	sess, err := m.getSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}

	ev := models.InactivityEvent{
		Start:           in.Start,
		End:             in.End,
		DurationSeconds: in.Duration,
		Type:            in.Type,
	}

	var result *InactivityResult
	err = m.withUserLock(ctx, sess.UserID, func() error {
		if exceeds(in.Duration, r.monitor.thresholds.Idle) {
			result, err = r.splitOnIdleLocked(ctx, in, ev)
			return err
		}

		activity, err := r.monitor.onActivityLocked(ctx, in.SessionID, in.Start, r.monitor.thresholds.ActivityGap)
		if err != nil {
			return err
		}
		target := activity.Session
		if err := r.appendLocked(ctx, target.ID, ev); err != nil {
			return err
		}
		if err := m.touchLocked(ctx, target.ID, in.End); err != nil {
			return err
		}

		result = &InactivityResult{Event: ev, SessionID: target.ID}
		if target.ID != in.SessionID {
			result.SessionSplit = activity.Split
			result.NewSessionID = target.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// splitOnIdleLocked records the idle period on the open session and splits
// it once. Engagement ended where the idle period began, or at the last
// activity when that lies further back than the activity gap.
func (r *InactivityRecorder) splitOnIdleLocked(ctx context.Context, in InactivityInput, ev models.InactivityEvent) (*InactivityResult, error) {
	m := r.monitor.sessions
	target, _, err := r.monitor.resolveLocked(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if err := r.appendLocked(ctx, target.ID, ev); err != nil {
		return nil, err
	}

	splitAt := in.Start
	if in.Start.Sub(target.LastActivityTime) > r.monitor.thresholds.ActivityGap {
		splitAt = target.LastActivityTime
	}
	newID, err := m.splitLocked(ctx, target, splitAt, in.End)
	if err != nil {
		return nil, err
	}
	return &InactivityResult{
		Event:        ev,
		SessionID:    target.ID,
		SessionSplit: true,
		NewSessionID: newID,
	}, nil
}

func (r *InactivityRecorder) appendLocked(ctx context.Context, sessionID string, ev models.InactivityEvent) error {
	err := callStoreErr(ctx, r.policy, "append inactivity", func(ctx context.Context) error {
		return r.store.AppendInactivity(ctx, sessionID, ev)
	})
	return r.monitor.sessions.translate(err)
}

func exceeds(seconds float64, threshold time.Duration) bool {
	return seconds > threshold.Seconds()
}

func validateInactivity(in *InactivityInput) error {
	fields := make(map[string]string)
	if strings.TrimSpace(in.SessionID) == "" {
		fields["session_id"] = "Missing session_id"
	}
	if in.Start.IsZero() {
		fields["starttime"] = "Missing starttime"
	}
	if in.End.IsZero() {
		fields["endtime"] = "Missing endtime"
	}
	if !in.Start.IsZero() && !in.End.IsZero() && in.End.Before(in.Start) {
		fields["endtime"] = "endtime must not be before starttime"
	}
	if in.Duration < 0 {
		fields["duration"] = "Duration must not be negative"
	}
	if !in.Type.Valid() {
		fields["type"] = "Type must be WindowBlurred or NoInputDetected"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}

	if in.Duration == 0 {
		in.Duration = in.End.Sub(in.Start).Seconds()
	}
	return nil
}
