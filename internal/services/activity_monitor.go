package services

import (
	"context"
	"time"

	"engagement-backend/internal/models"
)

// Thresholds are two separate policies: IdleThreshold applies to the
// duration of a reported idle period (blur, no input), ActivityGap to the
// silence between two consecutive activity events.
type Thresholds struct {
	Idle        time.Duration
	ActivityGap time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Idle:        180 * time.Second,
		ActivityGap: 2 * time.Hour,
	}
}

// ActivityResult names the session that subsequent writes must target.
type ActivityResult struct {
	Session *models.Session
	// Split is true when this event closed the addressed session.
	Split bool
	// Rerouted is true when the addressed session was already closed and the
	// event was moved to the user's active session.
	Rerouted bool
}

func (r ActivityResult) SessionID() string { return r.Session.ID }

type ActivityMonitor struct {
	sessions   *SessionManager
	thresholds Thresholds
}

func NewActivityMonitor(sessions *SessionManager, thresholds Thresholds) *ActivityMonitor {
	return &ActivityMonitor{sessions: sessions, thresholds: thresholds}
}

func (a *ActivityMonitor) Thresholds() Thresholds { return a.thresholds }

// OnActivity compares eventTime with the session's last activity. A gap
// above threshold splits the session at the last activity and opens a new
// one at eventTime; otherwise last activity moves forward to eventTime.
func (a *ActivityMonitor) OnActivity(ctx context.Context, sessionID string, eventTime time.Time, threshold time.Duration) (ActivityResult, error) {
	sess, err := a.sessions.getSession(ctx, sessionID)
	if err != nil {
		return ActivityResult{}, err
	}

	var res ActivityResult
	err = a.sessions.withUserLock(ctx, sess.UserID, func() error {
		res, err = a.onActivityLocked(ctx, sessionID, eventTime, threshold)
		return err
	})
	return res, err
}

// resolveLocked returns the open session writes for sessionID must go to:
// the session itself, or the user's active session when it already closed.
func (a *ActivityMonitor) resolveLocked(ctx context.Context, sessionID string) (*models.Session, bool, error) {
	m := a.sessions
	sess, err := m.getSession(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if sess.Active() {
		return sess, false, nil
	}

	user, err := m.getUser(ctx, sess.UserID)
	if err != nil {
		return nil, false, err
	}
	if user.ActiveSessionID == nil {
		return nil, false, &ConflictError{Message: "Session is closed"}
	}
	sess, err = m.getSession(ctx, *user.ActiveSessionID)
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

func (a *ActivityMonitor) onActivityLocked(ctx context.Context, sessionID string, eventTime time.Time, threshold time.Duration) (ActivityResult, error) {
	m := a.sessions
	sess, rerouted, err := a.resolveLocked(ctx, sessionID)
	if err != nil {
		return ActivityResult{}, err
	}

	if eventTime.Sub(sess.LastActivityTime) > threshold {
		newID, err := m.splitLocked(ctx, sess, sess.LastActivityTime, eventTime)
		if err != nil {
			return ActivityResult{}, err
		}
		next, err := m.getSession(ctx, newID)
		if err != nil {
			return ActivityResult{}, err
		}
		return ActivityResult{Session: next, Split: true, Rerouted: rerouted}, nil
	}

	if err := m.touchLocked(ctx, sess.ID, eventTime); err != nil {
		return ActivityResult{}, err
	}
	if eventTime.After(sess.LastActivityTime) {
		sess.LastActivityTime = eventTime
	}
	return ActivityResult{Session: sess, Rerouted: rerouted}, nil
}
