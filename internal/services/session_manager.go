package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"engagement-backend/internal/locks"
	"engagement-backend/internal/logger"
	"engagement-backend/internal/models"
	"engagement-backend/internal/repository"
)

// SplitPublisher is told about every split so connected clients can move
// their telemetry to the new session.
type SplitPublisher interface {
	PublishSplit(ctx context.Context, ev models.SplitEvent) error
}

type SessionManagerConfig struct {
	Store    StorePolicy
	LockWait time.Duration
}

// SessionManager owns the open/close/split transitions of user sessions.
// Every transition runs inside the user's lifecycle lock.
type SessionManager struct {
	store     repository.SessionStore
	locker    locks.Locker
	publisher SplitPublisher
	policy    StorePolicy
	lockWait  time.Duration
	log       *logger.Logger

	// Splits made under a user's lock, published once the lock is released.
	pendingMu sync.Mutex
	pending   map[uuid.UUID][]models.SplitEvent
}

func NewSessionManager(store repository.SessionStore, locker locks.Locker, publisher SplitPublisher, cfg SessionManagerConfig, log *logger.Logger) *SessionManager {
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Second
	}
	if cfg.Store.Timeout <= 0 {
		cfg.Store = DefaultStorePolicy()
	}
	return &SessionManager{
		store:     store,
		locker:    locker,
		publisher: publisher,
		policy:    cfg.Store,
		lockWait:  cfg.LockWait,
		log:       log.With("component", "SessionManager"),
		pending:   make(map[uuid.UUID][]models.SplitEvent),
	}
}

// OpenSession closes the user's active session at now, if any, and opens a
// new one starting at now.
func (m *SessionManager) OpenSession(ctx context.Context, userID uuid.UUID, now time.Time) (string, error) {
	var sessionID string
	err := m.withUserLock(ctx, userID, func() error {
		user, err := m.getUser(ctx, userID)
		if err != nil {
			return err
		}
		if user.ActiveSessionID != nil {
			if _, _, err := m.closeLocked(ctx, *user.ActiveSessionID, now); err != nil && !isNotFound(err) {
				return err
			}
		}
		sessionID, err = m.insertLocked(ctx, userID, now)
		return err
	})
	if err != nil {
		return "", err
	}
	m.log.Info("session opened", "user_id", userID, "session_id", sessionID)
	return sessionID, nil
}

// CloseSession ends the session at now. Closing an already closed session is
// a no-op that returns the stored end time and duration unchanged.
func (m *SessionManager) CloseSession(ctx context.Context, userID uuid.UUID, sessionID string, now time.Time) (*models.Session, error) {
	var closed *models.Session
	err := m.withUserLock(ctx, userID, func() error {
		sess, err := m.getOwnedSession(ctx, userID, sessionID)
		if err != nil {
			return err
		}
		var closedNow bool
		closed, closedNow, err = m.closeLocked(ctx, sess.ID, now)
		if err != nil {
			return err
		}
		if closedNow {
			m.log.Info("session closed", "user_id", userID, "session_id", sessionID, "duration", *closed.DurationSeconds)
		} else {
			m.log.Debug("session already closed", "user_id", userID, "session_id", sessionID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// CloseActiveSession ends whatever session the user currently has open. A
// user with no open session gets fallbackID closed instead, which is a no-op
// returning its stored duration when it already ended.
func (m *SessionManager) CloseActiveSession(ctx context.Context, userID uuid.UUID, fallbackID string, now time.Time) (*models.Session, error) {
	var closed *models.Session
	err := m.withUserLock(ctx, userID, func() error {
		user, err := m.getUser(ctx, userID)
		if err != nil {
			return err
		}
		target := fallbackID
		if user.ActiveSessionID != nil {
			target = *user.ActiveSessionID
		}
		if target == "" {
			return &NotFoundError{Message: "No active session"}
		}
		sess, err := m.getOwnedSession(ctx, userID, target)
		if err != nil {
			return err
		}
		var closedNow bool
		closed, closedNow, err = m.closeLocked(ctx, sess.ID, now)
		if err != nil {
			return err
		}
		if closedNow {
			m.log.Info("session closed", "user_id", userID, "session_id", sess.ID, "duration", *closed.DurationSeconds)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// SplitSession closes the session at splitAt, when engagement actually
// stopped, and opens a replacement starting at resumeAt.
func (m *SessionManager) SplitSession(ctx context.Context, userID uuid.UUID, sessionID string, splitAt, resumeAt time.Time) (string, error) {
	var newID string
	err := m.withUserLock(ctx, userID, func() error {
		sess, err := m.getOwnedSession(ctx, userID, sessionID)
		if err != nil {
			return err
		}
		newID, err = m.splitLocked(ctx, sess, splitAt, resumeAt)
		return err
	})
	return newID, err
}

func (m *SessionManager) GetSession(ctx context.Context, userID uuid.UUID, sessionID string) (*models.Session, error) {
	return m.getOwnedSession(ctx, userID, sessionID)
}

func (m *SessionManager) ListSessions(ctx context.Context, userID uuid.UUID) ([]*models.Session, error) {
	return callStore(ctx, m.policy, "list sessions", func(ctx context.Context) ([]*models.Session, error) {
		return m.store.ListSessions(ctx, userID)
	})
}

// CloseIdleSessions closes open sessions whose last activity is older than
// cutoff, using the last activity as the end time. It returns how many
// sessions were closed.
func (m *SessionManager) CloseIdleSessions(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stale, err := callStore(ctx, m.policy, "list stale sessions", func(ctx context.Context) ([]*models.Session, error) {
		return m.store.ListStaleSessions(ctx, cutoff, limit)
	})
	if err != nil {
		return 0, err
	}

	closedCount := 0
	for _, candidate := range stale {
		err := m.withUserLock(ctx, candidate.UserID, func() error {
			sess, err := m.getSession(ctx, candidate.ID)
			if err != nil {
				return err
			}
			// Activity may have arrived between the listing and the lock.
			if !sess.Active() || !sess.LastActivityTime.Before(cutoff) {
				return nil
			}
			_, closedNow, err := m.closeLocked(ctx, sess.ID, sess.LastActivityTime)
			if closedNow {
				closedCount++
			}
			return err
		})
		if err != nil && !isNotFound(err) {
			m.log.Warn("closing idle session failed", "session_id", candidate.ID, "error", err)
		}
	}
	return closedCount, nil
}

func (m *SessionManager) splitLocked(ctx context.Context, sess *models.Session, splitAt, resumeAt time.Time) (string, error) {
	closed, closedNow, err := m.closeLocked(ctx, sess.ID, splitAt)
	if err != nil {
		return "", err
	}
	if !closedNow {
		return "", &ConflictError{Message: "Session was closed by a concurrent request"}
	}

	if resumeAt.Before(*closed.EndTime) {
		resumeAt = *closed.EndTime
	}
	newID, err := m.insertLocked(ctx, sess.UserID, resumeAt)
	if err != nil {
		return "", err
	}

	m.log.Info("session split",
		"user_id", sess.UserID,
		"session_id", sess.ID,
		"new_session_id", newID,
		"split_at", closed.EndTime,
		"duration", *closed.DurationSeconds,
	)

	if m.publisher != nil {
		m.pendingMu.Lock()
		m.pending[sess.UserID] = append(m.pending[sess.UserID], models.SplitEvent{
			UserID:          sess.UserID,
			ClosedSessionID: sess.ID,
			NewSessionID:    newID,
			SplitAt:         *closed.EndTime,
			ResumedAt:       resumeAt,
		})
		m.pendingMu.Unlock()
	}
	return newID, nil
}

// closeLocked ends the session at end, clamped so the duration is never
// negative. The returned bool is false if it was already closed.
func (m *SessionManager) closeLocked(ctx context.Context, sessionID string, end time.Time) (*models.Session, bool, error) {
	sess, err := m.getSession(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if !sess.Active() {
		return sess, false, nil
	}
	if end.Before(sess.StartTime) {
		end = sess.StartTime
	}

	type result struct {
		sess   *models.Session
		closed bool
	}
	res, err := callStore(ctx, m.policy, "close session", func(ctx context.Context) (result, error) {
		s, closed, err := m.store.CloseSession(ctx, sessionID, end)
		return result{s, closed}, err
	})
	if err != nil {
		return nil, false, m.translate(err)
	}
	return res.sess, res.closed, nil
}

func (m *SessionManager) insertLocked(ctx context.Context, userID uuid.UUID, start time.Time) (string, error) {
	id, err := newSessionID()
	if err != nil {
		return "", err
	}
	sess := &models.Session{
		ID:               id,
		UserID:           userID,
		StartTime:        start,
		LastActivityTime: start,
		Videos:           map[string]*models.VideoRecord{},
		Inactivity:       []models.InactivityEvent{},
	}
	err = callStoreErr(ctx, m.policy, "insert session", func(ctx context.Context) error {
		return m.store.InsertSession(ctx, sess)
	})
	if err != nil {
		return "", m.translate(err)
	}
	return id, nil
}

func (m *SessionManager) touchLocked(ctx context.Context, sessionID string, at time.Time) error {
	err := callStoreErr(ctx, m.policy, "touch session", func(ctx context.Context) error {
		return m.store.TouchSession(ctx, sessionID, at)
	})
	return m.translate(err)
}

func (m *SessionManager) getUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := callStore(ctx, m.policy, "get user", func(ctx context.Context) (*models.User, error) {
		return m.store.GetUserByID(ctx, userID)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Message: "User not found"}
	}
	return user, err
}

func (m *SessionManager) getSession(ctx context.Context, sessionID string) (*models.Session, error) {
	sess, err := callStore(ctx, m.policy, "get session", func(ctx context.Context) (*models.Session, error) {
		return m.store.GetSession(ctx, sessionID)
	})
	if err != nil {
		return nil, m.translate(err)
	}
	return sess, nil
}

// getOwnedSession treats a session owned by someone else as not found.
func (m *SessionManager) getOwnedSession(ctx context.Context, userID uuid.UUID, sessionID string) (*models.Session, error) {
	sess, err := m.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, &NotFoundError{Message: "Session not found"}
	}
	return sess, nil
}

func (m *SessionManager) withUserLock(ctx context.Context, userID uuid.UUID, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, m.lockWait)
	defer cancel()

	unlock, err := m.locker.Lock(lockCtx, userID.String())
	if err != nil {
		if errors.Is(err, locks.ErrLockTimeout) {
			return &ConflictError{Message: "Another session change for this user is in progress"}
		}
		return &StoreError{Op: "lock user", Err: err}
	}
	err = func() error {
		defer unlock()
		return fn()
	}()
	m.publishPending(ctx, userID)
	return err
}

// publishPending runs outside the user lock so a slow subscriber never
// holds up lifecycle changes.
func (m *SessionManager) publishPending(ctx context.Context, userID uuid.UUID) {
	m.pendingMu.Lock()
	events := m.pending[userID]
	delete(m.pending, userID)
	m.pendingMu.Unlock()

	for _, ev := range events {
		if err := m.publisher.PublishSplit(ctx, ev); err != nil {
			m.log.Warn("publishing session split failed", "session_id", ev.ClosedSessionID, "error", err)
		}
	}
}

// translate maps repository sentinels to service errors.
func (m *SessionManager) translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return &NotFoundError{Message: "Session not found"}
	case errors.Is(err, repository.ErrSessionClosed):
		return &ConflictError{Message: "Session is closed"}
	case errors.Is(err, repository.ErrActiveSession):
		return &ConflictError{Message: "User already has an active session"}
	default:
		return err
	}
}

func isNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
