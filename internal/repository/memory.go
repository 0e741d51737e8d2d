package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"engagement-backend/internal/models"
)

// MemoryStore implements SessionStore with in-memory documents. Each method
// holds the store mutex for its whole body, which gives it the same
// single-operation atomicity as the Postgres store.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[uuid.UUID]*models.User
	byUsername map[string]uuid.UUID
	sessions   map[string]*models.Session
	userOrder  map[uuid.UUID][]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[uuid.UUID]*models.User),
		byUsername: make(map[string]uuid.UUID),
		sessions:   make(map[string]*models.Session),
		userOrder:  make(map[uuid.UUID][]string),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[user.Username]; ok {
		return ErrDuplicateUsername
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	u := *user
	s.users[u.ID] = &u
	s.byUsername[u.Username] = u.ID
	return nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(s.users[id]), nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (s *MemoryStore) InsertSession(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[sess.UserID]
	if !ok {
		return ErrNotFound
	}
	if u.ActiveSessionID != nil {
		if active, ok := s.sessions[*u.ActiveSessionID]; ok && active.Active() {
			return ErrActiveSession
		}
	}

	stored := sess.Clone()
	if stored.Videos == nil {
		stored.Videos = make(map[string]*models.VideoRecord)
	}
	if stored.Inactivity == nil {
		stored.Inactivity = []models.InactivityEvent{}
	}
	s.sessions[stored.ID] = stored
	s.userOrder[stored.UserID] = append(s.userOrder[stored.UserID], stored.ID)
	id := stored.ID
	u.ActiveSessionID = &id
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *MemoryStore) ListSessions(_ context.Context, userID uuid.UUID) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.userOrder[userID]
	out := make([]*models.Session, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.sessions[id].Clone())
	}
	return out, nil
}

func (s *MemoryStore) CloseSession(_ context.Context, id string, end time.Time) (*models.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if !sess.Active() {
		return sess.Clone(), false, nil
	}

	endTime := end
	duration := models.SessionDuration(sess.StartTime, endTime)
	sess.EndTime = &endTime
	sess.DurationSeconds = &duration

	if u, ok := s.users[sess.UserID]; ok && u.ActiveSessionID != nil && *u.ActiveSessionID == id {
		u.ActiveSessionID = nil
	}
	return sess.Clone(), true, nil
}

func (s *MemoryStore) TouchSession(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.openSessionLocked(id)
	if err != nil {
		return err
	}
	if at.After(sess.LastActivityTime) {
		sess.LastActivityTime = at
	}
	return nil
}

func (s *MemoryStore) ListStaleSessions(_ context.Context, before time.Time, limit int) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Session
	for _, sess := range s.sessions {
		if sess.Active() && sess.LastActivityTime.Before(before) {
			out = append(out, sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityTime.Before(out[j].LastActivityTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MergeVideo(_ context.Context, sessionID, videoID string, f models.VideoFields, at time.Time) (*models.VideoRecord, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || !sess.Active() {
		return nil, 0, nil
	}
	rec, ok := sess.Videos[videoID]
	if !ok {
		return nil, 0, nil
	}
	rec.Merge(f, at)
	return rec.Clone(), 1, nil
}

func (s *MemoryStore) InsertVideo(_ context.Context, sessionID string, rec *models.VideoRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.openSessionLocked(sessionID)
	if err != nil {
		return false, err
	}
	if _, exists := sess.Videos[rec.VideoID]; exists {
		return false, nil
	}
	sess.Videos[rec.VideoID] = rec.Clone()
	return true, nil
}

func (s *MemoryStore) AppendInactivity(_ context.Context, sessionID string, ev models.InactivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.openSessionLocked(sessionID)
	if err != nil {
		return err
	}
	sess.Inactivity = append(sess.Inactivity, ev)
	return nil
}

func (s *MemoryStore) openSessionLocked(id string) (*models.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !sess.Active() {
		return nil, ErrSessionClosed
	}
	return sess, nil
}

func copyUser(u *models.User) *models.User {
	out := *u
	if u.ActiveSessionID != nil {
		id := *u.ActiveSessionID
		out.ActiveSessionID = &id
	}
	return &out
}
