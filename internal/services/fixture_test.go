package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"engagement-backend/internal/locks"
	"engagement-backend/internal/logger"
	"engagement-backend/internal/middleware"
	"engagement-backend/internal/models"
	"engagement-backend/internal/repository"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const (
	testUsername = "learner_01"
	testPassword = "Secret#123"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.SplitEvent
}

func (p *recordingPublisher) PublishSplit(_ context.Context, ev models.SplitEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Events() []models.SplitEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.SplitEvent(nil), p.events...)
}

type fixture struct {
	store      *repository.MemoryStore
	publisher  *recordingPublisher
	sessions   *SessionManager
	monitor    *ActivityMonitor
	videos     *VideoEventAggregator
	inactivity *InactivityRecorder
	auth       *AuthService
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	policy := StorePolicy{Timeout: time.Second, MaxAttempts: 2, InitialInterval: time.Millisecond}
	f := &fixture{
		store:     repository.NewMemoryStore(),
		publisher: &recordingPublisher{},
		now:       t0,
	}
	f.sessions = NewSessionManager(f.store, locks.NewLocalLocker(), f.publisher, SessionManagerConfig{
		Store:    policy,
		LockWait: time.Second,
	}, logger.Nop())
	f.monitor = NewActivityMonitor(f.sessions, DefaultThresholds())
	f.videos = NewVideoEventAggregator(f.monitor, f.store, policy)
	f.inactivity = NewInactivityRecorder(f.monitor, f.store, policy)
	f.auth = NewAuthService(f.store, f.sessions, middleware.NewJWTAuth("test-secret", time.Hour), policy, bcrypt.MinCost)
	f.auth.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) at(offset time.Duration) time.Time {
	return t0.Add(offset)
}

// register creates the default user and returns its id.
func (f *fixture) register(t *testing.T) uuid.UUID {
	t.Helper()
	user, err := f.auth.Register(context.Background(), models.RegisterRequest{Username: testUsername, Password: testPassword})
	require.NoError(t, err)
	return user.ID
}

// login registers the default user if needed and logs in at the fixture clock.
func (f *fixture) login(t *testing.T) (uuid.UUID, string) {
	t.Helper()
	ctx := context.Background()
	user, err := f.store.GetUserByUsername(ctx, testUsername)
	if err != nil {
		id := f.register(t)
		user, err = f.store.GetUserByID(ctx, id)
		require.NoError(t, err)
	}
	resp, err := f.auth.Login(ctx, models.LoginRequest{Username: testUsername, Password: testPassword})
	require.NoError(t, err)
	return user.ID, resp.SessionID
}

func (f *fixture) session(t *testing.T, id string) *models.Session {
	t.Helper()
	sess, err := f.store.GetSession(context.Background(), id)
	require.NoError(t, err)
	return sess
}

func videoFields(keys ...string) models.VideoFields {
	return models.VideoFields{
		Duration:       120,
		WatchedSeconds: 30,
		Status:         models.VideoInProgress,
		Keys:           keys,
		Speeds:         []float64{1},
		SoundStates:    []string{models.SoundUnmuted},
	}
}
