package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"engagement-backend/internal/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrSessionClosed     = errors.New("session is closed")
	ErrActiveSession     = errors.New("user already has an active session")
	ErrDuplicateUsername = errors.New("username already in use")
)

// SessionStore is the document-store capability the session services consume.
// Every method is a single atomic operation against the backing store.
type SessionStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// InsertSession appends a session to the user and marks it active.
	// It fails with ErrActiveSession if the user still has an open session.
	InsertSession(ctx context.Context, sess *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, userID uuid.UUID) ([]*models.Session, error)
	// CloseSession sets end time and duration only if the session is open.
	// The returned bool is false when the session was already closed.
	CloseSession(ctx context.Context, id string, end time.Time) (*models.Session, bool, error)
	// TouchSession advances last activity, never moving it backwards.
	TouchSession(ctx context.Context, id string, at time.Time) error
	ListStaleSessions(ctx context.Context, lastActivityBefore time.Time, limit int) ([]*models.Session, error)

	// MergeVideo updates an existing record in an open session and reports
	// how many records matched. Zero matched means no such record exists.
	MergeVideo(ctx context.Context, sessionID, videoID string, f models.VideoFields, at time.Time) (*models.VideoRecord, int64, error)
	// InsertVideo returns false when a record for the video already exists.
	InsertVideo(ctx context.Context, sessionID string, rec *models.VideoRecord) (bool, error)
	AppendInactivity(ctx context.Context, sessionID string, ev models.InactivityEvent) error
}
