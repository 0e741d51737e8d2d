package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"engagement-backend/internal/middleware"
	"engagement-backend/internal/models"
	"engagement-backend/internal/repository"
)

// AuthService turns logins into sessions and logouts into closed sessions.
type AuthService struct {
	store      repository.SessionStore
	sessions   *SessionManager
	jwt        *middleware.JWTAuth
	policy     StorePolicy
	bcryptCost int
	now        func() time.Time
}

func NewAuthService(store repository.SessionStore, sessions *SessionManager, jwt *middleware.JWTAuth, policy StorePolicy, bcryptCost int) *AuthService {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AuthService{
		store:      store,
		sessions:   sessions,
		jwt:        jwt,
		policy:     policy,
		bcryptCost: bcryptCost,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	if err := ValidateCredentials(req.Username, req.Password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.New(),
		Username:     req.Username,
		PasswordHash: string(hash),
	}
	err = callStoreErr(ctx, s.policy, "create user", func(ctx context.Context) error {
		return s.store.CreateUser(ctx, user)
	})
	if errors.Is(err, repository.ErrDuplicateUsername) {
		return nil, &ConflictError{Message: "Username already in use"}
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies the credentials and opens a new session, closing any
// session the user left open.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := ValidateCredentials(req.Username, req.Password); err != nil {
		return nil, err
	}

	user, err := callStore(ctx, s.policy, "get user", func(ctx context.Context) (*models.User, error) {
		return s.store.GetUserByUsername(ctx, req.Username)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &AuthError{Message: "Invalid username or password"}
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, &AuthError{Message: "Invalid username or password"}
	}

	sessionID, err := s.sessions.OpenSession(ctx, user.ID, s.now())
	if err != nil {
		return nil, err
	}

	token, err := s.jwt.GenerateSessionToken(user.ID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	return &models.LoginResponse{
		Success:   true,
		SessionID: sessionID,
		Token:     token,
		ExpiresIn: int(s.jwt.TTL.Seconds()),
	}, nil
}

func (s *AuthService) Logout(ctx context.Context, userID uuid.UUID, sessionID string) (*models.LogoutResponse, error) {
	if sessionID == "" {
		return nil, validationFailed("session_id", "Missing session_id")
	}
	sess, err := s.sessions.CloseSession(ctx, userID, sessionID, s.now())
	if err != nil {
		return nil, err
	}
	return &models.LogoutResponse{
		Success:  true,
		EndTime:  *sess.EndTime,
		Duration: *sess.DurationSeconds,
	}, nil
}

// LogoutActive closes the user's open session, which after a split is no
// longer the one the token was issued for.
func (s *AuthService) LogoutActive(ctx context.Context, userID uuid.UUID, tokenSessionID string) (*models.LogoutResponse, error) {
	sess, err := s.sessions.CloseActiveSession(ctx, userID, tokenSessionID, s.now())
	if err != nil {
		return nil, err
	}
	return &models.LogoutResponse{
		Success:  true,
		EndTime:  *sess.EndTime,
		Duration: *sess.DurationSeconds,
	}, nil
}
