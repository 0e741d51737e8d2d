package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID              uuid.UUID `json:"id"`
	Username        string    `json:"username"`
	PasswordHash    string    `json:"-"`
	ActiveSessionID *string   `json:"active_session_id"`
	CreatedAt       time.Time `json:"created_at"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

type LogoutRequest struct {
	SessionID string `json:"session_id"`
}

type LogoutResponse struct {
	Success  bool      `json:"success"`
	EndTime  time.Time `json:"endtime"`
	Duration float64   `json:"duration"`
}
