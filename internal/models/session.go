package models

import (
	"time"

	"github.com/google/uuid"
)

type Session struct {
	ID               string                  `json:"id"`
	UserID           uuid.UUID               `json:"user_id"`
	StartTime        time.Time               `json:"starttime"`
	EndTime          *time.Time              `json:"endtime"`
	DurationSeconds  *float64                `json:"duration"`
	LastActivityTime time.Time               `json:"last_activity"`
	Videos           map[string]*VideoRecord `json:"videos"`
	Inactivity       []InactivityEvent       `json:"inactivity"`
}

// Active reports whether the session still accepts telemetry.
func (s *Session) Active() bool {
	return s.EndTime == nil
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.EndTime != nil {
		end := *s.EndTime
		out.EndTime = &end
	}
	if s.DurationSeconds != nil {
		d := *s.DurationSeconds
		out.DurationSeconds = &d
	}
	out.Videos = make(map[string]*VideoRecord, len(s.Videos))
	for id, v := range s.Videos {
		out.Videos[id] = v.Clone()
	}
	out.Inactivity = append([]InactivityEvent(nil), s.Inactivity...)
	return &out
}

// SessionDuration is the exact close-time duration in seconds.
func SessionDuration(start, end time.Time) float64 {
	return end.Sub(start).Seconds()
}

type InactivityType string

const (
	InactivityWindowBlurred   InactivityType = "WindowBlurred"
	InactivityNoInputDetected InactivityType = "NoInputDetected"
)

func (t InactivityType) Valid() bool {
	return t == InactivityWindowBlurred || t == InactivityNoInputDetected
}

type InactivityEvent struct {
	Start           time.Time      `json:"starttime"`
	End             time.Time      `json:"endtime"`
	DurationSeconds float64        `json:"duration"`
	Type            InactivityType `json:"type"`
}

// SplitEvent is published when a session is closed and replaced by a new one.
type SplitEvent struct {
	UserID          uuid.UUID `json:"user_id"`
	ClosedSessionID string    `json:"closed_session_id"`
	NewSessionID    string    `json:"new_session_id"`
	SplitAt         time.Time `json:"split_at"`
	ResumedAt       time.Time `json:"resumed_at"`
}
