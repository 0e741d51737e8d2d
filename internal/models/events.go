package models

import "time"

type VideoEventRequest struct {
	SessionID   string     `json:"session_id"`
	VideoID     string     `json:"videoId"`
	Duration    float64    `json:"duration"`
	Watched     int        `json:"watched"`
	LoopTime    int        `json:"loopTime"`
	Status      string     `json:"status"`
	Keys        StringList `json:"keys"`
	Speeds      FloatList  `json:"speeds"`
	SoundStates StringList `json:"soundStates"`
	// Timestamp is optional; the server clock is used when absent.
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type VideoEventResponse struct {
	Success   bool         `json:"success"`
	SessionID string       `json:"session_id"`
	Video     *VideoRecord `json:"video"`
}

type InactivityRequest struct {
	SessionID string    `json:"session_id"`
	StartTime time.Time `json:"starttime"`
	EndTime   time.Time `json:"endtime"`
	Duration  float64   `json:"duration"`
	Type      string    `json:"type"`
}

type InactivityResponse struct {
	Success      bool            `json:"success"`
	Inactivity   InactivityEvent `json:"inactivity"`
	Action       string          `json:"action,omitempty"`
	SessionSplit bool            `json:"sessionSplit"`
	NewSessionID string          `json:"new_session_id,omitempty"`
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
