package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"engagement-backend/internal/middleware"
	"engagement-backend/internal/models"
	"engagement-backend/internal/services"
)

type TelemetryHandler struct {
	sessions   *services.SessionManager
	videos     *services.VideoEventAggregator
	inactivity *services.InactivityRecorder
	now        func() time.Time
}

func NewTelemetryHandler(sessions *services.SessionManager, videos *services.VideoEventAggregator, inactivity *services.InactivityRecorder) *TelemetryHandler {
	return &TelemetryHandler{
		sessions:   sessions,
		videos:     videos,
		inactivity: inactivity,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (h *TelemetryHandler) Video(w http.ResponseWriter, r *http.Request) {
	var req models.VideoEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	status, ok := models.ParseVideoStatus(req.Status)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"status": "Status must be NotWatched, InProgress or Completed"}, r))
		return
	}
	if !h.authorize(w, r, req.SessionID) {
		return
	}

	eventTime := h.now()
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		eventTime = req.Timestamp.UTC()
	}

	fields := models.VideoFields{
		Duration:       req.Duration,
		WatchedSeconds: req.Watched,
		Status:         status,
		Keys:           req.Keys,
		Speeds:         req.Speeds,
		SoundStates:    req.SoundStates,
		LoopCount:      req.LoopTime,
	}

	res, err := h.videos.RecordVideo(r.Context(), req.SessionID, req.VideoID, fields, eventTime)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.VideoEventResponse{
		Success:   true,
		SessionID: res.SessionID,
		Video:     res.Video,
	})
}

func (h *TelemetryHandler) Inactivity(w http.ResponseWriter, r *http.Request) {
	var req models.InactivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	if !h.authorize(w, r, req.SessionID) {
		return
	}

	res, err := h.inactivity.RecordInactivity(r.Context(), services.InactivityInput{
		SessionID: req.SessionID,
		Start:     req.StartTime.UTC(),
		End:       req.EndTime.UTC(),
		Duration:  req.Duration,
		Type:      models.InactivityType(req.Type),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := models.InactivityResponse{
		Success:      true,
		Inactivity:   res.Event,
		SessionSplit: res.SessionSplit,
		NewSessionID: res.NewSessionID,
	}
	if res.SessionSplit {
		resp.Action = "session_split"
	}
	writeJSON(w, http.StatusOK, resp)
}

// authorize rejects telemetry for a session the caller does not own. An
// empty session id is left to the service's validation.
func (h *TelemetryHandler) authorize(w http.ResponseWriter, r *http.Request, sessionID string) bool {
	if sessionID == "" {
		return true
	}
	if _, err := h.sessions.GetSession(r.Context(), middleware.GetUserID(r.Context()), sessionID); err != nil {
		handleServiceError(w, r, err)
		return false
	}
	return true
}
