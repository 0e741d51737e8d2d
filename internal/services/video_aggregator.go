package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"engagement-backend/internal/models"
	"engagement-backend/internal/repository"
)

type VideoResult struct {
	Video *models.VideoRecord
	// SessionID is the session the record was written to. It differs from
	// the requested one after a split or reroute.
	SessionID string
}

// VideoEventAggregator folds per-video telemetry ticks into one record per
// video and session.
type VideoEventAggregator struct {
	monitor *ActivityMonitor
	store   repository.SessionStore
	policy  StorePolicy
}

func NewVideoEventAggregator(monitor *ActivityMonitor, store repository.SessionStore, policy StorePolicy) *VideoEventAggregator {
	return &VideoEventAggregator{monitor: monitor, store: store, policy: policy}
}

func (a *VideoEventAggregator) RecordVideo(ctx context.Context, sessionID, videoID string, fields models.VideoFields, eventTime time.Time) (*VideoResult, error) {
	if err := validateVideo(sessionID, videoID, fields); err != nil {
		return nil, err
	}
	fields.Status = fields.Status.Normalize()

	target := sessionID
	for attempt := 0; attempt < 2; attempt++ {
		res, err := a.monitor.OnActivity(ctx, target, eventTime, a.monitor.thresholds.ActivityGap)
		if err != nil {
			return nil, err
		}
		target = res.SessionID()

		rec, err := a.mergeOrInsert(ctx, target, videoID, fields, eventTime)
		if errors.Is(err, repository.ErrSessionClosed) {
			// Closed between the activity check and the write; route again.
			continue
		}
		if err != nil {
			return nil, a.monitor.sessions.translate(err)
		}
		return &VideoResult{Video: rec, SessionID: target}, nil
	}
	return nil, &ConflictError{Message: "Session changed while recording video"}
}

// mergeOrInsert merges into the existing record and inserts only when the
// merge matched nothing. A merge that leaves every field unchanged still
// matched and must not insert.
func (a *VideoEventAggregator) mergeOrInsert(ctx context.Context, sessionID, videoID string, fields models.VideoFields, at time.Time) (*models.VideoRecord, error) {
	type mergeResult struct {
		rec     *models.VideoRecord
		matched int64
	}

	for attempt := 0; attempt < 2; attempt++ {
		merged, err := callStore(ctx, a.policy, "merge video", func(ctx context.Context) (mergeResult, error) {
			rec, matched, err := a.store.MergeVideo(ctx, sessionID, videoID, fields, at)
			return mergeResult{rec, matched}, err
		})
		if err != nil {
			return nil, err
		}
		if merged.matched > 0 {
			return merged.rec, nil
		}

		rec := models.NewVideoRecord(videoID, fields, at)
		inserted, err := callStore(ctx, a.policy, "insert video", func(ctx context.Context) (bool, error) {
			return a.store.InsertVideo(ctx, sessionID, rec)
		})
		if err != nil {
			return nil, err
		}
		if inserted {
			return rec, nil
		}
		// A concurrent insert for the same video won; merge into it.
	}
	return nil, &ConflictError{Message: "Video record changed concurrently"}
}

func validateVideo(sessionID, videoID string, f models.VideoFields) error {
	fields := make(map[string]string)
	if strings.TrimSpace(sessionID) == "" {
		fields["session_id"] = "Missing session_id"
	}
	if strings.TrimSpace(videoID) == "" {
		fields["videoId"] = "Missing videoId"
	}
	if f.Duration < 0 {
		fields["duration"] = "Duration must not be negative"
	}
	if f.WatchedSeconds < 0 {
		fields["watched"] = "Watched seconds must not be negative"
	}
	if f.LoopCount < 0 {
		fields["loopTime"] = "Loop count must not be negative"
	}
	if _, ok := models.ParseVideoStatus(string(f.Status)); !ok {
		fields["status"] = "Status must be NotWatched, InProgress or Completed"
	}
	for _, s := range f.SoundStates {
		if s != models.SoundMuted && s != models.SoundUnmuted {
			fields["soundStates"] = "Sound state must be muted or unmuted"
			break
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
