package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engagement-backend/internal/models"
)

func TestRecordVideo_MergeDeduplicatesSets(t *testing.T) {
	f := newFixture(t)
	_, sessionID := f.login(t)
	ctx := context.Background()

	fields := videoFields("ArrowRight", "Space", "ArrowRight")
	_, err := f.videos.RecordVideo(ctx, sessionID, "vid-1", fields, f.at(10*time.Second))
	require.NoError(t, err)
	res, err := f.videos.RecordVideo(ctx, sessionID, "vid-1", fields, f.at(20*time.Second))
	require.NoError(t, err)

	assert.Equal(t, sessionID, res.SessionID)
	assert.Equal(t, []string{"ArrowRight", "Space"}, res.Video.Keys)
	assert.Equal(t, []float64{1}, res.Video.Speeds)

	sess := f.session(t, sessionID)
	require.Len(t, sess.Videos, 1)
	assert.Equal(t, []string{"ArrowRight", "Space"}, sess.Videos["vid-1"].Keys)
}

func TestRecordVideo_ScalarsLastWriteWinsSetsGrow(t *testing.T) {
	f := newFixture(t)
	_, sessionID := f.login(t)
	ctx := context.Background()

	_, err := f.videos.RecordVideo(ctx, sessionID, "vid-1", videoFields("a"), f.at(10*time.Second))
	require.NoError(t, err)

	next := videoFields("b")
	next.WatchedSeconds = 95
	next.Status = models.VideoCompleted
	next.Speeds = []float64{1.5}
	next.SoundStates = []string{models.SoundMuted}
	next.LoopCount = 2
	res, err := f.videos.RecordVideo(ctx, sessionID, "vid-1", next, f.at(20*time.Second))
	require.NoError(t, err)

	v := res.Video
	assert.Equal(t, 95, v.WatchedSeconds)
	assert.Equal(t, models.VideoCompleted, v.Status)
	assert.Equal(t, 2, v.LoopCount)
	assert.Equal(t, []string{"a", "b"}, v.Keys)
	assert.Equal(t, []float64{1, 1.5}, v.Speeds)
	assert.Equal(t, []string{models.SoundUnmuted, models.SoundMuted}, v.SoundStates)
}

func TestRecordVideo_IdenticalEventDoesNotInsertTwice(t *testing.T) {
	f := newFixture(t)
	_, sessionID := f.login(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.videos.RecordVideo(ctx, sessionID, "vid-1", videoFields("a"), f.at(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	assert.Len(t, f.session(t, sessionID).Videos, 1)
}

func TestRecordVideo_Validation(t *testing.T) {
	tests := []struct {
		name      string
		sessionID string
		videoID   string
		mutate    func(*models.VideoFields)
		field     string
	}{
		{"missing session", "", "vid-1", nil, "session_id"},
		{"missing video", "abc", "", nil, "videoId"},
		{"negative watched", "abc", "vid-1", func(v *models.VideoFields) { v.WatchedSeconds = -1 }, "watched"},
		{"negative duration", "abc", "vid-1", func(v *models.VideoFields) { v.Duration = -3 }, "duration"},
		{"unknown status", "abc", "vid-1", func(v *models.VideoFields) { v.Status = "Paused" }, "status"},
		{"unknown sound state", "abc", "vid-1", func(v *models.VideoFields) { v.SoundStates = []string{"loud"} }, "soundStates"},
	}

	f := newFixture(t)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fields := videoFields("a")
			if tc.mutate != nil {
				tc.mutate(&fields)
			}
			_, err := f.videos.RecordVideo(context.Background(), tc.sessionID, tc.videoID, fields, t0)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tc.field)
		})
	}
}

func TestRecordVideo_UnknownSessionIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.videos.RecordVideo(context.Background(), "missing", "vid-1", videoFields("a"), t0)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestRecordVideo_ActivityGapSplitsSession(t *testing.T) {
	f := newFixture(t)
	_, sessionID := f.login(t)
	ctx := context.Background()

	_, err := f.videos.RecordVideo(ctx, sessionID, "vid-1", videoFields("a"), f.at(10*time.Minute))
	require.NoError(t, err)

	res, err := f.videos.RecordVideo(ctx, sessionID, "vid-1", videoFields("b"), f.at(3*time.Hour))
	require.NoError(t, err)
	require.NotEqual(t, sessionID, res.SessionID)

	old := f.session(t, sessionID)
	require.False(t, old.Active())
	assert.True(t, old.EndTime.Equal(f.at(10*time.Minute)))
	assert.Equal(t, []string{"a"}, old.Videos["vid-1"].Keys)

	next := f.session(t, res.SessionID)
	assert.True(t, next.StartTime.Equal(f.at(3*time.Hour)))
	assert.Equal(t, []string{"b"}, next.Videos["vid-1"].Keys)
	assert.Len(t, f.publisher.Events(), 1)
}

func TestRecordVideo_ClosedSessionReroutesToActive(t *testing.T) {
	f := newFixture(t)
	_, first := f.login(t)

	f.now = f.at(time.Minute)
	_, second := f.login(t)

	res, err := f.videos.RecordVideo(context.Background(), first, "vid-1", videoFields("a"), f.at(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, second, res.SessionID)
	assert.Empty(t, f.session(t, first).Videos)
	assert.Len(t, f.session(t, second).Videos, 1)
}

func TestRecordVideo_ClosedSessionWithoutActiveIsConflict(t *testing.T) {
	f := newFixture(t)
	userID, sessionID := f.login(t)
	ctx := context.Background()

	_, err := f.auth.Logout(ctx, userID, sessionID)
	require.NoError(t, err)

	_, err = f.videos.RecordVideo(ctx, sessionID, "vid-1", videoFields("a"), f.at(time.Minute))
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)
	assert.Empty(t, f.session(t, sessionID).Videos)
}

func TestRecordInactivity_SplitCorrectness(t *testing.T) {
	f := newFixture(t)
	_, sessionID := f.login(t)
	ctx := context.Background()

	_, err := f.videos.RecordVideo(ctx, sessionID, "vid-1", videoFields("a"), f.at(35*time.Second))
	require.NoError(t, err)

	res, err := f.inactivity.RecordInactivity(ctx, InactivityInput{
		SessionID: sessionID,
		Start:     f.at(35 * time.Second),
		End:       f.at(300 * time.Second),
		Duration:  265,
		Type:      models.InactivityWindowBlurred,
	})
	require.NoError(t, err)
	require.True(t, res.SessionSplit)
	require.NotEmpty(t, res.NewSessionID)

	old := f.session(t, sessionID)
	require.False(t, old.Active())
	assert.True(t, old.EndTime.Equal(f.at(35*time.Second)))
	assert.Equal(t, 35.0, *old.DurationSeconds)
	require.Len(t, old.Inactivity, 1)
	assert.Equal(t, 265.0, old.Inactivity[0].DurationSeconds)

	next := f.session(t, res.NewSessionID)
	assert.True(t, next.Active())
	assert.True(t, next.StartTime.Equal(f.at(300*time.Second)))

	video, err := f.videos.RecordVideo(ctx, res.NewSessionID, "vid-1", videoFields("b"), f.at(310*time.Second))
	require.NoError(t, err)
	assert.Equal(t, res.NewSessionID, video.SessionID)
	assert.Equal(t, []string{"b"}, video.Video.Keys, "new session must start a fresh record")
	assert.Equal(t, []string{"a"}, f.session(t, sessionID).Videos["vid-1"].Keys)
}

func TestRecordInactivity_BelowIdleThresholdKeepsSession(t *testing.T) {
	f := newFixture(t)
	_, sessionID := f.login(t)

	res, err := f.inactivity.RecordInactivity(context.Background(), InactivityInput{
		SessionID: sessionID,
		Start:     f.at(time.Minute),
		End:       f.at(time.Minute + 100*time.Second),
		Duration:  100,
		Type:      models.InactivityNoInputDetected,
	})
	require.NoError(t, err)
	assert.False(t, res.SessionSplit)
	assert.Empty(t, res.NewSessionID)
	assert.Equal(t, sessionID, res.SessionID)

	sess := f.session(t, sessionID)
	assert.True(t, sess.Active())
	assert.True(t, sess.LastActivityTime.Equal(f.at(time.Minute+100*time.Second)))
	require.Len(t, sess.Inactivity, 1)
	assert.Equal(t, models.InactivityNoInputDetected, sess.Inactivity[0].Type)
}

func TestRecordInactivity_ExactlyAtThresholdDoesNotSplit(t *testing.T) {
	f := newFixture(t)
	_, sessionID := f.login(t)

	res, err := f.inactivity.RecordInactivity(context.Background(), InactivityInput{
		SessionID: sessionID,
		Start:     f.at(time.Minute),
		End:       f.at(4 * time.Minute),
		Duration:  180,
		Type:      models.InactivityWindowBlurred,
	})
	require.NoError(t, err)
	assert.False(t, res.SessionSplit)
}

func TestRecordInactivity_DurationDerivedWhenAbsent(t *testing.T) {
	f := newFixture(t)
	_, sessionID := f.login(t)

	res, err := f.inactivity.RecordInactivity(context.Background(), InactivityInput{
		SessionID: sessionID,
		Start:     f.at(time.Minute),
		End:       f.at(5 * time.Minute),
		Type:      models.InactivityWindowBlurred,
	})
	require.NoError(t, err)
	assert.Equal(t, 240.0, res.Event.DurationSeconds)
	assert.True(t, res.SessionSplit)
}

func TestRecordInactivity_ValidationFailsBeforeWriting(t *testing.T) {
	f := newFixture(t)
	_, sessionID := f.login(t)

	tests := []struct {
		name  string
		in    InactivityInput
		field string
	}{
		{"bad type", InactivityInput{SessionID: sessionID, Start: f.at(0), End: f.at(time.Second), Type: "Sleeping"}, "type"},
		{"end before start", InactivityInput{SessionID: sessionID, Start: f.at(time.Minute), End: f.at(0), Type: models.InactivityWindowBlurred}, "endtime"},
		{"missing start", InactivityInput{SessionID: sessionID, End: f.at(time.Minute), Type: models.InactivityWindowBlurred}, "starttime"},
		{"negative duration", InactivityInput{SessionID: sessionID, Start: f.at(0), End: f.at(time.Minute), Duration: -1, Type: models.InactivityWindowBlurred}, "duration"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.inactivity.RecordInactivity(context.Background(), tc.in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tc.field)
		})
	}
	assert.Empty(t, f.session(t, sessionID).Inactivity)
}

func TestOnActivity_LastActivityIsMonotonic(t *testing.T) {
	f := newFixture(t)
	_, sessionID := f.login(t)
	ctx := context.Background()
	gap := f.monitor.Thresholds().ActivityGap

	_, err := f.monitor.OnActivity(ctx, sessionID, f.at(5*time.Minute), gap)
	require.NoError(t, err)
	res, err := f.monitor.OnActivity(ctx, sessionID, f.at(2*time.Minute), gap)
	require.NoError(t, err)

	assert.False(t, res.Split)
	assert.True(t, f.session(t, sessionID).LastActivityTime.Equal(f.at(5*time.Minute)))
}

func TestRecordInactivity_IdleAfterActivityGapSplitsOnce(t *testing.T) {
	f := newFixture(t)
	userID, sessionID := f.login(t)
	ctx := context.Background()

	res, err := f.inactivity.RecordInactivity(ctx, InactivityInput{
		SessionID: sessionID,
		Start:     f.at(3 * time.Hour),
		End:       f.at(3*time.Hour + 10*time.Minute),
		Duration:  600,
		Type:      models.InactivityWindowBlurred,
	})
	require.NoError(t, err)
	require.True(t, res.SessionSplit)
	assert.Equal(t, sessionID, res.SessionID)

	sessions, err := f.sessions.ListSessions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	old := f.session(t, sessionID)
	assert.False(t, old.Active())
	assert.True(t, old.EndTime.Equal(t0), "engagement ended at the last activity")
	require.Len(t, old.Inactivity, 1)

	next := f.session(t, res.NewSessionID)
	assert.True(t, next.Active())
	assert.True(t, next.StartTime.Equal(f.at(3*time.Hour+10*time.Minute)))
	assert.Empty(t, next.Inactivity)
	assert.Len(t, f.publisher.Events(), 1)
}

func TestRecordVideo_StoresCanonicalStatus(t *testing.T) {
	f := newFixture(t)
	_, sessionID := f.login(t)

	fields := videoFields("k")
	fields.Status = "Not Watched"
	res, err := f.videos.RecordVideo(context.Background(), sessionID, "vid-1", fields, f.at(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.VideoNotWatched, res.Video.Status)
	assert.Equal(t, models.VideoNotWatched, f.session(t, sessionID).Videos["vid-1"].Status)
}
