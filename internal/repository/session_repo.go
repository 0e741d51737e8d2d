package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"engagement-backend/internal/models"
)

const sessionColumns = `id, user_id, start_time, end_time, duration_seconds, last_activity_at`

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

// PostgresStore is the SessionStore backed by PostgreSQL.
type PostgresStore struct {
	*UserRepo
	*SessionRepo
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		UserRepo:    NewUserRepo(pool),
		SessionRepo: NewSessionRepo(pool),
	}
}

func (r *SessionRepo) InsertSession(ctx context.Context, s *models.Session) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning session insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// sessions_one_active_per_user rejects a second open session for the user.
	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (id, user_id, start_time, last_activity_at)
		VALUES ($1, $2, $3, $4)
	`, s.ID, s.UserID, s.StartTime, s.LastActivityTime)
	if isUniqueViolation(err) {
		return ErrActiveSession
	}
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	tag, err := tx.Exec(ctx, `UPDATE users SET active_session_id = $1 WHERE id = $2`, s.ID, s.UserID)
	if err != nil {
		return fmt.Errorf("setting active session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing session insert: %w", err)
	}
	return nil
}

func (r *SessionRepo) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadDetails(ctx, []*models.Session{s}); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SessionRepo) ListSessions(ctx context.Context, userID uuid.UUID) ([]*models.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE user_id = $1
		ORDER BY start_time, created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	sessions, err := collectSessions(rows)
	if err != nil {
		return nil, err
	}
	if err := r.loadDetails(ctx, sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *SessionRepo) CloseSession(ctx context.Context, id string, end time.Time) (*models.Session, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("beginning session close: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var userID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE sessions
		SET end_time = $2,
			duration_seconds = EXTRACT(EPOCH FROM ($2::timestamptz - start_time))::float8
		WHERE id = $1
		  AND end_time IS NULL
		RETURNING user_id
	`, id, end).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		existing, getErr := r.GetSession(ctx, id)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("closing session: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE users SET active_session_id = NULL
		WHERE id = $1 AND active_session_id = $2
	`, userID, id); err != nil {
		return nil, false, fmt.Errorf("clearing active session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("committing session close: %w", err)
	}

	closed, err := r.GetSession(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return closed, true, nil
}

func (r *SessionRepo) TouchSession(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET last_activity_at = GREATEST(last_activity_at, $2)
		WHERE id = $1
		  AND end_time IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, id)
	}
	return nil
}

func (r *SessionRepo) ListStaleSessions(ctx context.Context, before time.Time, limit int) ([]*models.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE end_time IS NULL
		  AND last_activity_at < $1
		ORDER BY last_activity_at
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale sessions: %w", err)
	}
	return collectSessions(rows)
}

func (r *SessionRepo) MergeVideo(ctx context.Context, sessionID, videoID string, f models.VideoFields, at time.Time) (*models.VideoRecord, int64, error) {
	status := f.Status.Normalize()

	// Postgres reports matched rows for UPDATE, so a merge that changes
	// nothing still counts as a match.
	rec, err := scanVideo(r.pool.QueryRow(ctx, `
		UPDATE session_videos v
		SET duration = $3,
			watched_seconds = $4,
			status = $5,
			loop_count = $6,
			keys = ARRAY(
				SELECT k FROM unnest(v.keys || $7::text[]) WITH ORDINALITY AS t(k, n)
				GROUP BY k ORDER BY min(n)),
			speeds = ARRAY(
				SELECT sp FROM unnest(v.speeds || $8::float8[]) WITH ORDINALITY AS t(sp, n)
				GROUP BY sp ORDER BY min(n)),
			sound_states = ARRAY(
				SELECT ss FROM unnest(v.sound_states || $9::text[]) WITH ORDINALITY AS t(ss, n)
				GROUP BY ss ORDER BY min(n)),
			updated_at = $10
		FROM sessions s
		WHERE v.session_id = $1
		  AND v.video_id = $2
		  AND s.id = v.session_id
		  AND s.end_time IS NULL
		RETURNING v.video_id, v.duration, v.watched_seconds, v.status, v.keys, v.speeds, v.sound_states, v.loop_count, v.updated_at
	`, sessionID, videoID, f.Duration, f.WatchedSeconds, string(status), f.LoopCount,
		nonNilStrings(f.Keys), nonNilFloats(f.Speeds), nonNilStrings(f.SoundStates), at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("merging video: %w", err)
	}
	return rec, 1, nil
}

func (r *SessionRepo) InsertVideo(ctx context.Context, sessionID string, rec *models.VideoRecord) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO session_videos
			(session_id, video_id, duration, watched_seconds, status, keys, speeds, sound_states, loop_count, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		WHERE EXISTS (SELECT 1 FROM sessions WHERE id = $1 AND end_time IS NULL)
		ON CONFLICT (session_id, video_id) DO NOTHING
	`, sessionID, rec.VideoID, rec.Duration, rec.WatchedSeconds, string(rec.Status),
		nonNilStrings(rec.Keys), nonNilFloats(rec.Speeds), nonNilStrings(rec.SoundStates), rec.LoopCount, rec.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("inserting video: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if err := r.explainMiss(ctx, sessionID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *SessionRepo) AppendInactivity(ctx context.Context, sessionID string, ev models.InactivityEvent) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO session_inactivity (session_id, start_time, end_time, duration_seconds, type)
		SELECT $1, $2, $3, $4, $5
		WHERE EXISTS (SELECT 1 FROM sessions WHERE id = $1 AND end_time IS NULL)
	`, sessionID, ev.Start, ev.End, ev.DurationSeconds, string(ev.Type))
	if err != nil {
		return fmt.Errorf("appending inactivity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, sessionID)
	}
	return nil
}

// explainMiss turns a conditional write that touched no rows into
// ErrNotFound or ErrSessionClosed. It returns nil if the session is open.
func (r *SessionRepo) explainMiss(ctx context.Context, id string) error {
	var ended *time.Time
	err := r.pool.QueryRow(ctx, `SELECT end_time FROM sessions WHERE id = $1`, id).Scan(&ended)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking session: %w", err)
	}
	if ended != nil {
		return ErrSessionClosed
	}
	return nil
}

func (r *SessionRepo) loadDetails(ctx context.Context, sessions []*models.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	byID := make(map[string]*models.Session, len(sessions))
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		s.Videos = make(map[string]*models.VideoRecord)
		s.Inactivity = []models.InactivityEvent{}
		byID[s.ID] = s
		ids = append(ids, s.ID)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT session_id, video_id, duration, watched_seconds, status, keys, speeds, sound_states, loop_count, updated_at
		FROM session_videos
		WHERE session_id = ANY($1)
	`, ids)
	if err != nil {
		return fmt.Errorf("loading videos: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sessionID, status string
		v := &models.VideoRecord{}
		if err := rows.Scan(&sessionID, &v.VideoID, &v.Duration, &v.WatchedSeconds, &status,
			&v.Keys, &v.Speeds, &v.SoundStates, &v.LoopCount, &v.UpdatedAt); err != nil {
			return fmt.Errorf("scanning video: %w", err)
		}
		v.Status = models.VideoStatus(status)
		byID[sessionID].Videos[v.VideoID] = v
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating videos: %w", err)
	}

	inactivityRows, err := r.pool.Query(ctx, `
		SELECT session_id, start_time, end_time, duration_seconds, type
		FROM session_inactivity
		WHERE session_id = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return fmt.Errorf("loading inactivity: %w", err)
	}
	defer inactivityRows.Close()
	for inactivityRows.Next() {
		var sessionID, typ string
		var ev models.InactivityEvent
		if err := inactivityRows.Scan(&sessionID, &ev.Start, &ev.End, &ev.DurationSeconds, &typ); err != nil {
			return fmt.Errorf("scanning inactivity: %w", err)
		}
		ev.Type = models.InactivityType(typ)
		byID[sessionID].Inactivity = append(byID[sessionID].Inactivity, ev)
	}
	return inactivityRows.Err()
}

func scanSession(row pgx.Row) (*models.Session, error) {
	s := &models.Session{}
	err := row.Scan(&s.ID, &s.UserID, &s.StartTime, &s.EndTime, &s.DurationSeconds, &s.LastActivityTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return s, nil
}

func collectSessions(rows pgx.Rows) ([]*models.Session, error) {
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

func scanVideo(row pgx.Row) (*models.VideoRecord, error) {
	var status string
	v := &models.VideoRecord{}
	if err := row.Scan(&v.VideoID, &v.Duration, &v.WatchedSeconds, &status,
		&v.Keys, &v.Speeds, &v.SoundStates, &v.LoopCount, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.Status = models.VideoStatus(status)
	return v, nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nonNilFloats(in []float64) []float64 {
	if in == nil {
		return []float64{}
	}
	return in
}
