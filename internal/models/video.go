package models

import (
	"strings"
	"time"
)

type VideoStatus string

const (
	VideoNotWatched VideoStatus = "NotWatched"
	VideoInProgress VideoStatus = "InProgress"
	VideoCompleted  VideoStatus = "Completed"
)

// ParseVideoStatus accepts both the compact and the spaced spelling
// ("Not Watched") sent by older extension builds. Empty means NotWatched.
func ParseVideoStatus(raw string) (VideoStatus, bool) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), " ", "")) {
	case "", "notwatched":
		return VideoNotWatched, true
	case "inprogress":
		return VideoInProgress, true
	case "completed":
		return VideoCompleted, true
	default:
		return "", false
	}
}

// Normalize maps any accepted spelling to its canonical value. Unknown
// values fall back to NotWatched.
func (s VideoStatus) Normalize() VideoStatus {
	if status, ok := ParseVideoStatus(string(s)); ok {
		return status
	}
	return VideoNotWatched
}

const (
	SoundMuted   = "muted"
	SoundUnmuted = "unmuted"
)

// VideoFields is one telemetry tick for a single video.
type VideoFields struct {
	Duration       float64     `json:"duration"`
	WatchedSeconds int         `json:"watched"`
	Status         VideoStatus `json:"status"`
	Keys           []string    `json:"keys"`
	Speeds         []float64   `json:"speeds"`
	SoundStates    []string    `json:"soundStates"`
	LoopCount      int         `json:"loopTime"`
}

type VideoRecord struct {
	VideoID        string      `json:"videoId"`
	Duration       float64     `json:"duration"`
	WatchedSeconds int         `json:"watched"`
	Status         VideoStatus `json:"status"`
	Keys           []string    `json:"keys"`
	Speeds         []float64   `json:"speeds"`
	SoundStates    []string    `json:"soundStates"`
	LoopCount      int         `json:"loopTime"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// NewVideoRecord builds the first record for a video, de-duplicating the
// set-valued fields and defaulting absent ones to empty sets.
func NewVideoRecord(videoID string, f VideoFields, at time.Time) *VideoRecord {
	rec := &VideoRecord{
		VideoID:     videoID,
		Keys:        []string{},
		Speeds:      []float64{},
		SoundStates: []string{},
	}
	rec.Merge(f, at)
	return rec
}

// Merge overwrites the scalar fields and unions the set fields.
func (v *VideoRecord) Merge(f VideoFields, at time.Time) {
	v.Duration = f.Duration
	v.WatchedSeconds = f.WatchedSeconds
	v.Status = f.Status.Normalize()
	v.LoopCount = f.LoopCount
	v.Keys = UnionStrings(v.Keys, f.Keys)
	v.Speeds = UnionFloats(v.Speeds, f.Speeds)
	v.SoundStates = UnionStrings(v.SoundStates, f.SoundStates)
	v.UpdatedAt = at
}

func (v *VideoRecord) Clone() *VideoRecord {
	if v == nil {
		return nil
	}
	out := *v
	out.Keys = append([]string{}, v.Keys...)
	out.Speeds = append([]float64{}, v.Speeds...)
	out.SoundStates = append([]string{}, v.SoundStates...)
	return &out
}

// UnionStrings appends the members of add missing from base, keeping first-seen order.
func UnionStrings(base, add []string) []string {
	out := make([]string, 0, len(base)+len(add))
	seen := make(map[string]struct{}, len(base)+len(add))
	for _, list := range [][]string{base, add} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func UnionFloats(base, add []float64) []float64 {
	out := make([]float64, 0, len(base)+len(add))
	seen := make(map[float64]struct{}, len(base)+len(add))
	for _, list := range [][]float64{base, add} {
		for _, f := range list {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}
