// Package content defines the records held by the offline cache: downloaded
// content entries, their progress, and the sync events queued against them.
package content

import (
	"encoding/json"
	"strings"
	"time"
)

// Kind identifies what sort of learning item an entry holds.
type Kind string

const (
	KindCourse     Kind = "course"
	KindMaterial   Kind = "material"
	KindVideo      Kind = "video"
	KindQuiz       Kind = "quiz"
	KindAssignment Kind = "assignment"
)

// Kinds lists every valid kind.
var Kinds = []Kind{KindCourse, KindMaterial, KindVideo, KindQuiz, KindAssignment}

// ParseKind normalizes s and reports whether it names a known kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// TypeMetadata holds kind-specific attributes. Only the field relevant to
// the entry's kind is normally set.
type TypeMetadata struct {
	// DurationSeconds is the playback length of a video.
	DurationSeconds *float64 `json:"durationSeconds,omitempty"`

	// PageCount is the number of pages in a material.
	PageCount *int `json:"pageCount,omitempty"`

	// QuestionCount is the number of questions in a quiz.
	QuestionCount *int `json:"questionCount,omitempty"`
}

// Entry is a locally cached, offline-usable copy of one remote content item.
// Everything except Progress and LastAccessedAt is fixed at download time.
type Entry struct {
	ID             string          `json:"id"`
	Kind           Kind            `json:"kind"`
	Title          string          `json:"title"`
	Subject        string          `json:"subject"`
	SizeBytes      int64           `json:"sizeBytes"`
	DownloadedAt   time.Time       `json:"downloadedAt"`
	LastAccessedAt time.Time       `json:"lastAccessedAt"`
	ExpiresAt      *time.Time      `json:"expiresAt,omitempty"`
	Metadata       TypeMetadata    `json:"typeMetadata"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Progress       *Progress       `json:"progress,omitempty"`
}

// Duration returns the known playback duration, if any.
func (e *Entry) Duration() (float64, bool) {
	if e.Metadata.DurationSeconds == nil || *e.Metadata.DurationSeconds <= 0 {
		return 0, false
	}
	return *e.Metadata.DurationSeconds, true
}

// Expired reports whether the entry's retention window has elapsed at now.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

// Summary is an entry without its payload, for listings.
type Summary struct {
	ID             string     `json:"id"`
	Kind           Kind       `json:"kind"`
	Title          string     `json:"title"`
	Subject        string     `json:"subject"`
	SizeBytes      int64      `json:"sizeBytes"`
	DownloadedAt   time.Time  `json:"downloadedAt"`
	LastAccessedAt time.Time  `json:"lastAccessedAt"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	Progress       *Progress  `json:"progress,omitempty"`
}

// Summarize strips the payload.
func (e *Entry) Summarize() Summary {
	return Summary{
		ID:             e.ID,
		Kind:           e.Kind,
		Title:          e.Title,
		Subject:        e.Subject,
		SizeBytes:      e.SizeBytes,
		DownloadedAt:   e.DownloadedAt,
		LastAccessedAt: e.LastAccessedAt,
		ExpiresAt:      e.ExpiresAt,
		Progress:       e.Progress,
	}
}
