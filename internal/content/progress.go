package content

import "math"

// CompletionThreshold is the percentage at which playback is considered
// nearly finished. Crossing it triggers a progress write but never sets
// Completed on its own.
const CompletionThreshold = 95.0

// Progress tracks how far a learner got through an entry.
type Progress struct {
	Completed        bool     `json:"completed"`
	Percentage       float64  `json:"percentage"`
	TimeSpentSeconds int      `json:"timeSpentSeconds"`
	LastPosition     *float64 `json:"lastPosition,omitempty"`
}

// NewProgress returns the zero progress every fresh download starts with.
func NewProgress() *Progress {
	return &Progress{}
}

// ProgressPatch is a partial progress update. Nil fields are left unchanged.
type ProgressPatch struct {
	Completed        *bool    `json:"completed,omitempty"`
	Percentage       *float64 `json:"percentage,omitempty"`
	TimeSpentSeconds *int     `json:"timeSpentSeconds,omitempty"`
	LastPosition     *float64 `json:"lastPosition,omitempty"`
}

// IsEmpty reports whether the patch sets nothing.
func (p ProgressPatch) IsEmpty() bool {
	return p.Completed == nil && p.Percentage == nil && p.TimeSpentSeconds == nil && p.LastPosition == nil
}

// Apply returns a copy of cur with the patch shallow-merged in and the
// invariants re-established: percentage in [0,100], time spent >= 0, and
// completed forcing 100%.
func (p ProgressPatch) Apply(cur Progress) Progress {
	next := cur
	if p.Completed != nil {
		next.Completed = *p.Completed
	}
	if p.Percentage != nil {
		next.Percentage = *p.Percentage
	}
	if p.TimeSpentSeconds != nil {
		next.TimeSpentSeconds = *p.TimeSpentSeconds
	}
	if p.LastPosition != nil {
		pos := *p.LastPosition
		next.LastPosition = &pos
	}
	next.Normalize()
	return next
}

// Normalize clamps fields into their valid ranges.
func (p *Progress) Normalize() {
	p.Percentage = ClampPercentage(p.Percentage)
	if p.TimeSpentSeconds < 0 {
		p.TimeSpentSeconds = 0
	}
	if p.LastPosition != nil && *p.LastPosition < 0 {
		zero := 0.0
		p.LastPosition = &zero
	}
	if p.Completed {
		p.Percentage = 100
	}
}

// ClampPercentage limits v to [0, 100]. NaN becomes 0.
func ClampPercentage(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ReachedThreshold reports whether pct is at or past CompletionThreshold.
func ReachedThreshold(pct float64) bool {
	return pct >= CompletionThreshold
}

// Effective returns the patch with every field it sets replaced by the value
// that field ended up with in next, so clamped values are what gets synced.
func (p ProgressPatch) Effective(next Progress) ProgressPatch {
	var out ProgressPatch
	if p.Completed != nil {
		v := next.Completed
		out.Completed = &v
	}
	if p.Percentage != nil {
		v := next.Percentage
		out.Percentage = &v
	}
	if p.TimeSpentSeconds != nil {
		v := next.TimeSpentSeconds
		out.TimeSpentSeconds = &v
	}
	if p.LastPosition != nil && next.LastPosition != nil {
		v := *next.LastPosition
		out.LastPosition = &v
	}
	return out
}
