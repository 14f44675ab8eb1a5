package content

import (
	"testing"
	"time"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		input  string
		want   Kind
		wantOK bool
	}{
		{"video", KindVideo, true},
		{"  Material ", KindMaterial, true},
		{"QUIZ", KindQuiz, true},
		{"course", KindCourse, true},
		{"assignment", KindAssignment, true},
		{"podcast", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseKind(tt.input)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ParseKind(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestEntry_Duration(t *testing.T) {
	d := 600.0
	e := &Entry{Metadata: TypeMetadata{DurationSeconds: &d}}
	got, ok := e.Duration()
	if !ok || got != 600 {
		t.Errorf("Duration() = (%v, %v), want (600, true)", got, ok)
	}

	zero := 0.0
	e = &Entry{Metadata: TypeMetadata{DurationSeconds: &zero}}
	if _, ok := e.Duration(); ok {
		t.Error("zero duration should report unknown")
	}

	e = &Entry{}
	if _, ok := e.Duration(); ok {
		t.Error("missing duration should report unknown")
	}
}

func TestEntry_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	if (&Entry{}).Expired(now) {
		t.Error("entry without expiry should never expire")
	}
	if !(&Entry{ExpiresAt: &past}).Expired(now) {
		t.Error("entry with past expiry should be expired")
	}
	if (&Entry{ExpiresAt: &future}).Expired(now) {
		t.Error("entry with future expiry should not be expired")
	}
}

func TestValidCategoryAndOperation(t *testing.T) {
	for _, c := range Categories {
		if !ValidCategory(c) {
			t.Errorf("ValidCategory(%q) = false", c)
		}
	}
	if ValidCategory("rating") {
		t.Error("unknown category should be invalid")
	}
	for _, o := range Operations {
		if !ValidOperation(o) {
			t.Errorf("ValidOperation(%q) = false", o)
		}
	}
	if ValidOperation("upsert") {
		t.Error("unknown operation should be invalid")
	}
}

func TestEntry_Summarize(t *testing.T) {
	e := &Entry{ID: "m1", Kind: KindMaterial, Title: "Fractions", Payload: []byte(`{"body":"x"}`), Progress: NewProgress()}
	s := e.Summarize()
	if s.ID != "m1" || s.Kind != KindMaterial || s.Title != "Fractions" {
		t.Errorf("Summarize() = %+v", s)
	}
	if s.Progress == nil {
		t.Error("Summarize() should carry progress")
	}
}
