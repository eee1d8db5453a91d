package domain

import "testing"

func TestQuestionPatchApplyKeepsUnrelatedFields(t *testing.T) {
	q := LiveQuestion{
		ID:        "q1",
		Subject:   "Physics",
		Status:    StatusProcessing,
		Timestamp: "2026-01-01T00:00:00Z",
		Preview:   "Why is the sky blue?",
	}

	status := StatusReviewing
	got := QuestionPatch{Status: &status, Expert: &Expert{Name: "Dana"}}.Apply(q)

	if got.Status != StatusReviewing {
		t.Errorf("expected status reviewing, got %q", got.Status)
	}
	if got.Expert == nil || got.Expert.Name != "Dana" {
		t.Errorf("expected expert Dana, got %+v", got.Expert)
	}
	if got.Subject != "Physics" || got.Preview != "Why is the sky blue?" || got.Timestamp != q.Timestamp {
		t.Errorf("unrelated fields changed: %+v", got)
	}
}

func TestPatchFromSkipsEmptyFields(t *testing.T) {
	p := PatchFrom(LiveQuestion{ID: "q1", Status: StatusTyping})
	if p.Subject != nil || p.Timestamp != nil || p.Preview != nil || p.Expert != nil {
		t.Fatalf("expected only status in patch, got %+v", p)
	}
	if p.Status == nil || *p.Status != StatusTyping {
		t.Fatalf("expected status typing, got %v", p.Status)
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole("expert"); !ok || r != RoleExpert {
		t.Errorf("expected expert role, got %q %v", r, ok)
	}
	if _, ok := ParseRole("guest"); ok {
		t.Error("expected unknown role to be rejected")
	}
}

func TestDefaultTimestampFillsOnlyEmpty(t *testing.T) {
	def := "2026-02-02T00:00:00Z"
	p := QuestionPatch{DefaultTimestamp: &def}

	if got := p.Apply(LiveQuestion{ID: "q1"}); got.Timestamp != def {
		t.Errorf("expected default timestamp on empty question, got %q", got.Timestamp)
	}
	if got := p.Apply(LiveQuestion{ID: "q1", Timestamp: "2026-01-01T00:00:00Z"}); got.Timestamp != "2026-01-01T00:00:00Z" {
		t.Errorf("default overwrote known timestamp: %q", got.Timestamp)
	}

	explicit := "2026-03-03T00:00:00Z"
	p.Timestamp = &explicit
	if got := p.Apply(LiveQuestion{ID: "q1", Timestamp: "2026-01-01T00:00:00Z"}); got.Timestamp != explicit {
		t.Errorf("explicit timestamp not applied: %q", got.Timestamp)
	}
}
