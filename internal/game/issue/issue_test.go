package issue

import "testing"

func TestTagsCanonicalOrderIsStable(t *testing.T) {
	first := Tags()
	second := Tags()
	if len(first) != 8 {
		t.Fatalf("expected 8 tags, got %d", len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("tag order changed at index %d: %s vs %s", i, first[i], second[i])
		}
	}
}

func TestTagsReturnsCopy(t *testing.T) {
	tags := Tags()
	tags[0] = Tag("mutated")
	if Tags()[0] != TagNonZeroOriginAxis {
		t.Fatal("mutating the returned slice leaked into the canonical order")
	}
}

func TestTagValid(t *testing.T) {
	for _, tag := range Tags() {
		if !tag.Valid() {
			t.Errorf("expected %s to be valid", tag)
		}
	}
	if Tag("three_d_perspective").Valid() {
		t.Fatal("expected unknown tag to be invalid")
	}
}

func TestStageNextIsStrictlySequential(t *testing.T) {
	tests := []struct {
		stage Stage
		next  Stage
		ok    bool
	}{
		{StageNotStarted, StageLearned, true},
		{StageLearned, StagePracticed, true},
		{StagePracticed, StageAnalyzed, true},
		{StageAnalyzed, "", false},
		{Stage("bogus"), "", false},
	}
	for _, tt := range tests {
		next, ok := tt.stage.Next()
		if ok != tt.ok || next != tt.next {
			t.Errorf("%s: expected (%s, %v), got (%s, %v)", tt.stage, tt.next, tt.ok, next, ok)
		}
	}
}

func TestStageBefore(t *testing.T) {
	if !StageNotStarted.Before(StageAnalyzed) {
		t.Fatal("expected not_started before analyzed")
	}
	if StageAnalyzed.Before(StageLearned) {
		t.Fatal("expected analyzed not before learned")
	}
	if StageLearned.Before(StageLearned) {
		t.Fatal("expected stage not before itself")
	}
}
