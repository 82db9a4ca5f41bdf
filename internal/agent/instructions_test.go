package agent

import (
	"strings"
	"testing"
	"time"
)

func TestBuildInstructions(t *testing.T) {
	now := time.Date(2025, 6, 2, 18, 5, 0, 0, time.UTC)

	got := BuildInstructions([]string{"work", "health"}, now)

	for _, want := range []string{
		"You are a helpful personal notes assistant.",
		"- Available note types: note, task, event, recipe, vocabulary.",
		"- Known user tags (normalized): work, health.",
		"limit ∈ [1, 200], alpha ∈ [0, 1]",
		"Prefer 1 tool round; absolute max 3.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("instructions missing %q", want)
		}
	}
	if !strings.HasSuffix(got, "Today is Monday, 2025-06-02 at 18:05") {
		t.Errorf("instructions should end with the date line, got %q", got[len(got)-60:])
	}
}

func TestBuildInstructions_NoTags(t *testing.T) {
	got := BuildInstructions(nil, time.Now())
	if !strings.Contains(got, "- Known user tags (normalized): none.") {
		t.Error("empty vocabulary should read as none")
	}
}
