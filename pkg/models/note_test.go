package models

import (
	"reflect"
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestParseNoteType(t *testing.T) {
	if got, ok := ParseNoteType(" Recipe "); !ok || got != NoteTypeRecipe {
		t.Fatalf("ParseNoteType() = %q, %v", got, ok)
	}
	if _, ok := ParseNoteType("journal"); ok {
		t.Fatal("expected journal to be rejected")
	}
}

func TestNormalizeText(t *testing.T) {
	if NormalizeText(nil) != nil {
		t.Fatal("nil should stay nil")
	}
	if NormalizeText(strPtr("   ")) != nil {
		t.Fatal("blank should become nil")
	}
	if got := NormalizeText(strPtr("  hi ")); got == nil || *got != "hi" {
		t.Fatalf("NormalizeText() = %v", got)
	}
}

func TestNormalizeTags(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"lowercases and dedupes", []string{"Work", "work ", " WORK"}, []string{"work"}},
		{"drops empties", []string{"", "  ", "a"}, []string{"a"}},
		{"caps count", []string{"a", "b", "c", "d", "e", "f"}, []string{"a", "b", "c", "d", "e"}},
		{"compatibility forms fold", []string{"ｃａｆｅ", "cafe"}, []string{"cafe"}},
		{"nil input", nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeTags(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NormalizeTags() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeTagTruncates(t *testing.T) {
	got := NormalizeTag(strings.Repeat("x", 80))
	if len(got) != MaxTagLength {
		t.Fatalf("len = %d, want %d", len(got), MaxTagLength)
	}
}

func TestEmbeddingText(t *testing.T) {
	tests := []struct {
		name           string
		title, content *string
		want           string
	}{
		{"both", strPtr("Dentist"), strPtr("Monday 10am"), "Dentist\n\nMonday 10am"},
		{"title only", strPtr("Dentist"), nil, "Dentist"},
		{"content only", nil, strPtr(" body "), "body"},
		{"none", nil, strPtr(""), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EmbeddingText(tt.title, tt.content); got != tt.want {
				t.Errorf("EmbeddingText() = %q, want %q", got, tt.want)
			}
		})
	}
}
