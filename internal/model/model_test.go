package model

import (
	"regexp"
	"sort"
	"testing"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestStatusConstants(t *testing.T) {
	statuses := []struct {
		constant string
		expected string
	}{
		{StatusPending, "pending"},
		{StatusProcessing, "processing"},
		{StatusCompleted, "completed"},
		{StatusFailed, "failed"},
	}
	for _, s := range statuses {
		if s.constant != s.expected {
			t.Errorf("status constant = %q, want %q", s.constant, s.expected)
		}
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusProcessing, false},
		{StatusFailed, StatusCompleted, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTransitionSources(t *testing.T) {
	tests := []struct {
		to   string
		want []string
	}{
		{StatusProcessing, []string{StatusPending}},
		{StatusCompleted, []string{StatusProcessing}},
		{StatusFailed, []string{StatusPending, StatusProcessing}},
		{StatusPending, nil},
	}
	for _, tt := range tests {
		got := TransitionSources(tt.to)
		if len(got) != len(tt.want) {
			t.Fatalf("TransitionSources(%q) = %v, want %v", tt.to, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("TransitionSources(%q)[%d] = %q, want %q", tt.to, i, got[i], tt.want[i])
			}
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for status, want := range map[string]bool{
		StatusPending:    false,
		StatusProcessing: false,
		StatusCompleted:  true,
		StatusFailed:     true,
	} {
		if got := IsTerminal(status); got != want {
			t.Errorf("IsTerminal(%q) = %v, want %v", status, got, want)
		}
	}
}

func TestStageRoles(t *testing.T) {
	tests := []struct {
		stage Stage
		want  []Role
	}{
		{StageHairstyleExtraction, []Role{RoleReference, RoleMannequin}},
		{StageDollAssembly, []Role{RoleHair, RoleBody, RoleCloth}},
		{StageDollReplacement, []Role{RoleReference, RoleProduct}},
	}
	for _, tt := range tests {
		got := StageRoles(tt.stage)
		if len(got) != len(tt.want) {
			t.Fatalf("StageRoles(%q) = %v, want %v", tt.stage, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("StageRoles(%q)[%d] = %q, want %q", tt.stage, i, got[i], tt.want[i])
			}
		}
	}

	if StageRoles(Stage("unknown")) != nil {
		t.Error("StageRoles for an unknown stage should be nil")
	}
}

func TestIDsSortByCreationOrder(t *testing.T) {
	ids := make([]string, 50)
	for i := range ids {
		ids[i] = NewID()
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	// ULIDs generated by the same process are monotonic within a millisecond,
	// so lexicographic order must match generation order.
	for i := range ids {
		if ids[i] != sorted[i] {
			t.Fatalf("ids are not lexicographically ordered by creation: pos %d", i)
		}
	}
}

func TestPromptForStage(t *testing.T) {
	p := PromptSettings{
		HairstyleExtraction: "a",
		DollAssembly:        "b",
		DollReplacement:     "c",
	}
	if got := p.ForStage(StageHairstyleExtraction); got != "a" {
		t.Errorf("ForStage(hairstyle_extraction) = %q, want %q", got, "a")
	}
	if got := p.ForStage(StageDollAssembly); got != "b" {
		t.Errorf("ForStage(doll_assembly) = %q, want %q", got, "b")
	}
	if got := p.ForStage(StageDollReplacement); got != "c" {
		t.Errorf("ForStage(doll_replacement) = %q, want %q", got, "c")
	}
	if got := p.ForStage(Stage("bogus")); got != "" {
		t.Errorf("ForStage(bogus) = %q, want empty", got)
	}
}
