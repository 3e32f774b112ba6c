package insight

import (
	"testing"

	"github.com/marrec/inkwell/internal/engine"
	"github.com/marrec/inkwell/internal/manuscript"
)

func normalizeFixture() manuscript.Chapter {
	return manuscript.Chapter{
		ID:   "ch1",
		Name: "Arrival",
		Scenes: []manuscript.Scene{
			{ID: "sc1", Name: "Harbor", Content: "text"},
			{ID: "sc2", Name: "Night Market", Content: "text"},
		},
	}
}

func TestResolveSceneID(t *testing.T) {
	ch := normalizeFixture()
	cases := []struct {
		location string
		want     string
	}{
		{"Harbor", "sc1"},
		{"harbor", "sc1"},
		{"  Night Market  ", "sc2"},
		{"NIGHT MARKET", "sc2"},
		{"Harbour", ""}, // near miss stays unresolved
		{"multiple scenes", ""},
		{"Throughout Chapter", ""},
		{"entire chapter", ""},
		{"unknown", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := resolveSceneID(tc.location, ch); got != tc.want {
			t.Errorf("resolveSceneID(%q) = %q, want %q", tc.location, got, tc.want)
		}
	}
}

func TestNormalizeFindings(t *testing.T) {
	ch := normalizeFixture()
	issues := []engine.Issue{
		{
			Issue:       "Dawn arrives twice",
			Location:    "Harbor",
			Severity:    "MAJOR",
			Detail:      "  sun rises twice  ",
			Quote:       "over the masts",
			Anchors:     []string{"S1P1"},
			Suggestions: []string{"cut one"},
		},
		{
			Issue:    "Pacing sags",
			Location: "multiple scenes",
			Severity: "catastrophic", // not a known level
			Detail:   "middle drags",
		},
	}

	findings := normalizeFindings(issues, ch)
	if len(findings) != 2 {
		t.Fatalf("got %d findings, want 2", len(findings))
	}

	first := findings[0]
	if first.Severity != "major" {
		t.Errorf("severity = %q", first.Severity)
	}
	if first.SceneID != "sc1" {
		t.Errorf("scene id = %q, want sc1", first.SceneID)
	}
	if first.Detail != "sun rises twice" {
		t.Errorf("detail = %q, want trimmed", first.Detail)
	}

	second := findings[1]
	if second.Severity != "moderate" {
		t.Errorf("unknown severity normalized to %q, want moderate", second.Severity)
	}
	if second.SceneID != "" {
		t.Errorf("multi-scene finding got scene id %q", second.SceneID)
	}
}

func TestNormalizeFindingsEmpty(t *testing.T) {
	findings := normalizeFindings(nil, normalizeFixture())
	if findings == nil {
		t.Error("expected empty slice, got nil")
	}
	if len(findings) != 0 {
		t.Errorf("got %d findings", len(findings))
	}
}
