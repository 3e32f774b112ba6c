package insight

import (
	"strings"

	"github.com/marrec/inkwell/internal/engine"
	"github.com/marrec/inkwell/internal/manuscript"
)

// Finding is the normalized form of an engine issue as stored in payloads.
type Finding struct {
	Severity    string   `json:"severity"`
	Issue       string   `json:"issue"`
	Detail      string   `json:"detail"`
	Location    string   `json:"location"`
	SceneID     string   `json:"scene_id,omitempty"`
	Anchors     []string `json:"anchors,omitempty"`
	Quote       string   `json:"quote,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// multiSceneMarkers are location values that deliberately name no single
// scene; they never resolve to a scene id.
var multiSceneMarkers = map[string]bool{
	"multiple scenes":    true,
	"throughout chapter": true,
	"entire chapter":     true,
	"unknown":            true,
}

var severities = map[string]bool{
	"minor":    true,
	"moderate": true,
	"major":    true,
}

// normalizeFindings coerces raw engine issues into Findings and resolves
// locations to scene ids where possible.
func normalizeFindings(issues []engine.Issue, ch manuscript.Chapter) []Finding {
	findings := make([]Finding, 0, len(issues))
	for _, is := range issues {
		severity := strings.ToLower(strings.TrimSpace(is.Severity))
		if !severities[severity] {
			severity = "moderate"
		}
		findings = append(findings, Finding{
			Severity:    severity,
			Issue:       strings.TrimSpace(is.Issue),
			Detail:      strings.TrimSpace(is.Detail),
			Location:    strings.TrimSpace(is.Location),
			SceneID:     resolveSceneID(is.Location, ch),
			Anchors:     is.Anchors,
			Quote:       strings.TrimSpace(is.Quote),
			Suggestions: is.Suggestions,
		})
	}
	return findings
}

// resolveSceneID matches a reported location against scene names, exact but
// case-insensitive. Anything fuzzier risks pinning an issue to the wrong
// scene, so no match means no scene id.
func resolveSceneID(location string, ch manuscript.Chapter) string {
	loc := strings.TrimSpace(location)
	if loc == "" || multiSceneMarkers[strings.ToLower(loc)] {
		return ""
	}
	for _, sc := range ch.Scenes {
		if strings.EqualFold(sc.Name, loc) {
			return sc.ID
		}
	}
	return ""
}
