package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

const noIssuesMarker = "NO ISSUES FOUND"

// parseIssues reads ISSUE blocks out of a model reply. Blocks are separated
// by lines of dashes; unknown lines continue the previous field. A reply
// that carries the no-issues marker (or nothing parseable) yields no issues.
func parseIssues(reply string) []Issue {
	if strings.Contains(strings.ToUpper(reply), noIssuesMarker) {
		return nil
	}

	var issues []Issue
	for _, block := range splitBlocks(reply) {
		if issue, ok := parseIssueBlock(block); ok {
			issues = append(issues, issue)
		}
	}
	return issues
}

func splitBlocks(reply string) []string {
	var blocks []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			blocks = append(blocks, strings.Join(cur, "\n"))
			cur = nil
		}
	}
	for _, line := range strings.Split(reply, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && strings.Trim(trimmed, "-") == "" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return blocks
}

func parseIssueBlock(block string) (Issue, bool) {
	var issue Issue
	var lastField *string

	appendTo := func(field *string, v string) {
		if *field == "" {
			*field = v
		} else {
			*field += "\n" + v
		}
	}

	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimSpace(value)
			switch strings.ToUpper(strings.TrimSpace(key)) {
			case "ISSUE":
				appendTo(&issue.Issue, value)
				lastField = &issue.Issue
				continue
			case "LOCATION":
				issue.Location = value
				lastField = nil
				continue
			case "SEVERITY":
				issue.Severity = strings.ToLower(value)
				lastField = nil
				continue
			case "DETAIL":
				appendTo(&issue.Detail, value)
				lastField = &issue.Detail
				continue
			case "QUOTE":
				issue.Quote = strings.Trim(value, `"`)
				lastField = nil
				continue
			case "ANCHORS":
				for _, a := range strings.Split(value, ",") {
					if a = strings.TrimSpace(a); a != "" {
						issue.Anchors = append(issue.Anchors, a)
					}
				}
				lastField = nil
				continue
			case "SUGGESTION":
				issue.Suggestions = append(issue.Suggestions, value)
				lastField = nil
				continue
			}
		}
		// Continuation of a multi-line field.
		if lastField != nil {
			appendTo(lastField, line)
		}
	}

	return issue, issue.Issue != ""
}

// extractJSON recovers a JSON object from a model reply that may wrap it in
// code fences or surrounding prose.
func extractJSON(reply string) (json.RawMessage, error) {
	s := strings.TrimSpace(reply)

	// Strip markdown code fences.
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}
	candidate := s[start : end+1]

	if !json.Valid([]byte(candidate)) {
		return nil, fmt.Errorf("reply contains invalid JSON")
	}
	return json.RawMessage(candidate), nil
}
