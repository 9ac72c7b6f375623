package profile

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Parse turns raw model output into a Profile, tolerating the usual model
// formatting sins: markdown fences, prose around the object, and minor JSON
// damage. The recovery ladder is direct parse, fence stripping, balanced
// brace extraction, and finally jsonrepair.
func Parse(raw string) (*Profile, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return nil, fmt.Errorf("empty model output")
	}

	var p Profile
	if err := json.Unmarshal([]byte(candidate), &p); err == nil {
		return &p, nil
	}

	if stripped := stripFences(candidate); stripped != candidate {
		if err := json.Unmarshal([]byte(stripped), &p); err == nil {
			return &p, nil
		}
		candidate = stripped
	}

	if obj := balancedObject(candidate); obj != "" {
		if err := json.Unmarshal([]byte(obj), &p); err == nil {
			return &p, nil
		}
		candidate = obj
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil, fmt.Errorf("unparseable model output: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &p); err != nil {
		return nil, fmt.Errorf("repaired output still invalid: %w", err)
	}
	return &p, nil
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// balancedObject returns the first balanced {...} region of s, respecting
// strings and escapes, or "" when none closes.
func balancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// ParseDiscovery extracts the discovery decision: the chosen URL, or ok=false
// for the literal nao_encontrado answer.
func ParseDiscovery(raw string) (url string, ok bool, err error) {
	candidate := strings.TrimSpace(stripFences(raw))
	if obj := balancedObject(candidate); obj != "" {
		candidate = obj
	}

	var decision struct {
		Site string `json:"site"`
	}
	if jsonErr := json.Unmarshal([]byte(candidate), &decision); jsonErr != nil {
		repaired, repErr := jsonrepair.JSONRepair(candidate)
		if repErr != nil {
			return "", false, fmt.Errorf("unparseable discovery output: %w", jsonErr)
		}
		if jsonErr = json.Unmarshal([]byte(repaired), &decision); jsonErr != nil {
			return "", false, fmt.Errorf("unparseable discovery output: %w", jsonErr)
		}
	}

	site := strings.TrimSpace(decision.Site)
	if site == "" || strings.EqualFold(site, "nao_encontrado") {
		return "", false, nil
	}
	return site, true, nil
}
