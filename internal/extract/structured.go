package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"citescope/internal/domain"
)

const maxInvalidRaw = 512

var scriptLDJSON = regexp.MustCompile(`(?is)<script[^>]*type=["']?application/ld\+json["']?[^>]*>(.*?)</script>`)

func scriptBlocks(raw string) []string {
	var out []string
	for _, m := range scriptLDJSON.FindAllStringSubmatch(raw, -1) {
		out = append(out, m[1])
	}
	return out
}

// parseStructured keeps broken markup as an Invalid entry so gap analysis can
// tell "absent" from "present but unparsable".
func parseStructured(block string) []domain.StructuredData {
	block = strings.TrimSpace(block)
	if block == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(block), &v); err != nil {
		raw := block
		if len(raw) > maxInvalidRaw {
			raw = raw[:maxInvalidRaw]
		}
		return []domain.StructuredData{{
			Type:       "Invalid",
			Properties: map[string]any{"raw": raw, "error": err.Error()},
			IsValid:    false,
		}}
	}
	return collectStructured(v)
}

func collectStructured(v any) []domain.StructuredData {
	switch val := v.(type) {
	case map[string]any:
		if graph, ok := val["@graph"].([]any); ok && len(graph) > 0 {
			return collectStructured(graph)
		}
		return []domain.StructuredData{{Type: schemaType(val["@type"]), Properties: val, IsValid: true}}
	case []any:
		var out []domain.StructuredData
		for _, item := range val {
			out = append(out, collectStructured(item)...)
		}
		return out
	default:
		return nil
	}
}

func schemaType(v any) string {
	var t string
	switch val := v.(type) {
	case string:
		t = val
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				t = s
				break
			}
		}
	}
	t = strings.TrimSpace(t)
	if i := strings.LastIndex(t, "/"); i >= 0 {
		t = t[i+1:]
	}
	if t == "" {
		return "Unknown"
	}
	return t
}
