package agent

import (
	"regexp"
	"strings"
)

var (
	listItem   = regexp.MustCompile(`^\s*(?:[-*+•]|\d{1,3}[.)])\s+(.+)$`)
	decoration = regexp.MustCompile(`^[#>\s]*(?:\d{1,3}[.)]\s*)?`)
)

// Section returns the list items that follow label in text. Missing or
// malformed sections yield an empty, non-nil slice.
func Section(text, label string) []string {
	return ParseSections(text, label)[label]
}

// ParseSections extracts each labelled list from text. A label line may be a
// markdown heading, bold text or plain text ending in a colon; the items are
// the bulleted or numbered lines after it.
func ParseSections(text string, labels ...string) map[string][]string {
	out := make(map[string][]string, len(labels))
	for _, l := range labels {
		out[l] = []string{}
	}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	current := ""
	for _, line := range lines {
		if label, rest, ok := matchLabel(line, labels); ok {
			current = label
			if rest != "" {
				out[label] = append(out[label], rest)
			}
			continue
		}
		if current == "" {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		m := listItem.FindStringSubmatch(line)
		if m == nil {
			// prose or an unknown heading ends the section
			current = ""
			continue
		}
		if item := cleanItem(m[1]); item != "" {
			out[current] = append(out[current], item)
		}
	}
	return out
}

// Block returns the raw text under label up to the next of the other labels.
// Text on the label line is kept and code fences are removed, so multi-line
// payloads such as JSON survive.
func Block(text, label string, others ...string) string {
	all := append([]string{label}, others...)
	var b strings.Builder
	in := false
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if l, rest, ok := matchLabel(line, all); ok {
			if in {
				break
			}
			if l == label {
				in = true
				if rest != "" {
					b.WriteString(rest + "\n")
				}
			}
			continue
		}
		if !in || strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimSpace(b.String())
}

func matchLabel(line string, labels []string) (label, rest string, ok bool) {
	s := decoration.ReplaceAllString(line, "")
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "*_"))
	lower := strings.ToLower(s)
	for _, l := range labels {
		ll := strings.ToLower(l)
		if !strings.HasPrefix(lower, ll) {
			continue
		}
		tail := strings.TrimSpace(s[len(l):])
		tail = strings.TrimSpace(strings.TrimLeft(tail, "*_"))
		switch {
		case tail == "" || tail == ":":
			return l, "", true
		case strings.HasPrefix(tail, ":"):
			return l, cleanItem(strings.TrimPrefix(tail, ":")), true
		}
	}
	return "", "", false
}

func cleanItem(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "**", "")
	s = strings.Trim(s, "_ ")
	return s
}
