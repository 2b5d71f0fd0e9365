package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"citescope/internal/domain"
)

const maxAnswerLines = 4

var (
	headingLine  = regexp.MustCompile(`^#{1,6}\s+(.*?)\s*#*$`)
	boldQuestion = regexp.MustCompile(`^(?:\*\*|__)(.+\?)(?:\*\*|__)$`)
	listMarker   = regexp.MustCompile(`^(?:[-*+]|\d+[.)])\s+`)
	fenceLine    = regexp.MustCompile("^\\s{0,3}(?:```|~~~)")
	scriptOpen   = regexp.MustCompile(`(?i)<script\b`)
	scriptClose  = regexp.MustCompile(`(?i)</script>`)
)

// proseLines drops fenced code and script bodies, which never count as text.
func proseLines(raw string) []string {
	var out []string
	inFence, inScript := false, false
	for _, line := range strings.Split(raw, "\n") {
		switch {
		case inFence:
			if fenceLine.MatchString(line) {
				inFence = false
			}
			continue
		case inScript:
			if scriptClose.MatchString(line) {
				inScript = false
			}
			continue
		case fenceLine.MatchString(line):
			inFence = true
			continue
		case scriptOpen.MatchString(line):
			if !scriptClose.MatchString(line) {
				inScript = true
			}
			continue
		}
		out = append(out, strings.TrimSpace(line))
	}
	return out
}

func isHeading(line string) bool {
	return headingLine.MatchString(line)
}

// question reports whether line is a question by the heading, bold or Q: rules.
func question(line string) (string, bool) {
	if !strings.HasSuffix(line, "?") && !strings.HasSuffix(line, "?**") && !strings.HasSuffix(line, "?__") {
		return "", false
	}
	if m := headingLine.FindStringSubmatch(line); m != nil {
		return stripQ(m[1]), strings.HasSuffix(m[1], "?")
	}
	body := listMarker.ReplaceAllString(line, "")
	if m := boldQuestion.FindStringSubmatch(body); m != nil {
		return stripQ(m[1]), true
	}
	if hasQPrefix(body) && strings.HasSuffix(body, "?") {
		return stripQ(body), true
	}
	return "", false
}

func hasQPrefix(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "q:") || strings.HasPrefix(lower, "q.")
}

func stripQ(s string) string {
	s = strings.TrimSpace(s)
	if hasQPrefix(s) {
		s = s[2:]
	}
	return strings.TrimSpace(s)
}

func faqPairs(lines []string) []domain.FAQPair {
	out := []domain.FAQPair{}
	for i := 0; i < len(lines); i++ {
		q, ok := question(lines[i])
		if !ok || q == "" {
			continue
		}
		var answer []string
		for j := i + 1; j < len(lines) && len(answer) < maxAnswerLines; j++ {
			l := lines[j]
			if l == "" {
				continue
			}
			if isHeading(l) {
				break
			}
			if _, isQ := question(l); isQ {
				break
			}
			answer = append(answer, stripA(l))
		}
		out = append(out, domain.FAQPair{Question: q, Answer: strings.Join(answer, " ")})
	}
	return out
}

func stripA(s string) string {
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "a:") || strings.HasPrefix(lower, "a.") {
		return strings.TrimSpace(s[2:])
	}
	return s
}

func countWords(lines []string) int {
	n := 0
	for _, l := range lines {
		for _, tok := range strings.Fields(l) {
			if strings.IndexFunc(tok, isWordRune) >= 0 {
				n++
			}
		}
	}
	return n
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// entities collects runs of two or more capitalized words. A run ends at a
// lowercase word, at trailing punctuation, or at the end of the line.
func entities(lines []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, l := range lines {
		var run []string
		flush := func() {
			if len(run) >= 2 {
				e := strings.Join(run, " ")
				if !seen[e] {
					seen[e] = true
					out = append(out, e)
				}
			}
			run = run[:0]
		}
		for _, tok := range strings.Fields(l) {
			core := strings.TrimFunc(tok, func(r rune) bool { return !isWordRune(r) })
			if !capitalized(core) {
				flush()
				continue
			}
			run = append(run, core)
			if strings.HasSuffix(strings.TrimRight(tok, `*_"')]`), core) {
				continue
			}
			flush()
		}
		flush()
	}
	return out
}

func capitalized(word string) bool {
	if utf8.RuneCountInString(word) < 2 {
		return false
	}
	r, _ := utf8.DecodeRuneInString(word)
	return unicode.IsUpper(r)
}
