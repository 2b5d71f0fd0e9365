package extract

import (
	"net/url"
	"regexp"
	"strings"
)

var hrefAttr = regexp.MustCompile(`(?i)href=["']([^"']+)["']`)

func hrefAttributes(raw string) []string {
	var out []string
	for _, m := range hrefAttr.FindAllStringSubmatch(raw, -1) {
		out = append(out, m[1])
	}
	return out
}

// internalLinks keeps root-relative links and absolute links on the page's own host.
func internalLinks(pageURL string, hrefs []string) []string {
	host := ""
	if base, err := url.Parse(pageURL); err == nil {
		host = normalizeHost(base.Hostname())
	}
	seen := map[string]bool{}
	out := []string{}
	for _, href := range hrefs {
		href = strings.TrimSpace(href)
		if href == "" || seen[href] {
			continue
		}
		keep := false
		switch {
		case strings.HasPrefix(href, "//"):
			if u, err := url.Parse("https:" + href); err == nil && host != "" {
				keep = normalizeHost(u.Hostname()) == host
			}
		case strings.HasPrefix(href, "/"):
			keep = true
		default:
			u, err := url.Parse(href)
			if err == nil && u.IsAbs() && host != "" && (u.Scheme == "http" || u.Scheme == "https") {
				keep = normalizeHost(u.Hostname()) == host
			}
		}
		if keep {
			seen[href] = true
			out = append(out, href)
		}
	}
	return out
}

func normalizeHost(h string) string {
	return strings.TrimPrefix(strings.ToLower(h), "www.")
}
