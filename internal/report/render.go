package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"citescope/internal/domain"
	"citescope/internal/logger"
	"citescope/internal/telemetry"
)

// Artifact is where a renderer put the report.
type Artifact struct {
	Location string
	Format   string
	// Degraded is set when an optional sub-step was skipped.
	Degraded bool
}

// ErrUnsupported is returned by a renderer that does not produce the
// requested format. The chain skips it without counting a failure.
var ErrUnsupported = errors.New("format not supported by renderer")

type Renderer interface {
	Render(ctx context.Context, doc Document) (Artifact, error)
}

// Tier is one named step of a Chain.
type Tier struct {
	Name     string
	Renderer Renderer
}

// Outcome summarises a Chain run. Error is set only when every tier failed.
type Outcome struct {
	Location string
	Format   string
	Tier     string
	Soft     bool
	Error    string
	Attempts []domain.TierAttempt
}

// Result converts the outcome into the job's report stage result.
func (o Outcome) Result() domain.ReportResult {
	return domain.ReportResult{
		Location: o.Location,
		Format:   o.Format,
		Tier:     o.Tier,
		Soft:     o.Soft,
		Error:    o.Error,
		Attempts: o.Attempts,
	}
}

// Chain tries tiers in order; the first success wins. A success after a
// failed tier, or with a skipped sub-step, is a soft failure.
type Chain struct {
	Tiers     []Tier
	Logger    logger.Logger
	Telemetry *telemetry.Provider
}

func (c Chain) Render(ctx context.Context, doc Document) Outcome {
	log := c.Logger
	if log == nil {
		log = logger.NewNop()
	}
	var out Outcome
	var failures []string
	for _, tier := range c.Tiers {
		art, err := tier.Renderer.Render(ctx, doc)
		if errors.Is(err, ErrUnsupported) {
			continue
		}
		c.Telemetry.ReportTier(tier.Name, err)
		if err != nil {
			log.Warn("report tier failed",
				logger.String("job_id", doc.JobID),
				logger.String("tier", tier.Name),
				logger.Error(err))
			out.Attempts = append(out.Attempts, domain.TierAttempt{Tier: tier.Name, Error: err.Error()})
			failures = append(failures, fmt.Sprintf("%s: %v", tier.Name, err))
			continue
		}
		out.Attempts = append(out.Attempts, domain.TierAttempt{Tier: tier.Name})
		out.Location = art.Location
		out.Format = art.Format
		out.Tier = tier.Name
		out.Soft = len(failures) > 0 || art.Degraded
		return out
	}
	if len(failures) == 0 {
		failures = append(failures, "no renderer supports "+doc.Format)
	}
	out.Error = "report generation failed: " + strings.Join(failures, "; ")
	return out
}

// Remote posts the document to an HTTP rendering service which answers with
// {"location": "..."}.
type Remote struct {
	URL    string
	Client *http.Client
}

func (r Remote) Render(ctx context.Context, doc Document) (Artifact, error) {
	if r.URL == "" {
		return Artifact{}, errors.New("remote renderer not configured")
	}
	body, err := json.Marshal(map[string]string{
		"job_id":   doc.JobID,
		"title":    doc.Title,
		"markdown": doc.Markdown,
		"format":   doc.Format,
	})
	if err != nil {
		return Artifact{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return Artifact{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Artifact{}, fmt.Errorf("remote render: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Artifact{}, fmt.Errorf("remote render: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var decoded struct {
		Location string `json:"location"`
		Format   string `json:"format"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Artifact{}, fmt.Errorf("remote render: decode: %w", err)
	}
	if decoded.Location == "" {
		return Artifact{}, errors.New("remote render: empty location")
	}
	if decoded.Format == "" {
		decoded.Format = doc.Format
	}
	return Artifact{Location: decoded.Location, Format: decoded.Format}, nil
}

// Local writes HTML or markdown next to the other reports.
type Local struct {
	Dir string
}

func (l Local) Render(ctx context.Context, doc Document) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return Artifact{}, err
	}
	format := doc.Format
	var data []byte
	switch format {
	case domain.FormatMarkdown:
		data = []byte(doc.Markdown)
	default:
		// pdf requests that reach this tier fall back to html
		format = domain.FormatHTML
		page, err := ToHTML(doc)
		if err != nil {
			return Artifact{}, err
		}
		data = page
	}
	path := filepath.Join(l.Dir, fileName(doc.JobID, format))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Artifact{}, err
	}
	return Artifact{Location: path, Format: format}, nil
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough, extension.Linkify))

// ToHTML renders the document as a standalone HTML page.
func ToHTML(doc Document) ([]byte, error) {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(doc.Markdown), &body); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	var out bytes.Buffer
	fmt.Fprintf(&out, "<!doctype html>\n<html><head><meta charset=\"utf-8\"><title>%s</title>\n", html.EscapeString(doc.Title))
	out.WriteString("<style>body{font-family:sans-serif;max-width:52rem;margin:2rem auto}table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:.3rem .6rem}</style>\n")
	out.WriteString("</head><body>\n")
	out.Write(body.Bytes())
	out.WriteString("</body></html>\n")
	return out.Bytes(), nil
}

func fileName(jobID, format string) string {
	ext := map[string]string{domain.FormatPDF: "pdf", domain.FormatHTML: "html", domain.FormatMarkdown: "md"}[format]
	if ext == "" {
		ext = "txt"
	}
	return jobID + "." + ext
}

// ContentType returns the MIME type for a report format.
func ContentType(format string) string {
	switch format {
	case domain.FormatPDF:
		return "application/pdf"
	case domain.FormatHTML:
		return "text/html; charset=utf-8"
	case domain.FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
