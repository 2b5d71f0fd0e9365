package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/yuin/goldmark/ast"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"citescope/internal/domain"
	"citescope/internal/logger"
)

// PDF renders the markdown report with fpdf. When Compress is set the output
// is passed through pdfcpu; a failed optimisation keeps the raw file.
type PDF struct {
	Dir      string
	Compress bool
	Logger   logger.Logger

	// optimize is swapped in tests.
	optimize func(in []byte) ([]byte, error)
}

func (p PDF) Render(ctx context.Context, doc Document) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	if doc.Format != "" && doc.Format != domain.FormatPDF {
		return Artifact{}, fmt.Errorf("%w: pdf renderer cannot produce %s", ErrUnsupported, doc.Format)
	}
	raw, err := MarkdownToPDF(doc)
	if err != nil {
		return Artifact{}, err
	}
	degraded := false
	if p.Compress {
		optimize := p.optimize
		if optimize == nil {
			optimize = optimizePDF
		}
		small, err := optimize(raw)
		if err != nil {
			degraded = true
			if p.Logger != nil {
				p.Logger.Warn("pdf compression skipped", logger.String("job_id", doc.JobID), logger.Error(err))
			}
		} else {
			raw = small
		}
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return Artifact{}, err
	}
	path := filepath.Join(p.Dir, fileName(doc.JobID, domain.FormatPDF))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return Artifact{}, err
	}
	return Artifact{Location: path, Format: domain.FormatPDF, Degraded: degraded}, nil
}

func optimizePDF(in []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := api.Optimize(bytes.NewReader(in), &out, nil); err != nil {
		return nil, fmt.Errorf("optimize pdf: %w", err)
	}
	return out.Bytes(), nil
}

// MarkdownToPDF lays the markdown out on A4 pages.
func MarkdownToPDF(doc Document) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(doc.Title, true)
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()
	pdf.SetFont("Arial", "", 10)

	source := []byte(doc.Markdown)
	root := markdown.Parser().Parse(text.NewReader(source))
	w := &pdfWriter{pdf: pdf, source: source, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	if err := ast.Walk(root, w.walk); err != nil {
		return nil, fmt.Errorf("layout pdf: %w", err)
	}
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("layout pdf: %w", err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

type pdfWriter struct {
	pdf    *fpdf.Fpdf
	source []byte
	tr     func(string) string
	bold   bool
	italic bool
	depth  int
}

func (w *pdfWriter) font() {
	style := ""
	if w.bold {
		style += "B"
	}
	if w.italic {
		style += "I"
	}
	w.pdf.SetFont("Arial", style, 10)
}

func (w *pdfWriter) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		if entering {
			size := map[int]float64{1: 16, 2: 13, 3: 11}[node.Level]
			if size == 0 {
				size = 10
			}
			w.pdf.Ln(4)
			w.pdf.SetFont("Arial", "B", size)
		} else {
			w.pdf.Ln(7)
			w.font()
		}
	case *ast.Paragraph:
		if !entering {
			w.pdf.Ln(6)
		}
	case *ast.Text:
		if entering {
			w.pdf.Write(5, w.tr(string(node.Segment.Value(w.source))))
			if node.SoftLineBreak() {
				w.pdf.Write(5, " ")
			}
		}
	case *ast.Emphasis:
		if node.Level == 2 {
			w.bold = entering
		} else {
			w.italic = entering
		}
		w.font()
	case *ast.List:
		if entering {
			w.depth++
		} else {
			w.depth--
			w.pdf.Ln(2)
		}
	case *ast.ListItem:
		if entering {
			w.pdf.SetX(15 + float64(w.depth)*4)
			w.pdf.Write(5, "- ")
		}
	case *ast.TextBlock:
		if !entering {
			w.pdf.Ln(5)
		}
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		if entering {
			w.code(n.Lines())
			return ast.WalkSkipChildren, nil
		}
	case *extast.Table:
		if entering {
			w.table(node)
			return ast.WalkSkipChildren, nil
		}
	}
	return ast.WalkContinue, nil
}

func (w *pdfWriter) code(lines *text.Segments) {
	w.pdf.SetFont("Courier", "", 8)
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		w.pdf.MultiCell(0, 4, w.tr(string(bytes.TrimRight(seg.Value(w.source), "\n"))), "", "L", false)
	}
	w.pdf.Ln(2)
	w.font()
}

func (w *pdfWriter) table(t *extast.Table) {
	var rows [][]string
	for row := t.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, w.tr(string(cellText(cell, w.source))))
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}
	width := 180.0 / float64(len(rows[0]))
	w.pdf.Ln(2)
	for i, cells := range rows {
		style := ""
		if i == 0 {
			style = "B"
		}
		w.pdf.SetFont("Arial", style, 8)
		for _, c := range cells {
			for w.pdf.GetStringWidth(c) > width-2 && len(c) > 3 {
				c = c[:len(c)-4] + "..."
			}
			w.pdf.CellFormat(width, 6, c, "1", 0, "L", false, 0, "")
		}
		w.pdf.Ln(-1)
	}
	w.pdf.Ln(3)
	w.font()
}

func cellText(n ast.Node, source []byte) []byte {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if t, ok := c.(*ast.Text); ok && entering {
			buf.Write(t.Segment.Value(source))
		}
		return ast.WalkContinue, nil
	})
	return buf.Bytes()
}
