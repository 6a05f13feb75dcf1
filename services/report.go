package services

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-chi/chi/v5"
	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const reportStyle = `
    body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
    h1, h2, h3 { color: #2c3e50; }
    strong { color: #e74c3c; }
    ul { padding-left: 20px; }
    .disclaimer { background-color: #f8f9fa; border-left: 5px solid #ccc; padding: 10px; margin-top: 20px; }
`

const maxReportImageSize = 1024

type ReportEndpoints struct {
	gemini    *GeminiService
	staticDir string
	baseURL   string
}

func NewReportEndpoints(gemini *GeminiService, staticDir, baseURL string) *ReportEndpoints {
	return &ReportEndpoints{gemini: gemini, staticDir: staticDir, baseURL: baseURL}
}

func (e *ReportEndpoints) RegisterRoutes(r chi.Router) {
	r.Post("/generate-report", e.GenerateHandler)
	r.Get("/static/reports/{filename}", e.DownloadHandler)
}

func (e *ReportEndpoints) reportsDir() string {
	return filepath.Join(e.staticDir, "reports")
}

func (e *ReportEndpoints) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	data, _, err := readUpload(r, "image")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if data == nil {
		writeError(w, http.StatusBadRequest, "No image file provided")
		return
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to decode image: %v", err))
		return
	}

	var png bytes.Buffer
	if err := imaging.Encode(&png, imaging.Fit(img, maxReportImageSize, maxReportImageSize, imaging.Lanczos), imaging.PNG); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	markdown, err := e.gemini.AnalyzeUltrasound(r.Context(), png.Bytes())
	if err != nil {
		slog.Error("Report generation failed", "error", err)
		writeServiceError(w, err)
		return
	}

	report, err := RenderReportHTML(markdown)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	filename := fmt.Sprintf("report_%s_%s.pdf", time.Now().Format("20060102_150405"), uuid.New().String()[:8])
	if err := WriteReportPDF(report, filepath.Join(e.reportsDir(), filename)); err != nil {
		slog.Error("Failed to write report pdf", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"report":  report,
		"pdfLink": staticURL(e.baseURL, "reports/"+filename),
	})
}

// DownloadHandler serves a generated report as an attachment.
func (e *ReportEndpoints) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		writeError(w, http.StatusBadRequest, "Invalid file name")
		return
	}

	path := filepath.Join(e.reportsDir(), name)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "Report not found")
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

// RenderReportHTML converts the model's markdown into the report fragment:
// a style block followed by the content, with the disclaimer paragraph
// wrapped in a div.disclaimer.
func RenderReportHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(&buf, body)
	if err != nil {
		return "", fmt.Errorf("failed to parse report html: %w", err)
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}

	style := &html.Node{Type: html.ElementNode, Data: "style", DataAtom: atom.Style}
	style.AppendChild(&html.Node{Type: html.TextNode, Data: reportStyle})
	body.InsertBefore(style, body.FirstChild)

	wrapDisclaimer(body)

	var out strings.Builder
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&out, c); err != nil {
			return "", fmt.Errorf("failed to render report html: %w", err)
		}
	}
	return out.String(), nil
}

// wrapDisclaimer moves the block holding "Disclaimer:" into a div.disclaimer.
// The block is the enclosing paragraph, the top-level element, or a bare
// text node directly under body.
func wrapDisclaimer(body *html.Node) {
	text := findText(body, "Disclaimer:")
	if text == nil {
		return
	}
	target := text
	for target.Parent != body && target.DataAtom != atom.P {
		target = target.Parent
	}
	div := &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
		Attr:     []html.Attribute{{Key: "class", Val: "disclaimer"}},
	}
	body.InsertBefore(div, target)
	target.Parent.RemoveChild(target)
	div.AppendChild(target)
}

func findText(n *html.Node, needle string) *html.Node {
	if n.Type == html.TextNode && strings.Contains(n.Data, needle) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findText(c, needle); found != nil {
			return found
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

// reportBlock is one printable element of the report.
type reportBlock struct {
	kind string // h1, h2, h3, p, li
	text string
}

// reportBlocks flattens headings, paragraphs and list items in document
// order. Matched elements are not descended into.
func reportBlocks(fragment string) ([]reportBlock, error) {
	root, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return nil, err
	}

	var blocks []reportBlock
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.H1, atom.H2, atom.H3, atom.P:
				blocks = append(blocks, reportBlock{kind: n.Data, text: textContent(n)})
				return
			case atom.Ul:
				for li := n.FirstChild; li != nil; li = li.NextSibling {
					if li.Type == html.ElementNode && li.DataAtom == atom.Li {
						blocks = append(blocks, reportBlock{kind: "li", text: textContent(li)})
					}
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return blocks, nil
}

// WriteReportPDF lays out the report on letter pages with one inch margins.
func WriteReportPDF(fragment, path string) error {
	blocks, err := reportBlocks(fragment)
	if err != nil {
		return fmt.Errorf("failed to parse report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create reports dir: %w", err)
	}

	pdf := fpdf.New("P", "mm", "Letter", "")
	pdf.SetMargins(25.4, 25.4, 25.4)
	pdf.SetAutoPageBreak(true, 6.35)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	for _, b := range blocks {
		switch b.kind {
		case "h1":
			pdf.SetFont("Helvetica", "B", 18)
			pdf.MultiCell(0, 9, tr(b.text), "", "L", false)
		case "h2":
			pdf.SetFont("Helvetica", "B", 14)
			pdf.MultiCell(0, 7, tr(b.text), "", "L", false)
		case "h3":
			pdf.SetFont("Helvetica", "B", 12)
			pdf.MultiCell(0, 6, tr(b.text), "", "L", false)
		case "li":
			pdf.SetFont("Helvetica", "", 10)
			pdf.MultiCell(0, 5, tr("• "+b.text), "", "L", false)
		default:
			pdf.SetFont("Helvetica", "", 10)
			pdf.MultiCell(0, 5, tr(b.text), "", "J", false)
		}
		pdf.Ln(5)
	}

	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	return nil
}
