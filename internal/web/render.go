package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/hpungsan/ferry/internal/content"
	"github.com/hpungsan/ferry/internal/errors"
	"github.com/hpungsan/ferry/internal/offline"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
	Nav     string // active nav item: "panel", "queue"
}

// PanelPageData is the template data for the manager panel.
type PanelPageData struct {
	PageData
	State   *offline.State
	Percent float64 // storage used as a share of the limit
}

// ViewerPageData is the template data for the content viewer.
type ViewerPageData struct {
	PageData
	Entry        *content.Entry
	RenderedHTML template.HTML
	RawPayload   string
}

// QueuePageData is the template data for the sync queue page.
type QueuePageData struct {
	PageData
	Queue       []content.SyncEntry
	DeadLetters []content.DeadLetter
	IsOnline    bool
	IsSyncing   bool
}

// ButtonData is the template data for the download button fragment.
type ButtonData struct {
	ID       string
	Kind     content.Kind
	State    string // "idle", "downloading", "downloaded"
	Progress float64
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Code       string
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
	logger    *slog.Logger
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	funcMap := template.FuncMap{
		"formatTime":    formatTime,
		"formatBytes":   formatBytes,
		"formatPercent": formatPercent,
		"deref":         deref,
		"pathEscape":    url.PathEscape,
	}

	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html", "button.html"))

	pages := map[string]string{
		"panel":  "panel.html",
		"viewer": "viewer.html",
		"queue":  "queue.html",
		"error":  "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
		logger:    logger,
	}
}

// renderPage renders a named page template with HTTP 200.
func (r *Renderer) renderPage(w http.ResponseWriter, req *http.Request, name string, data any) {
	r.renderPageStatus(w, req, http.StatusOK, name, data)
}

// renderPageStatus renders a named page template with the given status.
// HTMX requests get only the "content" block.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, req *http.Request, status int, name string, data any) {
	block := "layout"
	if isHTMX(req) {
		block = "content"
	}
	r.renderBlock(w, status, name, block, data)
}

// renderBlock renders a specific named block from a page template.
func (r *Renderer) renderBlock(w http.ResponseWriter, status int, page, block string, data any) {
	t, ok := r.templates[page]
	if !ok {
		r.logger.Error("template not found", "page", page)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, block, data); err != nil {
		r.logger.Error("template execution failed", "page", page, "block", block, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	ferr, ok := errors.As(err)
	if !ok {
		ferr = errors.NewInternal(err)
	}
	if ferr.Code == errors.ErrInternal {
		r.logger.Error("request failed", "method", req.Method, "path", req.URL.Path, "error", err)
	}

	status := ferr.Status
	message := ferr.Message
	if ferr.Code == errors.ErrInternal {
		message = "an internal error occurred"
	}

	if isHTMX(req) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintf(w, `<div class="error-message">%s</div>`, template.HTMLEscapeString(message))
		return
	}

	if wantsJSON(req) {
		body := map[string]any{
			"code":    string(ferr.Code),
			"message": message,
			"status":  status,
		}
		if ferr.Code != errors.ErrInternal && ferr.Details != nil {
			body["details"] = ferr.Details
		}
		renderJSON(w, status, map[string]any{"error": body})
		return
	}

	r.renderPageStatus(w, req, status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", status),
			Version: r.version,
		},
		StatusCode: status,
		Code:       string(ferr.Code),
		Message:    message,
	})
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func isHTMX(r *http.Request) bool {
	return r != nil && r.Header.Get("HX-Request") == "true"
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// renderMarkdown converts markdown text to HTML using goldmark.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// markdownFields are the payload keys checked, in order, for a material body.
var markdownFields = []string{"markdown", "body", "text"}

// materialMarkdown extracts the markdown body of a material payload.
func materialMarkdown(payload json.RawMessage) (string, bool) {
	if len(payload) == 0 {
		return "", false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return "", false
	}
	for _, key := range markdownFields {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s, true
		}
	}
	return "", false
}

// prettyPayload indents a JSON payload for display.
func prettyPayload(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		return string(payload)
	}
	return buf.String()
}

// formatTime formats a time as "2006-01-02 15:04" UTC. Accepts time.Time or *time.Time.
func formatTime(v any) string {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format("2006-01-02 15:04")
	case *time.Time:
		if t == nil {
			return "never"
		}
		return t.UTC().Format("2006-01-02 15:04")
	}
	return ""
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatPercent(p float64) string {
	return fmt.Sprintf("%.0f%%", p)
}

// deref dereferences the pointer types used in templates.
func deref(v any) any {
	switch p := v.(type) {
	case *float64:
		if p == nil {
			return 0.0
		}
		return *p
	case *int:
		if p == nil {
			return 0
		}
		return *p
	case *string:
		if p == nil {
			return ""
		}
		return *p
	}
	return v
}
