package web

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hpungsan/ferry/internal/content"
	"github.com/hpungsan/ferry/internal/errors"
	"github.com/hpungsan/ferry/internal/offline"
)

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	svc      *offline.Service
	renderer *Renderer
}

// HandlePanel handles GET /: the manager panel.
func (h *Handlers) HandlePanel(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.Snapshot(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	var percent float64
	if limit := state.Stats.StorageLimitBytes; limit > 0 {
		percent = content.ClampPercentage(float64(state.Stats.StorageUsedBytes) * 100 / float64(limit))
	}

	h.renderer.renderPage(w, r, "panel", PanelPageData{
		PageData: PageData{
			Title:   "Offline content",
			Version: h.renderer.version,
			Nav:     "panel",
		},
		State:   state,
		Percent: percent,
	})
}

// HandleState handles GET /api/state: the full presentation snapshot as JSON.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.Snapshot(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, state)
}

// HandleViewer handles GET /content/{id}: view one downloaded item.
func (h *Handlers) HandleViewer(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if strings.TrimSpace(id) == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("content id is required"))
		return
	}

	entry, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, entry)
		return
	}

	data := ViewerPageData{
		PageData: PageData{
			Title:   displayTitle(entry),
			Version: h.renderer.version,
			Nav:     "panel",
		},
		Entry: entry,
	}
	if md, ok := materialMarkdown(entry.Payload); ok && entry.Kind == content.KindMaterial {
		data.RenderedHTML = renderMarkdown(md)
	} else {
		data.RawPayload = prettyPayload(entry.Payload)
	}
	h.renderer.renderPage(w, r, "viewer", data)
}

// HandleButton handles GET /content/{kind}/{id}/button: the download button
// fragment, polled while a download runs.
func (h *Handlers) HandleButton(w http.ResponseWriter, r *http.Request) {
	kind, id, err := kindAndID(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.renderer.renderBlock(w, http.StatusOK, "panel", "button", h.buttonData(r, kind, id))
}

// HandleDownload handles POST /content/{kind}/{id}/download.
func (h *Handlers) HandleDownload(w http.ResponseWriter, r *http.Request) {
	kind, id, err := kindAndID(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	entry, err := h.svc.Download(r.Context(), id, kind)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if isHTMX(r) {
		h.renderer.renderBlock(w, http.StatusOK, "panel", "button", h.buttonData(r, kind, id))
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, entry.Summarize())
		return
	}
	http.Redirect(w, r, contentPath(id), http.StatusFound)
}

// HandleDownloadForm handles POST /download: the panel's download form.
func (h *Handlers) HandleDownloadForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}
	kind, ok := content.ParseKind(r.FormValue("kind"))
	if !ok {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("unknown content kind: "+r.FormValue("kind")))
		return
	}
	id := strings.TrimSpace(r.FormValue("id"))

	entry, err := h.svc.Download(r.Context(), id, kind)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.done(w, r, contentPath(entry.ID), entry.Summarize())
}

// HandleDelete handles POST /content/{id}/delete: remove a downloaded item.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if strings.TrimSpace(id) == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("content id is required"))
		return
	}

	if err := h.svc.Remove(r.Context(), id); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.done(w, r, "/", map[string]any{"id": id, "removed": true})
}

// HandleComplete handles POST /content/{id}/complete.
func (h *Handlers) HandleComplete(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if strings.TrimSpace(id) == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("content id is required"))
		return
	}

	entry, err := h.svc.MarkComplete(r.Context(), id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.done(w, r, contentPath(id), entry.Summarize())
}

// HandleQueue handles GET /queue: pending and dead-lettered sync entries.
func (h *Handlers) HandleQueue(w http.ResponseWriter, r *http.Request) {
	queue, err := h.svc.Queue(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	letters, err := h.svc.DeadLetters(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, r, "queue", QueuePageData{
		PageData: PageData{
			Title:   "Sync queue",
			Version: h.renderer.version,
			Nav:     "queue",
		},
		Queue:       queue,
		DeadLetters: letters,
		IsOnline:    h.svc.IsOnline(),
		IsSyncing:   h.svc.IsSyncing(),
	})
}

// HandleRequeue handles POST /queue/{id}/requeue: return a dead letter to the queue.
func (h *Handlers) HandleRequeue(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	entry, err := h.svc.Requeue(r.Context(), id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.done(w, r, "/queue", entry)
}

// HandleSync handles POST /sync: run one drain pass.
func (h *Handlers) HandleSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.SyncPendingChanges(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.done(w, r, "/queue", result)
}

// HandleSweep handles POST /sweep: remove expired entries now.
func (h *Handlers) HandleSweep(w http.ResponseWriter, r *http.Request) {
	removed, err := h.svc.SweepExpired(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.done(w, r, "/", map[string]any{"removed": removed})
}

// done finishes a mutating request: HTMX clients are redirected via header,
// JSON clients get data, and everything else gets a 302.
func (h *Handlers) done(w http.ResponseWriter, r *http.Request, redirect string, data any) {
	if isHTMX(r) {
		w.Header().Set("HX-Redirect", redirect)
		w.WriteHeader(http.StatusOK)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, data)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (h *Handlers) buttonData(r *http.Request, kind content.Kind, id string) ButtonData {
	b := ButtonData{ID: id, Kind: kind, State: "idle"}
	if pct, ok := h.svc.DownloadProgress()[id]; ok {
		b.State = "downloading"
		b.Progress = pct
	} else if h.svc.IsAvailable(r.Context(), id) {
		b.State = "downloaded"
		b.Progress = 100
	}
	return b
}

// kindAndID reads and validates the {kind} and {id} path parameters.
func kindAndID(r *http.Request) (content.Kind, string, error) {
	kind, ok := content.ParseKind(urlParam(r, "kind"))
	if !ok {
		return "", "", errors.NewInvalidRequest("unknown content kind: " + urlParam(r, "kind"))
	}
	id := strings.TrimSpace(urlParam(r, "id"))
	if id == "" {
		return "", "", errors.NewInvalidRequest("content id is required")
	}
	return kind, id, nil
}

// urlParam returns a decoded path parameter. The router matches on the
// escaped path whenever the request carries escapes like %2F.
func urlParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return v
	}
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

// contentPath is the viewer URL for id.
func contentPath(id string) string {
	return "/content/" + url.PathEscape(id)
}

// displayTitle returns the entry title if present, or a truncated ID.
func displayTitle(e *content.Entry) string {
	if e.Title != "" {
		return e.Title
	}
	if len(e.ID) > 10 {
		return e.ID[:10] + "..."
	}
	return e.ID
}
