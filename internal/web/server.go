package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hpungsan/ferry/internal/offline"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// NewRouter builds the web UI routes over the offline service.
func NewRouter(svc *offline.Service, version string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		panic(fmt.Sprintf("template sub-FS: %v", err))
	}
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(fmt.Sprintf("static sub-FS: %v", err))
	}

	h := &Handlers{
		svc:      svc,
		renderer: NewRenderer(templateSub, version, logger),
	}

	r := chi.NewRouter()
	r.Use(securityHeaders)

	r.Get("/", h.HandlePanel)
	r.Get("/api/state", h.HandleState)
	r.Get("/queue", h.HandleQueue)
	r.Post("/queue/{id}/requeue", h.HandleRequeue)
	r.Post("/sync", h.HandleSync)
	r.Post("/sweep", h.HandleSweep)
	r.Post("/download", h.HandleDownloadForm)

	r.Route("/content", func(r chi.Router) {
		r.Get("/{id}", h.HandleViewer)
		r.Post("/{id}/delete", h.HandleDelete)
		r.Post("/{id}/complete", h.HandleComplete)
		r.Get("/{kind}/{id}/button", h.HandleButton)
		r.Post("/{kind}/{id}/download", h.HandleDownload)
	})

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	return r
}

// NewServer creates and configures the HTTP server for the ferry web UI.
func NewServer(svc *offline.Service, version, bind string, port int, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           NewRouter(svc, version, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("ferry UI running", "url", "http://"+srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		logger.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
