package main

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/CTAG07/Lyrebird/pkg/templating"
)

const (
	scopeTemplatesRead  = "templates:read"
	scopeTemplatesWrite = "templates:write"
)

// previewLyrics fills the lyrics page when previewing templates.
const previewLyrics = "I walk the line\nI keep a close watch on this heart of mine\nI keep my eyes wide open all the time"

// TemplateAPI holds the dependencies for the template API handlers.
type TemplateAPI struct {
	tm     *templating.TemplateManager
	cm     *ConfigManager
	logger *slog.Logger
}

// NewTemplateAPI creates a new instance of the TemplateAPI.
func NewTemplateAPI(tm *templating.TemplateManager, cm *ConfigManager, logger *slog.Logger) *TemplateAPI {
	return &TemplateAPI{
		tm:     tm,
		cm:     cm,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/templates endpoints.
func (t *TemplateAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/templates", t.handleList)
	mux.HandleFunc("/api/templates/refresh", t.handleRefresh)
	mux.HandleFunc("/api/templates/preview", t.handlePreview)
}

// handleList returns the names of the loaded page templates.
func (t *TemplateAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeTemplatesRead) {
		return
	}
	respondWithJSON(w, http.StatusOK, t.tm.TemplateNames())
}

// handleRefresh triggers a manual refresh of templates from disk.
func (t *TemplateAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeTemplatesWrite) {
		return
	}
	if err := t.tm.Refresh(); err != nil {
		t.logger.Error("API triggered refresh failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to refresh templates: %v", err))
		return
	}
	t.logger.Info("Templates refreshed via API")
	w.WriteHeader(http.StatusNoContent)
}

// handlePreview renders a page template with sample data.
func (t *TemplateAPI) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeTemplatesRead) {
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'name' is required")
		return
	}

	engine := t.cm.Get().Engine
	data := PageData{
		Title:   "Preview",
		Output:  previewLyrics,
		Order:   engine.DefaultOrder,
		Length:  engine.DefaultLength,
		Message: "This is a preview message.",
		Status:  http.StatusOK,
	}

	var buf bytes.Buffer
	if err := t.tm.Execute(&buf, name, data); err != nil {
		if errors.Is(err, templating.ErrTemplateNotFound) {
			respondWithError(w, http.StatusNotFound, fmt.Sprintf("Template '%s' not found", name))
			return
		}
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to render preview: %v", err))
		return
	}
	setPageHeaders(w)
	_, _ = buf.WriteTo(w)
}
