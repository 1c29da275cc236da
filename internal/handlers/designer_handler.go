package handlers

import (
	"errors"
	"net/http"

	"github.com/koios/esphome-designer/internal/designer"
	"github.com/koios/esphome-designer/internal/homeassistant"
	"github.com/koios/esphome-designer/internal/simulator"
	"github.com/koios/esphome-designer/pkg/models"
	"github.com/koios/esphome-designer/pkg/snippet"
	"go.uber.org/zap"
)

// Handler serves the designer HTTP API
type Handler struct {
	service   *designer.Service
	entities  homeassistant.Source
	simulator *simulator.Manager
	logger    *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(service *designer.Service, entities homeassistant.Source, sim *simulator.Manager, logger *zap.Logger) *Handler {
	return &Handler{
		service:   service,
		entities:  entities,
		simulator: sim,
		logger:    logger,
	}
}

// handleHealth handles GET /health
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "esphome-designer",
		"version": "1.0.0",
	})
}

func (h *Handler) test(r *http.Request) (interface{}, *APIError) {
	return map[string]interface{}{
		"status":  "ok",
		"message": "ESPHome designer API is working",
	}, nil
}

// getLayout handles GET /layout
func (h *Handler) getLayout(r *http.Request) (interface{}, *APIError) {
	device, err := h.service.GetLayout(r.Context(), r.URL.Query().Get("device"))
	if err != nil {
		return nil, newAPIError(http.StatusInternalServerError, "load_failed", err.Error())
	}
	return device, nil
}

// saveLayout handles POST /layout
func (h *Handler) saveLayout(r *http.Request) (interface{}, *APIError) {
	var submitted models.Device
	if apiErr := decodeJSON(r, &submitted); apiErr != nil {
		return nil, apiErr
	}

	device, err := h.service.SaveLayout(r.Context(), r.URL.Query().Get("device"), &submitted)
	if err != nil {
		var invalid models.ValidationErrors
		switch {
		case errors.As(err, &invalid):
			return nil, &APIError{
				Status:  http.StatusBadRequest,
				Code:    "invalid_layout",
				Message: "Layout failed validation.",
				Details: invalid,
			}
		case errors.Is(err, designer.ErrPersist):
			return nil, newAPIError(http.StatusInternalServerError, "persist_failed", err.Error())
		default:
			return nil, newAPIError(http.StatusInternalServerError, "update_failed", err.Error())
		}
	}
	return device, nil
}

// exportSnippet handles GET /snippet. Failures are reported as a YAML
// comment so the editor can show the body as-is.
func (h *Handler) exportSnippet(w http.ResponseWriter, r *http.Request) {
	text, err := h.service.ExportSnippet(r.Context(), r.URL.Query().Get("device"))
	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	if err != nil {
		h.logger.Error("Snippet export failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("# Error: snippet generation failed, see logs for details\n"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

// importSnippet handles POST /import_snippet
func (h *Handler) importSnippet(r *http.Request) (interface{}, *APIError) {
	var req importRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		return nil, apiErr
	}
	text, apiErr := req.text()
	if apiErr != nil {
		return nil, apiErr
	}

	device, err := h.service.ImportSnippet(r.Context(), r.URL.Query().Get("device"), text)
	if err != nil {
		if kind, ok := snippet.KindOf(err); ok {
			return nil, newAPIError(http.StatusBadRequest, string(kind), kind.Message())
		}
		if errors.Is(err, designer.ErrPersist) {
			return nil, newAPIError(http.StatusInternalServerError, "persist_failed", err.Error())
		}
		return nil, newAPIError(http.StatusInternalServerError, "import_failed", err.Error())
	}
	return device, nil
}

// listEntities handles GET /entities?domains=&search=
func (h *Handler) listEntities(r *http.Request) (interface{}, *APIError) {
	q := r.URL.Query()
	filter := models.ParseEntityFilter(q.Get("domains"), q.Get("search"))

	entities, err := h.entities.Entities(r.Context())
	if err != nil {
		return nil, newAPIError(http.StatusBadGateway, "entities_unavailable", err.Error())
	}

	results := filter.Apply(entities)
	h.logger.Debug("Served entities", zap.Int("count", len(results)))
	return results, nil
}
