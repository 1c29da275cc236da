package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 4 << 20

// APIError is the typed failure returned by a route handler
type APIError struct {
	Status  int
	Code    string
	Message string
	Details interface{}
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type errorBody struct {
	Error   string      `json:"error"`
	Message string      `json:"message,omitempty"`
	Errors  interface{} `json:"errors,omitempty"`
}

// apiFunc handles a request and returns either a JSON payload or an error
type apiFunc func(r *http.Request) (interface{}, *APIError)

// route binds a method and path to a handler
type route struct {
	method  string
	path    string
	handler http.HandlerFunc
}

func newAPIError(status int, code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

// serveJSON adapts an apiFunc to net/http
func (h *Handler) serveJSON(fn apiFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, apiErr := fn(r)
		if apiErr != nil {
			if apiErr.Status >= http.StatusInternalServerError {
				h.logger.Error("Request failed",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("code", apiErr.Code),
					zap.String("message", apiErr.Message))
			} else {
				h.logger.Debug("Request rejected",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("code", apiErr.Code))
			}
			h.writeJSON(w, apiErr.Status, errorBody{
				Error:   apiErr.Code,
				Message: apiErr.Message,
				Errors:  apiErr.Details,
			})
			return
		}
		h.writeJSON(w, http.StatusOK, payload)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// RegisterRoutes mounts the health check at the root and the designer API
// under basePath
func (h *Handler) RegisterRoutes(r *mux.Router, basePath string) {
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)

	// Routes are registered on the root router with their full path so
	// method mismatches reach MethodNotAllowedHandler
	for _, rt := range h.routes() {
		r.HandleFunc(basePath+rt.path, rt.handler).Methods(rt.method)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		h.writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		h.writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method_not_allowed"})
	})
}

func (h *Handler) routes() []route {
	return []route{
		{http.MethodGet, "/layout", h.serveJSON(h.getLayout)},
		{http.MethodPost, "/layout", h.serveJSON(h.saveLayout)},
		{http.MethodGet, "/snippet", h.exportSnippet},
		{http.MethodPost, "/import_snippet", h.serveJSON(h.importSnippet)},
		{http.MethodGet, "/entities", h.serveJSON(h.listEntities)},
		{http.MethodGet, "/test", h.serveJSON(h.test)},
		{http.MethodGet, "/simulator/check", h.serveJSON(h.simulatorCheck)},
		{http.MethodPost, "/simulator/start", h.serveJSON(h.simulatorStart)},
		{http.MethodPost, "/simulator/stop", h.serveJSON(h.simulatorStop)},
		{http.MethodGet, "/simulator/status", h.serveJSON(h.simulatorStatus)},
	}
}
