package handlers

import (
	"errors"
	"net/http"

	"github.com/koios/esphome-designer/internal/simulator"
)

// simulatorError reports simulator failures the way the editor expects them:
// the human-readable text is the error value itself.
func simulatorError(status int, message string) *APIError {
	return &APIError{Status: status, Code: message}
}

// simulatorCheck handles GET /simulator/check
func (h *Handler) simulatorCheck(r *http.Request) (interface{}, *APIError) {
	return h.simulator.Check(r.Context()), nil
}

// simulatorStart handles POST /simulator/start
func (h *Handler) simulatorStart(r *http.Request) (interface{}, *APIError) {
	var req simulatorStartRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		return nil, apiErr
	}

	info, err := h.simulator.Start(r.Context(), req.YAML)
	if err != nil {
		var compileErr *simulator.CompileError
		switch {
		case errors.Is(err, simulator.ErrNoYAML):
			return nil, simulatorError(http.StatusBadRequest, "No YAML content provided")
		case errors.Is(err, simulator.ErrESPHomeMissing):
			return nil, simulatorError(http.StatusInternalServerError, "ESPHome CLI not installed. Run: pip install esphome")
		case errors.As(err, &compileErr) && compileErr.Timeout > 0:
			return nil, simulatorError(http.StatusInternalServerError, "Compilation timed out after "+compileErr.Timeout.String())
		case errors.As(err, &compileErr):
			return nil, simulatorError(http.StatusInternalServerError, "Compilation failed: "+compileErr.Output)
		default:
			return nil, simulatorError(http.StatusInternalServerError, "Failed to start simulator: "+err.Error())
		}
	}

	return map[string]interface{}{
		"success":    true,
		"process_id": info.ProcessID,
		"pid":        info.PID,
		"yaml_path":  info.YAMLPath,
	}, nil
}

// simulatorStop handles POST /simulator/stop
func (h *Handler) simulatorStop(r *http.Request) (interface{}, *APIError) {
	var req simulatorStopRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		return nil, apiErr
	}

	if err := h.simulator.Stop(r.Context(), req.ProcessID); err != nil {
		switch {
		case errors.Is(err, simulator.ErrNotFound):
			return nil, simulatorError(http.StatusNotFound, "Process not found")
		case errors.Is(err, simulator.ErrIllegalTransition):
			return nil, simulatorError(http.StatusConflict, "Process is not running")
		default:
			return nil, simulatorError(http.StatusInternalServerError, err.Error())
		}
	}
	return map[string]interface{}{"success": true}, nil
}

// simulatorStatus handles GET /simulator/status
func (h *Handler) simulatorStatus(r *http.Request) (interface{}, *APIError) {
	running := h.simulator.Status()
	return map[string]interface{}{
		"running": running,
		"count":   len(running),
	}, nil
}
