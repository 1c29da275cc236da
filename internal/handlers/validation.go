package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// importRequest is the body of POST /import_snippet
type importRequest struct {
	YAML interface{} `json:"yaml"`
}

// text returns the snippet, rejecting missing, non-string and blank values
func (req importRequest) text() (string, *APIError) {
	s, ok := req.YAML.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", newAPIError(http.StatusBadRequest, "missing_yaml", "Request body must contain a non-empty \"yaml\" string.")
	}
	return s, nil
}

// simulatorStartRequest is the body of POST /simulator/start
type simulatorStartRequest struct {
	YAML string `json:"yaml"`
}

// simulatorStopRequest is the body of POST /simulator/stop
type simulatorStopRequest struct {
	ProcessID string `json:"process_id"`
}

// decodeJSON reads a single JSON value from the request body into v
func decodeJSON(r *http.Request, v interface{}) *APIError {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return newAPIError(http.StatusRequestEntityTooLarge, "body_too_large", "Request body is too large.")
		}
		return newAPIError(http.StatusBadRequest, "invalid_json", "Request body is not valid JSON.")
	}
	if _, err := dec.Token(); err != io.EOF {
		return newAPIError(http.StatusBadRequest, "invalid_json", "Request body must contain a single JSON value.")
	}
	return nil
}
