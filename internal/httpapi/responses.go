package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"shuttle-sim/internal/backend"
	"shuttle-sim/internal/logging"
)

type errorBody struct {
	Code int    `json:"code"`
	Text string `json:"text"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, text string) {
	s.writeJSON(w, status, errorBody{Code: status, Text: text})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.errorResponse(w, http.StatusNotFound, "resource not found")
}

func (s *Server) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	logging.LogError(logging.FromContext(r.Context()), "request failed", err)
	s.errorResponse(w, http.StatusInternalServerError, "internal server error")
}

// backendErrorResponse passes a backend 404 through and reports anything
// else as 502.
func (s *Server) backendErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		s.errorResponse(w, http.StatusNotFound, "resource not found")
		return
	}
	logging.LogWarning(logging.FromContext(r.Context()), "backend request failed", err)
	s.errorResponse(w, http.StatusBadGateway, "backend unavailable")
}

func intParam(r *http.Request, name string) (int, error) {
	return strconv.Atoi(httprouter.ParamsFromContext(r.Context()).ByName(name))
}

// intQuery parses an optional query integer, returning def when absent.
func intQuery(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
