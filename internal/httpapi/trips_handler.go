package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"shuttle-sim/internal/shuttle"
	"shuttle-sim/internal/sim"
)

// ErrHistoryDisabled is reported when no trip archive is configured.
var ErrHistoryDisabled = errors.New("trip history disabled")

type startTripRequest struct {
	ClusterID int `json:"cluster_id"`
	VehicleID int `json:"vehicle_id"`
}

type tripStatusResponse struct {
	sim.Status
	NextStopName string `json:"next_stop_name,omitempty"`
}

func (s *Server) startTripHandler(w http.ResponseWriter, r *http.Request) {
	var req startTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, running := s.manager.Current(); running {
		s.errorResponse(w, http.StatusConflict, "Trip already in progress")
		return
	}

	ctx := r.Context()
	route, err := s.backend.Route(ctx, req.ClusterID)
	if err != nil {
		s.backendErrorResponse(w, r, err)
		return
	}

	var vehicle shuttle.Vehicle
	if req.VehicleID != 0 {
		vehicles, err := s.backend.Vehicles(ctx)
		if err != nil {
			s.backendErrorResponse(w, r, err)
			return
		}
		found := false
		for _, v := range vehicles {
			if v.ID == req.VehicleID {
				vehicle, found = v, true
				break
			}
		}
		if !found {
			s.errorResponse(w, http.StatusNotFound, "vehicle not found")
			return
		}
	}

	session, err := s.manager.StartTrip(s.baseCtx, route, vehicle, nil)
	switch {
	case errors.Is(err, sim.ErrNoRouteData):
		s.errorResponse(w, http.StatusUnprocessableEntity, "No Route Data")
		return
	case errors.Is(err, sim.ErrTripInProgress):
		s.errorResponse(w, http.StatusConflict, "Trip already in progress")
		return
	case err != nil:
		s.serverErrorResponse(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, s.tripStatus(r, session))
}

func (s *Server) tripStatus(r *http.Request, session *sim.Session) tripStatusResponse {
	st := session.Status()
	resp := tripStatusResponse{Status: st}
	if st.NextStop != nil {
		resp.NextStopName = s.backend.StopLabels(r.Context(), []shuttle.Coordinate{*st.NextStop})[0]
	}
	return resp
}

func (s *Server) currentTripHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := s.manager.Current()
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "No active trip")
		return
	}
	s.writeJSON(w, http.StatusOK, s.tripStatus(r, session))
}

func (s *Server) endTripHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.EndTrip(); err != nil {
		if errors.Is(err, sim.ErrNoActiveTrip) {
			s.errorResponse(w, http.StatusNotFound, "No active trip")
			return
		}
		s.serverErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type boardingRequest struct {
	EmployeeID int `json:"employee_id"`
}

func (s *Server) boardingHandler(w http.ResponseWriter, r *http.Request) {
	var req boardingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EmployeeID <= 0 {
		s.errorResponse(w, http.StatusBadRequest, "employee_id is required")
		return
	}
	session, ok := s.manager.Current()
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "No active trip")
		return
	}
	added, err := session.MarkBoarded(req.EmployeeID)
	if errors.Is(err, sim.ErrNoActiveTrip) {
		s.errorResponse(w, http.StatusNotFound, "No active trip")
		return
	}
	if err != nil {
		s.serverErrorResponse(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"employee_id": req.EmployeeID,
		"added":       added,
		"boarded":     session.Status().Boarded,
	})
}

func (s *Server) tripSummaryHandler(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.manager.LastSummary()
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "no completed trip")
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.errorResponse(w, http.StatusNotFound, ErrHistoryDisabled.Error())
		return
	}
	routeID, err := intQuery(r, "route_id", 0)
	if err != nil || routeID < 0 {
		s.errorResponse(w, http.StatusBadRequest, "invalid route_id")
		return
	}
	limit, err := intQuery(r, "limit", 20)
	if err != nil || limit <= 0 {
		s.errorResponse(w, http.StatusBadRequest, "invalid limit")
		return
	}
	trips, err := s.history.ListTripSummaries(r.Context(), routeID, limit)
	if err != nil {
		s.serverErrorResponse(w, r, err)
		return
	}
	if trips == nil {
		trips = []sim.Summary{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"trips": trips})
}
