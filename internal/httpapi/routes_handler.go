package httpapi

import (
	"net/http"
	"strconv"

	"github.com/twpayne/go-polyline"

	"shuttle-sim/internal/shuttle"
)

type routeOverview struct {
	ClusterID     int     `json:"cluster_id"`
	DistanceKm    float64 `json:"distance_km"`
	DurationMin   float64 `json:"duration_min"`
	StopCount     int     `json:"stop_count"`
	EmployeeCount int     `json:"employee_count"`
	Optimized     bool    `json:"optimized"`
	HasRouteData  bool    `json:"has_route_data"`
	Polyline      string  `json:"polyline"`
}

func newRouteOverview(r shuttle.Route) routeOverview {
	return routeOverview{
		ClusterID:     r.ClusterID,
		DistanceKm:    r.DistanceKm,
		DurationMin:   r.DurationMin,
		StopCount:     len(r.ScheduledStops()),
		EmployeeCount: r.EmployeeCount,
		Optimized:     r.Optimized,
		HasRouteData:  r.HasRouteData(),
		Polyline:      encodePolyline(r.Coordinates),
	}
}

func encodePolyline(cs []shuttle.Coordinate) string {
	if len(cs) == 0 {
		return ""
	}
	return string(polyline.EncodeCoords(shuttle.Pairs(cs)))
}

func (s *Server) routesHandler(w http.ResponseWriter, r *http.Request) {
	routes, err := s.backend.Routes(r.Context())
	if err != nil {
		s.backendErrorResponse(w, r, err)
		return
	}
	list := make([]routeOverview, 0, len(routes))
	for _, rt := range routes {
		list = append(list, newRouteOverview(rt))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"routes": list})
}

type routeDetail struct {
	routeOverview
	Stops     []shuttle.Coordinate `json:"stops"`
	StopNames []string             `json:"stop_names"`
}

func (s *Server) routeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "id")
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid route id")
		return
	}
	rt, err := s.backend.Route(r.Context(), id)
	if err != nil {
		s.backendErrorResponse(w, r, err)
		return
	}
	stops := rt.ScheduledStops()
	if stops == nil {
		stops = []shuttle.Coordinate{}
	}
	s.writeJSON(w, http.StatusOK, routeDetail{
		routeOverview: newRouteOverview(rt),
		Stops:         stops,
		StopNames:     s.backend.StopLabels(r.Context(), stops),
	})
}

func (s *Server) vehiclesHandler(w http.ResponseWriter, r *http.Request) {
	vehicles, err := s.backend.Vehicles(r.Context())
	if err != nil {
		s.backendErrorResponse(w, r, err)
		return
	}
	if vehicles == nil {
		vehicles = []shuttle.Vehicle{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"vehicles": vehicles})
}

func (s *Server) employeesHandler(w http.ResponseWriter, r *http.Request) {
	employees, err := s.backend.Employees(r.Context())
	if err != nil {
		s.backendErrorResponse(w, r, err)
		return
	}
	if employees == nil {
		employees = []shuttle.Employee{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"employees": employees})
}

func (s *Server) employeeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "id")
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid employee id")
		return
	}
	e, err := s.backend.Employee(r.Context(), id)
	if err != nil {
		s.backendErrorResponse(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, e)
}

func (s *Server) clusterHandler(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "id")
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid cluster id")
		return
	}
	c, err := s.backend.Cluster(r.Context(), id)
	if err != nil {
		s.backendErrorResponse(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

// walkingRouteHandler always answers; the backend path falls back to a
// straight line.
func (s *Server) walkingRouteHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var vals [4]float64
	for i, name := range []string{"origin_lat", "origin_lon", "dest_lat", "dest_lon"} {
		v, err := strconv.ParseFloat(q.Get(name), 64)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid "+name)
			return
		}
		vals[i] = v
	}
	origin := shuttle.Coordinate{Lat: vals[0], Lon: vals[1]}
	dest := shuttle.Coordinate{Lat: vals[2], Lon: vals[3]}
	s.writeJSON(w, http.StatusOK, s.backend.WalkingPath(r.Context(), origin, dest))
}

func (s *Server) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"days":  shuttle.WeeklySchedule,
		"today": shuttle.TodayIndex(s.now().In(s.loc)),
	})
}
