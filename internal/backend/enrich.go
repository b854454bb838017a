package backend

import (
	"context"
	"log/slog"

	"shuttle-sim/internal/logging"
	"shuttle-sim/internal/shuttle"
)

// DefaultStopLabel is shown when a stop's name cannot be resolved.
const DefaultStopLabel = "Bus Stop"

// StopLabels returns one display label per stop. Names are optional: cache
// and backend failures fall back to DefaultStopLabel and are only logged.
func (c *Client) StopLabels(ctx context.Context, stops []shuttle.Coordinate) []string {
	labels := make([]string, len(stops))
	if len(stops) == 0 {
		return labels
	}
	keys := make([]string, len(stops))
	for i, s := range stops {
		keys[i] = shuttle.StopKey(s)
	}

	names := shuttle.StopNames{}
	var missing []shuttle.Coordinate
	if c.cache != nil {
		cached, err := c.cache.GetStopNames(ctx, keys)
		if err != nil {
			logging.LogWarning(c.logger, "stop name cache lookup failed", err)
			c.countCache("error")
		}
		for k, v := range cached {
			names[k] = v
		}
	}
	for i, k := range keys {
		if _, ok := names[k]; !ok {
			missing = append(missing, stops[i])
		}
	}
	if c.cache != nil {
		if len(missing) == 0 {
			c.countCache("hit")
		} else {
			c.countCache("miss")
		}
	}

	if len(missing) > 0 {
		resolved, err := c.StopNames(ctx, missing)
		if err != nil {
			logging.LogWarning(c.logger, "stop name lookup failed", err, slog.Int("stops", len(missing)))
		} else {
			for k, v := range resolved {
				names[k] = v
			}
			if c.cache != nil && len(resolved) > 0 {
				if err := c.cache.SetStopNames(ctx, resolved); err != nil {
					logging.LogWarning(c.logger, "stop name cache store failed", err)
				}
			}
		}
	}

	for i, k := range keys {
		if n, ok := names[k]; ok && n != "" {
			labels[i] = n
		} else {
			labels[i] = DefaultStopLabel
		}
	}
	return labels
}

// WalkingPath returns the walking route between two points, or the
// straight line between them when directions are unavailable.
func (c *Client) WalkingPath(ctx context.Context, origin, dest shuttle.Coordinate) shuttle.WalkingRoute {
	wr, err := c.WalkingRoute(ctx, origin.Lat, origin.Lon, dest.Lat, dest.Lon)
	if err != nil || len(wr.Coordinates) == 0 {
		if err != nil {
			logging.LogWarning(c.logger, "walking route lookup failed", err)
		}
		return shuttle.WalkingRoute{Coordinates: []shuttle.Coordinate{origin, dest}}
	}
	return wr
}

func (c *Client) countCache(result string) {
	if c.metrics != nil {
		c.metrics.StopNameCache.WithLabelValues(result).Inc()
	}
}
