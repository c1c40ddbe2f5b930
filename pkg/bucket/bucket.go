// Package bucket groups query result rows into measurement-key x time-bucket
// x series value lists.
package bucket

import (
	"github.com/rs/zerolog"

	"github.com/nicktill/tinyagg/pkg/config"
	"github.com/nicktill/tinyagg/pkg/request"
	"github.com/nicktill/tinyagg/pkg/tsdb"
)

// Start snaps a timestamp down to the start of its containing window:
// floor(t/window)*window, so Start <= t < Start+window.
func Start(t, window int64) int64 {
	return request.AlignDown(t, window)
}

// Grouping is the fully materialized three-level grouping of one query
// result. It exists only for the duration of one aggregation pass.
type Grouping struct {
	// Keys lists the measurement keys in first-seen row order, so the
	// aggregates generated from this grouping come out in a stable order.
	Keys []string

	// Meta maps each measurement key to its non-series field values.
	// First occurrence wins; rows sharing a key carry identical meta.
	Meta map[string]map[string]string

	// Buckets maps key -> bucket start -> series name -> points.
	Buckets map[string]map[int64]map[string][]tsdb.Point
}

// Group buckets all rows of one query result for one request. Every key in
// the result has a meta record; the statistics pass relies on that.
func Group(req *request.AggregationRequest, rows []tsdb.Row, log zerolog.Logger) *Grouping {
	g := &Grouping{
		Meta:    make(map[string]map[string]string),
		Buckets: make(map[string]map[int64]map[string][]tsdb.Point),
	}
	names := req.SeriesNames()

	for _, row := range rows {
		key := req.Key(row.Fields)
		if _, seen := g.Meta[key]; !seen {
			g.Keys = append(g.Keys, key)
			g.Meta[key] = row.Fields
			g.Buckets[key] = make(map[int64]map[string][]tsdb.Point)
			if len(g.Keys) == config.MaxMeasurementKeys+1 {
				log.Warn().
					Str("type", req.Type).
					Int("limit", config.MaxMeasurementKeys).
					Msg("query result exceeds measurement key limit")
			}
		}

		for _, name := range names {
			for _, p := range row.Series[name] {
				start := Start(p.TS, req.IntervalTo)
				perBucket, ok := g.Buckets[key][start]
				if !ok {
					perBucket = make(map[string][]tsdb.Point)
					g.Buckets[key][start] = perBucket
				}
				perBucket[name] = append(perBucket[name], p)
			}
		}
	}
	return g
}
