// Package stats computes per-bucket summary statistics and assembles the
// finished aggregates.
package stats

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/nicktill/tinyagg/pkg/bounds"
	"github.com/nicktill/tinyagg/pkg/bucket"
	"github.com/nicktill/tinyagg/pkg/request"
	"github.com/nicktill/tinyagg/pkg/tsdb"
)

// AggregatedValue summarizes one series within one bucket. Min, max and avg
// are omitted when the bucket holds no defined values for the series.
type AggregatedValue struct {
	Min       *float64   `json:"min,omitempty"`
	Max       *float64   `json:"max,omitempty"`
	Avg       *float64   `json:"avg,omitempty"`
	Histogram *Histogram `json:"histogram,omitempty"`
}

// Aggregate is one finished per-bucket aggregate, ready for publishing.
type Aggregate struct {
	Type     string                     `json:"type"`
	Time     int64                      `json:"time"`
	Interval int64                      `json:"interval"`
	Meta     map[string]string          `json:"meta"`
	Values   map[string]AggregatedValue `json:"values"`
}

// Aggregator turns bucketed query results into finished aggregates.
type Aggregator struct {
	store bounds.Store
	log   zerolog.Logger
}

// NewAggregator creates an aggregator backed by the given bounds store.
func NewAggregator(store bounds.Store, log zerolog.Logger) *Aggregator {
	return &Aggregator{store: store, log: log}
}

// Run produces one aggregate per (measurement key, bucket), in stable
// order: keys in first-seen row order, buckets by ascending start time.
func (a *Aggregator) Run(req *request.AggregationRequest, g *bucket.Grouping) []Aggregate {
	configured := req.BoundsFor()

	var out []Aggregate
	for _, key := range g.Keys {
		starts := make([]int64, 0, len(g.Buckets[key]))
		for start := range g.Buckets[key] {
			starts = append(starts, start)
		}
		sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

		for _, start := range starts {
			perBucket := g.Buckets[key][start]
			values := make(map[string]AggregatedValue, len(perBucket))
			for _, name := range req.SeriesNames() {
				points, ok := perBucket[name]
				if !ok {
					continue
				}
				values[name] = a.aggregateSeries(req, configured, key, name, points)
			}
			out = append(out, Aggregate{
				Type:     req.Type + ".aggregate",
				Time:     start,
				Interval: req.IntervalTo,
				Meta:     g.Meta[key],
				Values:   values,
			})
		}
	}
	return out
}

// aggregateSeries scans one bucket's point list for one series. Null values
// count for nothing; a series of only nulls yields an empty summary.
func (a *Aggregator) aggregateSeries(req *request.AggregationRequest, configured map[string]map[string]request.SeriesBounds, key, name string, points []tsdb.Point) AggregatedValue {
	defined := make([]float64, 0, len(points))
	var sum float64
	for _, p := range points {
		if p.Value == nil {
			continue
		}
		defined = append(defined, *p.Value)
		sum += *p.Value
	}
	if len(defined) == 0 {
		return AggregatedValue{}
	}

	min, max := defined[0], defined[0]
	for _, v := range defined[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	avg := sum / float64(len(defined))
	value := AggregatedValue{Min: &min, Max: &max, Avg: &avg}

	spec, hasSpec := req.HistogramSpecFor(name)
	cfg, hasBounds := configured[key][name]
	if hasSpec && hasBounds && min != max {
		value.Histogram = a.buildHistogram(req.Type, key, name, spec, cfg, defined, min, max)
	}
	return value
}

// buildHistogram reconciles the configured bounds with the stored and
// observed ranges, bins the values, and records the widened range for the
// next run. Store failures degrade to configured+observed bounds.
func (a *Aggregator) buildHistogram(typeName, key, name string, spec request.HistogramSpec, cfg request.SeriesBounds, defined []float64, min, max float64) *Histogram {
	rng := bounds.Range{Min: cfg.Min, Max: cfg.Max}

	stored, found, err := a.store.Get(typeName, key, name)
	if err != nil {
		a.log.Warn().Err(err).Str("key", key).Str("series", name).Msg("bounds lookup failed")
	} else if found {
		rng = rng.Union(stored)
	}
	rng = rng.Union(bounds.Range{Min: min, Max: max})

	if err := a.store.Put(typeName, key, name, rng); err != nil {
		a.log.Warn().Err(err).Str("key", key).Str("series", name).Msg("bounds update failed")
	}

	return BuildHistogram(defined, spec, rng)
}
