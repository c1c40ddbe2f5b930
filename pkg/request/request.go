// Package request defines the inbound aggregation job format and its
// validation rules.
package request

import (
	"fmt"
	"strings"
)

// KeySeparator joins required-meta field values into a measurement key.
// It must never occur inside a field value.
const KeySeparator = "|"

// HistogramSpec configures the histogram built for one value series.
// A resolution of zero means no histogram for that series.
type HistogramSpec struct {
	Name       string  `json:"name"`
	Resolution int     `json:"hist_res"`
	MinWidth   float64 `json:"hist_min_width"`
}

// SeriesBounds carries the long-term configured value range of one series
// within one measurement.
type SeriesBounds struct {
	Name string  `json:"name"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// MetaEntry describes one measurement the request covers: the field values
// identifying it and the configured bounds of its series.
type MetaEntry struct {
	Fields map[string]string `json:"fields"`
	Values []SeriesBounds    `json:"values"`
}

// AggregationRequest is one validated aggregation job. Immutable after
// construction.
type AggregationRequest struct {
	Type         string          `json:"type"`
	IntervalFrom int64           `json:"interval_from"`
	IntervalTo   int64           `json:"interval_to"`
	Start        int64           `json:"start"`
	End          int64           `json:"end"`
	Meta         []MetaEntry     `json:"meta"`
	Values       []HistogramSpec `json:"values"`
	RequiredMeta []string        `json:"required_meta"`
}

// Validate checks that the request is well formed. Requests failing
// validation are dropped by the decoder, not rejected wholesale.
func (r *AggregationRequest) Validate() error {
	if r.Type == "" {
		return fmt.Errorf("missing type")
	}
	if r.IntervalTo <= 0 {
		return fmt.Errorf("interval_to must be positive, got %d", r.IntervalTo)
	}
	if r.End < r.Start {
		return fmt.Errorf("end %d before start %d", r.End, r.Start)
	}
	if len(r.RequiredMeta) == 0 {
		return fmt.Errorf("missing required_meta")
	}
	if len(r.Values) == 0 {
		return fmt.Errorf("missing values")
	}
	for _, v := range r.Values {
		if v.Name == "" {
			return fmt.Errorf("value series with empty name")
		}
	}
	return nil
}

// AlignedStart returns the request start snapped down to a whole
// target-interval boundary. Always <= Start.
func (r *AggregationRequest) AlignedStart() int64 {
	return AlignDown(r.Start, r.IntervalTo)
}

// AlignedEnd returns the request end snapped up to a whole target-interval
// boundary. Always >= End.
func (r *AggregationRequest) AlignedEnd() int64 {
	return AlignUp(r.End, r.IntervalTo)
}

// SeriesNames returns the requested series names in request order.
func (r *AggregationRequest) SeriesNames() []string {
	names := make([]string, 0, len(r.Values))
	for _, v := range r.Values {
		names = append(names, v.Name)
	}
	return names
}

// HistogramSpecFor returns the histogram spec for a series name, or false
// when the series has no usable histogram configuration.
func (r *AggregationRequest) HistogramSpecFor(name string) (HistogramSpec, bool) {
	for _, v := range r.Values {
		if v.Name == name && v.Resolution > 0 {
			return v, true
		}
	}
	return HistogramSpec{}, false
}

// Key computes the canonical measurement key for one row's field values:
// the required-meta values joined in declaration order.
func (r *AggregationRequest) Key(fields map[string]string) string {
	parts := make([]string, 0, len(r.RequiredMeta))
	for _, name := range r.RequiredMeta {
		parts = append(parts, fields[name])
	}
	return strings.Join(parts, KeySeparator)
}

// BoundsFor builds the configured bounds lookup for all measurements the
// request covers: measurement key -> series name -> bounds.
func (r *AggregationRequest) BoundsFor() map[string]map[string]SeriesBounds {
	bounds := make(map[string]map[string]SeriesBounds, len(r.Meta))
	for _, entry := range r.Meta {
		key := r.Key(entry.Fields)
		perSeries, ok := bounds[key]
		if !ok {
			perSeries = make(map[string]SeriesBounds, len(entry.Values))
			bounds[key] = perSeries
		}
		for _, sb := range entry.Values {
			perSeries[sb.Name] = sb
		}
	}
	return bounds
}

// AlignDown snaps t down to a multiple of window. Floor division, so
// negative timestamps snap toward minus infinity.
func AlignDown(t, window int64) int64 {
	q := t / window
	if t%window != 0 && (t < 0) != (window < 0) {
		q--
	}
	return q * window
}

// AlignUp snaps t up to a multiple of window.
func AlignUp(t, window int64) int64 {
	down := AlignDown(t, window)
	if down == t {
		return t
	}
	return down + window
}
