package stats

import (
	"math"

	"github.com/nicktill/tinyagg/pkg/bounds"
	"github.com/nicktill/tinyagg/pkg/request"
)

// Histogram is a fixed-bin frequency distribution of one bucket's values.
// Bins are [lo, hi) intervals of equal width starting at Min; values outside
// the range are clipped into the nearest edge bin.
type Histogram struct {
	Total   int     `json:"total"`
	BinSize float64 `json:"bin_size"`
	NumBins int     `json:"num_bins"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Bins    []int   `json:"bins"`
}

// BuildHistogram bins the values over the effective range. The range must
// already cover the observed values (the aggregator unions configured,
// stored and observed bounds before calling).
//
// Bin allocation keeps two bounds at once: the bin count never exceeds the
// configured resolution, and the bin width never falls below the configured
// minimum. When the minimum width would demand more bins than the
// resolution allows, the width grows instead of the bin count.
func BuildHistogram(values []float64, spec request.HistogramSpec, rng bounds.Range) *Histogram {
	span := rng.Max - rng.Min
	if span <= 0 || spec.Resolution <= 0 {
		return nil
	}

	numBins := spec.Resolution
	width := span / float64(spec.Resolution)
	if spec.MinWidth > 0 {
		wanted := int(math.Ceil(span / spec.MinWidth))
		if wanted < 1 {
			wanted = 1
		}
		if wanted <= spec.Resolution {
			numBins = wanted
			width = spec.MinWidth
		}
		// Otherwise span/resolution already exceeds the minimum width.
	}

	h := &Histogram{
		BinSize: width,
		NumBins: numBins,
		Min:     rng.Min,
		Max:     rng.Min + width*float64(numBins),
		Bins:    make([]int, numBins),
	}

	for _, v := range values {
		idx := int((v - rng.Min) / width)
		if idx < 0 {
			idx = 0
		}
		if idx >= numBins {
			idx = numBins - 1
		}
		h.Bins[idx]++
		h.Total++
	}
	return h
}
