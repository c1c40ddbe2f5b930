package stats

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyagg/pkg/bounds"
	"github.com/nicktill/tinyagg/pkg/request"
)

func TestBuildHistogramBasic(t *testing.T) {
	spec := request.HistogramSpec{Name: "bits", Resolution: 10}
	h := BuildHistogram([]float64{5, 15, 95}, spec, bounds.Range{Min: 0, Max: 100})

	require.NotNil(t, h)
	require.Equal(t, 10, h.NumBins)
	require.Equal(t, 10.0, h.BinSize)
	require.Equal(t, 0.0, h.Min)
	require.Equal(t, 100.0, h.Max)
	require.Equal(t, 3, h.Total)
	require.Equal(t, []int{1, 1, 0, 0, 0, 0, 0, 0, 0, 1}, h.Bins)
}

func TestBuildHistogramClipsEdges(t *testing.T) {
	spec := request.HistogramSpec{Name: "bits", Resolution: 4}
	h := BuildHistogram([]float64{-50, 0, 100, 150}, spec, bounds.Range{Min: 0, Max: 100})

	require.NotNil(t, h)
	// Out-of-range values land in the nearest edge bin; the top boundary
	// value lands in the last bin.
	require.Equal(t, []int{2, 0, 0, 2}, h.Bins)
	require.Equal(t, 4, h.Total)
}

func TestBuildHistogramMinWidthShrinksBinCount(t *testing.T) {
	spec := request.HistogramSpec{Name: "bits", Resolution: 100, MinWidth: 2}
	h := BuildHistogram([]float64{1, 9}, spec, bounds.Range{Min: 0, Max: 10})

	require.NotNil(t, h)
	require.Equal(t, 5, h.NumBins)
	require.Equal(t, 2.0, h.BinSize)
}

func TestBuildHistogramResolutionCapsWidthGrowth(t *testing.T) {
	// The minimum width would demand 500 bins; the resolution caps the
	// count at 10 and the width grows instead.
	spec := request.HistogramSpec{Name: "bits", Resolution: 10, MinWidth: 2}
	h := BuildHistogram([]float64{1, 999}, spec, bounds.Range{Min: 0, Max: 1000})

	require.NotNil(t, h)
	require.Equal(t, 10, h.NumBins)
	require.Equal(t, 100.0, h.BinSize)
	require.GreaterOrEqual(t, h.BinSize, spec.MinWidth)
}

func TestBuildHistogramFractionalWidth(t *testing.T) {
	spec := request.HistogramSpec{Name: "load", Resolution: 4, MinWidth: 0.3}
	h := BuildHistogram([]float64{0.1, 0.95}, spec, bounds.Range{Min: 0, Max: 1})

	require.NotNil(t, h)
	require.Equal(t, 4, h.NumBins)
	require.InDelta(t, 0.3, h.BinSize, 1e-9)
	// The grid top edge may overshoot the range, never undershoot it.
	require.GreaterOrEqual(t, h.Max, 1.0)
}

func TestBuildHistogramDegenerate(t *testing.T) {
	require.Nil(t, BuildHistogram([]float64{1}, request.HistogramSpec{Resolution: 10}, bounds.Range{Min: 5, Max: 5}))
	require.Nil(t, BuildHistogram([]float64{1}, request.HistogramSpec{Resolution: 0}, bounds.Range{Min: 0, Max: 10}))
}

func TestBuildHistogramInvariants(t *testing.T) {
	specs := []request.HistogramSpec{
		{Resolution: 1},
		{Resolution: 7, MinWidth: 0.1},
		{Resolution: 50, MinWidth: 3},
		{Resolution: 256},
	}
	ranges := []bounds.Range{
		{Min: 0, Max: 1},
		{Min: -100, Max: 100},
		{Min: 0.2, Max: 0.9},
		{Min: -1e6, Max: 1e6},
	}
	values := []float64{-1e7, -50, -0.5, 0, 0.25, 0.5, 1, 99, 1e7}

	for _, spec := range specs {
		for _, rng := range ranges {
			h := BuildHistogram(values, spec, rng)
			require.NotNil(t, h)

			sum := 0
			for _, count := range h.Bins {
				sum += count
			}
			require.Equal(t, h.Total, sum, "sum(bins) == total")
			require.Equal(t, len(values), h.Total)
			require.LessOrEqual(t, h.NumBins, spec.Resolution)
			require.Len(t, h.Bins, h.NumBins)
			if spec.MinWidth > 0 {
				require.GreaterOrEqual(t, h.BinSize+1e-12, spec.MinWidth)
			}
			require.LessOrEqual(t, h.Min, rng.Min)
			require.GreaterOrEqual(t, h.Max, rng.Max-1e-9)
		}
	}
}
