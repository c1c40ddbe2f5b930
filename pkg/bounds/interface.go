// Package bounds persists the effective histogram value range per
// measurement and series, so repeated aggregation runs keep stable bin
// boundaries even when one run's observations spill past the configured
// range.
package bounds

// Range is an inclusive value range.
type Range struct {
	Min float64
	Max float64
}

// Union widens the range to cover other.
func (r Range) Union(other Range) Range {
	if other.Min < r.Min {
		r.Min = other.Min
	}
	if other.Max > r.Max {
		r.Max = other.Max
	}
	return r
}

// Store remembers ranges per (type, measurement key, series name).
// Implementations: memory (testing, default), badger (persistent).
type Store interface {
	// Get returns the stored range, if any.
	Get(typeName, key, series string) (Range, bool, error)

	// Put stores the range, replacing any previous one.
	Put(typeName, key, series string, r Range) error

	// Close cleanly shuts down the store.
	Close() error
}
