package domain

import "time"

// IndicatorSnapshot is the full set of currently computed indicator values for
// one symbol at a point in time. It maps an indicator variant identity (the
// variant's canonical "name(p1=v1,...)" string) to its most recent value.
//
// A snapshot is immutable once published: the engine builds a fresh map on
// every tick and swaps it in atomically, so readers see either the old or the
// new snapshot, never a mix. Callers must not mutate Values.
type IndicatorSnapshot struct {
	Symbol string
	// Values holds one entry per variant that had enough window data.
	// Variants with insufficient samples are absent, not zero.
	Values map[string]float64
	// TickTime is the timestamp of the tick that produced this snapshot.
	TickTime time.Time
}

// Value returns the computed value for the given variant identity and whether
// it is present in the snapshot.
func (s *IndicatorSnapshot) Value(variantID string) (float64, bool) {
	if s == nil || s.Values == nil {
		return 0, false
	}
	v, ok := s.Values[variantID]
	return v, ok
}

// Clone returns a deep copy of the snapshot, safe for the caller to retain.
func (s *IndicatorSnapshot) Clone() *IndicatorSnapshot {
	if s == nil {
		return nil
	}
	values := make(map[string]float64, len(s.Values))
	for k, v := range s.Values {
		values[k] = v
	}
	return &IndicatorSnapshot{Symbol: s.Symbol, Values: values, TickTime: s.TickTime}
}
