package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pumpshort/internal/domain"
)

func TestVariantIdentity(t *testing.T) {
	tests := []struct {
		name   string
		def    string
		params map[string]float64
		want   string
	}{
		{
			name:   "defaults applied",
			def:    "pump_magnitude_pct",
			params: nil,
			want:   "pump_magnitude_pct(window_sec=30)",
		},
		{
			name:   "explicit params normalized alphabetically",
			def:    "volume_surge_ratio",
			params: map[string]float64{"window_sec": 30, "baseline_sec": 300},
			want:   "volume_surge_ratio(baseline_sec=300,window_sec=30)",
		},
		{
			name:   "no params",
			def:    "bid_ask_spread_pct",
			params: nil,
			want:   "bid_ask_spread_pct()",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry(Builtins())
			v, err := reg.Instantiate(tt.def, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.ID())
		})
	}
}

func TestVariantValidation(t *testing.T) {
	reg := NewRegistry(Builtins())

	_, err := reg.Instantiate("pump_magnitude_pct", map[string]float64{"window_sec": 0})
	require.ErrorIs(t, err, domain.ErrInvalidCondition, "out-of-range parameter")

	_, err = reg.Instantiate("pump_magnitude_pct", map[string]float64{"no_such": 5})
	require.ErrorIs(t, err, domain.ErrInvalidCondition, "undeclared parameter")

	_, err = reg.Instantiate("no_such_indicator", nil)
	require.ErrorIs(t, err, domain.ErrUnknownVariant)
}

func TestRegistryDuplicateIdentity(t *testing.T) {
	reg := NewRegistry(Builtins())

	_, err := reg.Instantiate("pump_magnitude_pct", map[string]float64{"window_sec": 30})
	require.NoError(t, err)

	// Same identity again: Instantiate fails, Ensure returns the existing one.
	_, err = reg.Instantiate("pump_magnitude_pct", map[string]float64{"window_sec": 30})
	require.ErrorIs(t, err, domain.ErrDuplicateVariant)

	v, err := reg.Ensure("pump_magnitude_pct", map[string]float64{"window_sec": 30})
	require.NoError(t, err)
	assert.Equal(t, "pump_magnitude_pct(window_sec=30)", v.ID())

	// Different parameters are a distinct variant.
	v2, err := reg.Instantiate("pump_magnitude_pct", map[string]float64{"window_sec": 60})
	require.NoError(t, err)
	assert.NotEqual(t, v.ID(), v2.ID())
	assert.Len(t, reg.Variants(), 2)
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry(Builtins())
	v, err := reg.Instantiate("volatility", nil)
	require.NoError(t, err)

	got, err := reg.Get(v.ID())
	require.NoError(t, err)
	assert.Same(t, v, got)

	assert.True(t, reg.Has(v.ID()))
	assert.False(t, reg.Has("volatility(window_sec=999)"))

	_, err = reg.Get("volatility(window_sec=999)")
	require.ErrorIs(t, err, domain.ErrUnknownVariant)
}
