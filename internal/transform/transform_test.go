package transform

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/smartbin/internal/model"
)

func TestNew_RejectsInvertedGeometry(t *testing.T) {
	_, err := New(5, 30)
	require.Error(t, err)

	_, err = New(10, 10)
	require.Error(t, err)

	_, err = New(math.Inf(1), 5)
	require.Error(t, err)
}

func TestTransform_Examples(t *testing.T) {
	tr, err := New(30, 5)
	require.NoError(t, err)

	tests := []struct {
		distance float64
		capacity int
		status   model.Status
	}{
		{2, 100, model.StatusFull},
		{5, 100, model.StatusFull},
		{30, 0, model.StatusAvailable},
		{17.5, 50, model.StatusHalfFull},
		{10, 80, model.StatusNearlyFull},
		{45, 0, model.StatusAvailable},
		{-3, 100, model.StatusFull},
		{0, 100, model.StatusFull},
	}
	for _, tt := range tests {
		r := tr.Transform(tt.distance)
		require.Equal(t, tt.capacity, r.Capacity, "distance %v", tt.distance)
		require.Equal(t, tt.status, r.Status, "distance %v", tt.distance)
		require.True(t, r.DeviceOnline)
	}
}

func TestTransform_RoundsDistance(t *testing.T) {
	r := Default().Transform(17.46)
	require.Equal(t, 17.5, r.Distance)
}

func TestTransform_TotalOverAnyFloat(t *testing.T) {
	tr := Default()
	inputs := []float64{
		math.NaN(), math.Inf(1), math.Inf(-1), math.MaxFloat64, -math.MaxFloat64,
		math.SmallestNonzeroFloat64, -0.0, 1e12, -1e12,
	}
	for _, d := range inputs {
		require.NotPanics(t, func() {
			r := tr.Transform(d)
			require.GreaterOrEqual(t, r.Capacity, 0)
			require.LessOrEqual(t, r.Capacity, 100)
			require.False(t, math.IsNaN(r.Distance))
			require.False(t, math.IsInf(r.Distance, 0))
		}, "distance %v", d)
	}
}

func TestTransform_MonotonicBetweenThresholds(t *testing.T) {
	tr := Default()
	prev := 101
	for d := 5.0; d <= 30.0; d += 0.1 {
		c := tr.Transform(d).Capacity
		require.LessOrEqual(t, c, prev, "capacity increased at distance %.1f", d)
		prev = c
	}
}

func TestTransform_Deterministic(t *testing.T) {
	tr := Default()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	a := tr.TransformAt(12.34, at)
	b := tr.TransformAt(12.34, at)
	require.Equal(t, a, b)
}

func TestTransformAt_UsesGivenInstantInUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	at := time.Date(2026, 5, 1, 13, 0, 0, 0, loc)

	r := Default().TransformAt(20, at)

	require.Equal(t, time.UTC, r.Timestamp.Location())
	require.True(t, at.Equal(r.Timestamp))
}
