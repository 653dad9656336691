package sensor_simulator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDistanceGenerator_FillsAndEmpties(t *testing.T) {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	g := NewDistanceGenerator(30, 1, 0, 1)
	g.now = func() time.Time { return now }

	require.Equal(t, 30.0, g.Next())

	now = now.Add(10 * time.Minute)
	require.Equal(t, 20.0, g.Next())

	// past the floor the bin is collected
	now = now.Add(19 * time.Minute)
	require.Equal(t, 30.0, g.Next())

	now = now.Add(5 * time.Minute)
	require.Equal(t, 25.0, g.Next())
	g.Empty()
	require.Equal(t, 30.0, g.Level())
}

func TestDistanceGenerator_JitterBounded(t *testing.T) {
	g := NewDistanceGenerator(30, 0.5, 0.3, 42)
	for i := 0; i < 100; i++ {
		d := g.Next()
		require.GreaterOrEqual(t, d, 0.0)
		require.LessOrEqual(t, d, 30.3)
	}
}
