package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusFor_Boundaries(t *testing.T) {
	tests := []struct {
		capacity int
		want     Status
	}{
		{0, StatusAvailable},
		{49, StatusAvailable},
		{50, StatusHalfFull},
		{79, StatusHalfFull},
		{80, StatusNearlyFull},
		{99, StatusNearlyFull},
		{100, StatusFull},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, StatusFor(tt.capacity), "capacity %d", tt.capacity)
	}
}

func TestHistoryQuery_Normalize(t *testing.T) {
	q := HistoryQuery{SortBy: "id; DROP TABLE sensor_data", SortOrder: "sideways", Limit: -1, Offset: -5, Status: "all"}.Normalize()

	require.Equal(t, SortByCreatedAt, q.SortBy)
	require.Equal(t, SortDesc, q.SortOrder)
	require.Equal(t, DefaultHistoryLimit, q.Limit)
	require.Equal(t, 0, q.Offset)
	require.Equal(t, Status(""), q.Status)

	q = HistoryQuery{SortBy: SortByCapacity, SortOrder: "asc", Limit: 5000}.Normalize()
	require.Equal(t, SortByCapacity, q.SortBy)
	require.Equal(t, SortAsc, q.SortOrder)
	require.Equal(t, MaxHistoryLimit, q.Limit)
}

func TestHasMore(t *testing.T) {
	require.True(t, HasMore(0, 10, 11))
	require.False(t, HasMore(0, 10, 10))
	require.False(t, HasMore(20, 10, 5))
}

func TestParseDateBound(t *testing.T) {
	start, ok := ParseDateBound("2026-03-01", false)
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *start)

	end, ok := ParseDateBound("2026-03-01", true)
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 3, 1, 23, 59, 59, int(999*time.Millisecond), time.UTC), *end)

	exact, ok := ParseDateBound("2026-03-01T10:00:00+02:00", false)
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), *exact)

	_, ok = ParseDateBound("yesterday", false)
	require.False(t, ok)
}

func TestRecord_Reading(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := Record{ID: 9, Distance: 12.5, Capacity: 70, Status: StatusHalfFull, DeviceOnline: true, CreatedAt: at}.Reading()

	require.Equal(t, Reading{Distance: 12.5, Capacity: 70, Status: StatusHalfFull, Timestamp: at, DeviceOnline: true}, r)
}
