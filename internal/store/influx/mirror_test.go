package influx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/smartbin/internal/transform"
)

func TestReadingToPoint(t *testing.T) {
	at := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	p := ReadingToPoint(transform.Default().TransformAt(17.5, at))

	line := write.PointToLineProtocol(p, time.Second)

	require.True(t, strings.HasPrefix(line, "bin_reading,status=HALF_FULL "), line)
	require.Contains(t, line, "capacity=50i")
	require.Contains(t, line, "distance=17.5")
	require.Contains(t, line, "device_online=true")
	require.Contains(t, line, "1775030400")
}

func TestMirror_WritesToServer(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/write" {
			b, _ := io.ReadAll(r.Body)
			mu.Lock()
			bodies = append(bodies, string(b))
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := New(Config{URL: srv.URL, Token: "token", Org: "org", Bucket: "bins", BatchSize: 1})
	_, err := m.Append(context.Background(), transform.Default().Transform(10))
	require.NoError(t, err)
	require.Equal(t, int64(1), m.Written())
	m.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bodies) > 0 && strings.Contains(bodies[0], "bin_reading")
	}, 5*time.Second, 20*time.Millisecond)
	require.Greater(t, m.LastErrorAge(), time.Hour)
}
