package query

import (
	"context"
	"net/http"
	"time"
)

const mirrorErrorGrace = 30 * time.Second

// healthz reports per-dependency state; it answers 200 even when degraded.
func (a *api) healthz(w http.ResponseWriter, r *http.Request) {
	type status struct {
		Status          string   `json:"status"`
		MQTTConnected   bool     `json:"mqtt_connected"`
		StoreOK         bool     `json:"store_ok"`
		Observers       int      `json:"observers"`
		MirrorErrorAgeS *float64 `json:"mirror_last_error_age_sec,omitempty"`
	}
	st := status{
		MQTTConnected: a.Broker.Connected(),
		StoreOK:       a.pingStore(r.Context()),
		Observers:     a.Hub.Count(),
	}
	mirrorOK := true
	if a.Mirror != nil {
		age := a.Mirror.LastErrorAge()
		secs := age.Seconds()
		st.MirrorErrorAgeS = &secs
		mirrorOK = age > mirrorErrorGrace
	}

	switch {
	case st.MQTTConnected && st.StoreOK && mirrorOK:
		st.Status = "ok"
	case st.StoreOK:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	writeJSON(w, http.StatusOK, st)
}

// readyz is 200 only while the store answers. The broker is not required:
// the pipeline keeps serving history and test injection without it.
func (a *api) readyz(w http.ResponseWriter, r *http.Request) {
	ready := a.pingStore(r.Context())
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]bool{"ready": ready})
}

func (a *api) pingStore(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return a.Store.Ping(ctx) == nil
}
