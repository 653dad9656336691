// Package query serves the HTTP surface of the monitor: history and
// statistics from the store, the live status, and the test injection entry.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/LeonardoBeccarini/smartbin/internal/liveness"
	"github.com/LeonardoBeccarini/smartbin/internal/model"
	"github.com/LeonardoBeccarini/smartbin/internal/services/broadcast"
	"github.com/LeonardoBeccarini/smartbin/internal/store"
)

// Hub is what the handlers need from the broadcast hub.
type Hub interface {
	Reconcile(ctx context.Context) (model.Reading, string, bool)
	Inject(ctx context.Context, distance float64) (model.Reading, error)
	Count() int
}

type Broker interface {
	Connected() bool
}

// Mirror is the optional Influx mirror, consulted by /healthz.
type Mirror interface {
	LastErrorAge() time.Duration
}

type Deps struct {
	Store    store.Store
	Hub      Hub
	Broker   Broker
	Watchdog *liveness.Watchdog
	Mirror   Mirror // nil when disabled
	Socket   http.Handler

	Channels     []string
	CORSOrigin   string
	DefaultDays  int
	QueryTimeout time.Duration
}

type api struct {
	Deps
}

// NewHTTPMux wires every route behind the CORS middleware.
func NewHTTPMux(d Deps) http.Handler {
	if d.QueryTimeout <= 0 {
		d.QueryTimeout = 10 * time.Second
	}
	a := &api{Deps: d}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", a.banner)
	mux.HandleFunc("GET /api/status", a.status)
	mux.HandleFunc("POST /api/test/sensor", a.testSensor)
	mux.HandleFunc("GET /api/history", a.history)
	mux.HandleFunc("GET /api/history/stats", a.statistics)
	mux.HandleFunc("GET /api/history/latest", a.latest)
	mux.HandleFunc("GET /api/history/daily", a.daily)
	mux.HandleFunc("GET /healthz", a.healthz)
	mux.HandleFunc("GET /readyz", a.readyz)
	mux.Handle("GET /metrics", promhttp.Handler())
	if d.Socket != nil {
		mux.Handle("GET /ws", d.Socket)
	}
	return withCORS(d.CORSOrigin, mux)
}

func (a *api) banner(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Smart bin monitoring server",
		"status":  "online",
		"mqtt": map[string]any{
			"connected": a.Broker.Connected(),
			"topics":    a.Channels,
		},
		"clients": a.Hub.Count(),
	})
}

// dataSource names the reconciliation source the way clients expect it.
func dataSource(source string) string {
	switch source {
	case broadcast.SourceStore:
		return "database"
	case broadcast.SourceCache:
		return "memory"
	default:
		return "none"
	}
}

type deviceStatus struct {
	State    liveness.State `json:"state"`
	Online   bool           `json:"online"`
	LastSeen *time.Time     `json:"lastSeen"`
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.QueryTimeout)
	defer cancel()

	var latest *model.Reading
	reading, source, ok := a.Hub.Reconcile(ctx)
	if ok {
		if a.Watchdog != nil {
			reading.DeviceOnline = a.Watchdog.DeviceOnline(reading.DeviceOnline)
		}
		latest = &reading
	}

	body := map[string]any{
		"latestData": latest,
		"mqtt": map[string]any{
			"connected": a.Broker.Connected(),
			"channels":  a.Channels,
		},
		"connectedClients": a.Hub.Count(),
		"dataSource":       dataSource(source),
	}
	if a.Watchdog != nil {
		dev := deviceStatus{State: a.Watchdog.State(), Online: a.Watchdog.DeviceOnline(true)}
		if seen := a.Watchdog.LastSeen(); !seen.IsZero() {
			dev.LastSeen = &seen
		}
		body["device"] = dev
	}
	w.Header().Set("X-Data-Source", dataSource(source))
	writeJSON(w, http.StatusOK, body)
}

func (a *api) testSensor(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Distance *float64 `json:"distance"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Body must be a JSON object with a numeric distance"})
		return
	}
	if in.Distance == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Distance is required"})
		return
	}

	reading, err := a.Hub.Inject(r.Context(), *in.Distance)
	if errors.Is(err, broadcast.ErrNoRouter) {
		writeError(w, http.StatusServiceUnavailable, "Pipeline not ready", err)
		return
	}
	body := map[string]any{"message": "Test data sent", "data": reading}
	if err != nil {
		// the reading was broadcast; only a sink after it failed
		log.Warn().Err(err).Msg("test reading partially delivered")
		body["warning"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *api) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hq := model.HistoryQuery{
		Status:    model.Status(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
		Window:    parseWindow(r),
		Limit:     intParam(q.Get("limit"), model.DefaultHistoryLimit),
		Offset:    intParam(q.Get("offset"), 0),
		SortBy:    strings.TrimSpace(q.Get("sortBy")),
		SortOrder: q.Get("sortOrder"),
	}.Normalize()

	ctx, cancel := context.WithTimeout(r.Context(), a.QueryTimeout)
	defer cancel()
	rows, total, err := a.Store.QueryHistory(ctx, hq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch history data", err)
		return
	}
	if rows == nil {
		rows = []model.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    rows,
		"pagination": map[string]any{
			"total":   total,
			"limit":   hq.Limit,
			"offset":  hq.Offset,
			"hasMore": model.HasMore(hq.Offset, hq.Limit, total),
		},
	})
}

func (a *api) statistics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.QueryTimeout)
	defer cancel()
	st, err := a.Store.QueryStatistics(ctx, parseWindow(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "statistics": st})
}

func (a *api) latest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.QueryTimeout)
	defer cancel()
	rec, err := a.Store.Latest(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch latest data", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": rec})
}

func (a *api) daily(w http.ResponseWriter, r *http.Request) {
	days := clamp(intParam(r.URL.Query().Get("days"), a.DefaultDays), 1, 366)

	ctx, cancel := context.WithTimeout(r.Context(), a.QueryTimeout)
	defer cancel()
	out, err := a.Store.QueryDailyAggregates(ctx, parseWindow(r), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch daily aggregates", err)
		return
	}
	if out == nil {
		out = []model.DailyAggregate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "days": out})
}

func parseWindow(r *http.Request) model.DateWindow {
	q := r.URL.Query()
	var w model.DateWindow
	if t, ok := model.ParseDateBound(q.Get("startDate"), false); ok {
		w.Start = t
	}
	if t, ok := model.ParseDateBound(q.Get("endDate"), true); ok {
		w.End = t
	}
	return w
}

// intParam falls back to def on anything that is not an integer.
func intParam(raw string, def int) int {
	if v := strings.TrimSpace(raw); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string, err error) {
	log.Error().Err(err).Int("code", code).Msg(msg)
	writeJSON(w, code, map[string]any{
		"success": false,
		"error":   msg,
		"message": err.Error(),
	})
}
