// Package sqlite is the SQLite implementation of store.Store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/LeonardoBeccarini/smartbin/internal/model"
	"github.com/LeonardoBeccarini/smartbin/internal/store"
)

// createdAt is stored as fixed-width UTC text so that string order is time order.
const timeLayout = "2006-01-02T15:04:05.000Z"

const (
	DefaultDays = 7
	MaxDays     = 366
)

const schema = `
CREATE TABLE IF NOT EXISTS sensor_data (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	distance NUMERIC NOT NULL,
	capacity INTEGER NOT NULL,
	status TEXT NOT NULL,
	device_online BOOLEAN NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_status ON sensor_data(status);
CREATE INDEX IF NOT EXISTS idx_created_at ON sensor_data(created_at);
CREATE INDEX IF NOT EXISTS idx_capacity ON sensor_data(capacity);
`

// sortColumns is the allow-list of sortable columns.
var sortColumns = map[string]string{
	model.SortByCreatedAt: "created_at",
	model.SortByCapacity:  "capacity",
	model.SortByStatus:    "status",
}

// Store implements store.Store on a SQLite file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the clock used for default daily windows.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		dsn = "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, store.Wrap("open", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, store.Wrap("ping", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, store.Wrap("schema", fmt.Errorf("failed to create schema: %w", err))
	}

	s := &Store{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Append inserts r and returns its id.
func (s *Store) Append(ctx context.Context, r model.Reading) (int64, error) {
	at := r.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sensor_data (distance, capacity, status, device_online, created_at) VALUES (?, ?, ?, ?, ?)`,
		decimal.NewFromFloat(r.Distance).Round(2), r.Capacity, string(r.Status), r.DeviceOnline, formatTime(at),
	)
	if err != nil {
		return 0, store.Wrap("append", fmt.Errorf("failed to insert reading: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, store.Wrap("append", fmt.Errorf("failed to get insert id: %w", err))
	}
	return id, nil
}

// Latest returns the most recently appended record, or nil when empty.
func (s *Store) Latest(ctx context.Context) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM sensor_data ORDER BY id DESC LIMIT 1`)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Wrap("latest", err)
	}
	return &rec, nil
}

// QueryHistory returns one page of matching records and the total match count.
// Page and count share the same predicate.
func (s *Store) QueryHistory(ctx context.Context, q model.HistoryQuery) ([]model.Record, int, error) {
	q = q.Normalize()
	where, args := predicate(q.Status, q.Window)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sensor_data`+where, args...).Scan(&total); err != nil {
		return nil, 0, store.Wrap("history count", err)
	}

	order := sortColumns[q.SortBy]
	query := fmt.Sprintf("%s FROM sensor_data%s ORDER BY %s %s, id %s LIMIT ? OFFSET ?",
		selectColumns, where, order, q.SortOrder, q.SortOrder)
	rows, err := s.db.QueryContext(ctx, query, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, store.Wrap("history", err)
	}
	defer rows.Close()

	out := make([]model.Record, 0, q.Limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, store.Wrap("history scan", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, store.Wrap("history", err)
	}
	return out, total, nil
}

const aggregateColumns = `COUNT(*),
	COALESCE(SUM(CASE WHEN status = 'AVAILABLE' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN status = 'HALF_FULL' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN status = 'NEARLY_FULL' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN status = 'FULL' THEN 1 ELSE 0 END), 0),
	AVG(capacity), MAX(capacity), MIN(capacity)`

// QueryStatistics aggregates over the window. An empty window result has zero
// counts and nil average/max/min.
func (s *Store) QueryStatistics(ctx context.Context, w model.DateWindow) (model.Statistics, error) {
	where, args := predicate("", w)

	var (
		st             = model.Statistics{StatusCount: model.NewStatusCount()}
		counts         [4]int
		avg            sql.NullFloat64
		maxCap, minCap sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+aggregateColumns+` FROM sensor_data`+where, args...).
		Scan(&st.TotalCount, &counts[0], &counts[1], &counts[2], &counts[3], &avg, &maxCap, &minCap)
	if err != nil {
		return model.Statistics{}, store.Wrap("statistics", err)
	}
	for i, status := range model.Statuses {
		st.StatusCount[status] = counts[i]
	}
	if avg.Valid {
		v := avg.Float64
		st.AvgCapacity = &v
	}
	if maxCap.Valid {
		v := int(maxCap.Int64)
		st.MaxCapacity = &v
	}
	if minCap.Valid {
		v := int(minCap.Int64)
		st.MinCapacity = &v
	}
	return st, nil
}

// QueryDailyAggregates groups readings per UTC day, newest day first. Without
// an explicit window only the last `days` days are considered.
func (s *Store) QueryDailyAggregates(ctx context.Context, w model.DateWindow, days int) ([]model.DailyAggregate, error) {
	if days <= 0 {
		days = DefaultDays
	}
	if days > MaxDays {
		days = MaxDays
	}

	capped := w.Empty()
	if capped {
		start := startOfDay(s.now()).AddDate(0, 0, -(days - 1))
		w.Start = &start
	}
	where, args := predicate("", w)

	query := `SELECT substr(created_at, 1, 10) AS day, ` + aggregateColumns +
		` FROM sensor_data` + where + ` GROUP BY day ORDER BY day DESC`
	if capped {
		query += ` LIMIT ?`
		args = append(args, days)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.Wrap("daily", err)
	}
	defer rows.Close()

	out := make([]model.DailyAggregate, 0, days)
	for rows.Next() {
		var (
			d              = model.DailyAggregate{StatusCount: model.NewStatusCount()}
			counts         [4]int
			avg            sql.NullFloat64
			maxCap, minCap sql.NullInt64
		)
		if err := rows.Scan(&d.Day, &d.Count, &counts[0], &counts[1], &counts[2], &counts[3], &avg, &maxCap, &minCap); err != nil {
			return nil, store.Wrap("daily scan", err)
		}
		for i, status := range model.Statuses {
			d.StatusCount[status] = counts[i]
		}
		d.AvgCapacity = avg.Float64
		d.MaxCapacity = int(maxCap.Int64)
		d.MinCapacity = int(minCap.Int64)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("daily", err)
	}
	return out, nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return store.Wrap("ping", s.db.PingContext(ctx))
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const selectColumns = `SELECT id, distance, capacity, status, device_online, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (model.Record, error) {
	var (
		rec      model.Record
		distance decimal.Decimal
		status   string
		created  string
	)
	if err := row.Scan(&rec.ID, &distance, &rec.Capacity, &status, &rec.DeviceOnline, &created); err != nil {
		return model.Record{}, err
	}
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return model.Record{}, fmt.Errorf("failed to parse timestamp: %w", err)
	}
	rec.Distance = distance.InexactFloat64()
	rec.Status = model.Status(status)
	rec.CreatedAt = t
	return rec, nil
}

// predicate builds the WHERE clause shared by every read.
func predicate(status model.Status, w model.DateWindow) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(status))
	}
	if w.Start != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, formatTime(*w.Start))
	}
	if w.End != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, formatTime(*w.End))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
