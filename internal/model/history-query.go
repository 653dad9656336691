package model

import (
	"strings"
	"time"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000

	SortByCreatedAt = "createdAt"
	SortByCapacity  = "capacity"
	SortByStatus    = "status"

	SortAsc  = "ASC"
	SortDesc = "DESC"
)

// DateWindow bounds a query in time. A nil bound is open.
type DateWindow struct {
	Start *time.Time
	End   *time.Time
}

// Empty reports whether neither bound is set.
func (w DateWindow) Empty() bool { return w.Start == nil && w.End == nil }

// HistoryQuery filters and paginates stored readings.
type HistoryQuery struct {
	Status    Status // empty means every status
	Window    DateWindow
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
}

// Normalize applies defaults and falls back silently on unknown sort keys.
func (q HistoryQuery) Normalize() HistoryQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultHistoryLimit
	}
	if q.Limit > MaxHistoryLimit {
		q.Limit = MaxHistoryLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	switch q.SortBy {
	case SortByCreatedAt, SortByCapacity, SortByStatus:
	default:
		q.SortBy = SortByCreatedAt
	}
	if strings.EqualFold(strings.TrimSpace(q.SortOrder), SortAsc) {
		q.SortOrder = SortAsc
	} else {
		q.SortOrder = SortDesc
	}
	if strings.EqualFold(string(q.Status), "ALL") {
		q.Status = ""
	}
	return q
}

// HasMore reports whether rows remain past the returned page.
func HasMore(offset, limit, total int) bool {
	return offset+limit < total
}

// ParseDateBound accepts RFC 3339 instants or plain YYYY-MM-DD dates. A plain
// date used as an end bound covers the whole day.
func ParseDateBound(raw string, end bool) (*time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t = t.UTC()
		return &t, true
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
	if err != nil {
		return nil, false
	}
	if end {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return &t, true
}
