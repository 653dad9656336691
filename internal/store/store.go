// Package store defines the durable, append-only reading log.
package store

import (
	"context"
	"fmt"

	"github.com/LeonardoBeccarini/smartbin/internal/model"
)

// Appender is the write side used by the dispatcher.
type Appender interface {
	Append(ctx context.Context, r model.Reading) (int64, error)
}

// LatestReader is the only read the broadcast hub needs.
type LatestReader interface {
	Latest(ctx context.Context) (*model.Record, error)
}

// Store is the full contract of the persistence layer. Read failures are
// returned to the caller as they are; there is no fallback in here.
type Store interface {
	Appender
	LatestReader
	QueryHistory(ctx context.Context, q model.HistoryQuery) ([]model.Record, int, error)
	QueryStatistics(ctx context.Context, w model.DateWindow) (model.Statistics, error)
	QueryDailyAggregates(ctx context.Context, w model.DateWindow, days int) ([]model.DailyAggregate, error)
	Ping(ctx context.Context) error
	Close() error
}

// PersistenceError wraps any storage-layer failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Wrap returns nil for a nil err.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
