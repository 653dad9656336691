// Package cache holds the most recent reading in memory.
package cache

import (
	"sync/atomic"

	"github.com/LeonardoBeccarini/smartbin/internal/model"
)

// Reader is the read side handed to everything except the dispatcher.
type Reader interface {
	Read() (model.Reading, bool)
}

// Latest keeps a single reading. Update is last-write-wins: a late message
// replaces a newer one, timestamps are not compared.
type Latest struct {
	v atomic.Pointer[model.Reading]
}

func New() *Latest { return &Latest{} }

// Update replaces the held reading.
func (l *Latest) Update(r model.Reading) {
	l.v.Store(&r)
}

// Read returns the held reading, or false before the first Update.
func (l *Latest) Read() (model.Reading, bool) {
	p := l.v.Load()
	if p == nil {
		return model.Reading{}, false
	}
	return *p, true
}
