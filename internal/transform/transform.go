// Package transform turns raw ultrasonic distance readings into bin capacity.
package transform

import (
	"fmt"
	"math"
	"time"

	"github.com/LeonardoBeccarini/smartbin/internal/model"
)

const (
	DefaultBinDepth      = 30.0 // cm, sensor reading of an empty bin
	DefaultFullThreshold = 5.0  // cm, sensor reading of a full bin
)

// Transformer maps distance to capacity with a piecewise-linear curve between
// FullThreshold (100%) and BinDepth (0%).
type Transformer struct {
	binDepth      float64
	fullThreshold float64
	now           func() time.Time
}

// New validates the bin geometry.
func New(binDepth, fullThreshold float64) (*Transformer, error) {
	if math.IsNaN(binDepth) || math.IsInf(binDepth, 0) || math.IsNaN(fullThreshold) || math.IsInf(fullThreshold, 0) {
		return nil, fmt.Errorf("bin geometry must be finite (depth=%v full=%v)", binDepth, fullThreshold)
	}
	if binDepth <= fullThreshold {
		return nil, fmt.Errorf("bin depth %.1f must be greater than full threshold %.1f", binDepth, fullThreshold)
	}
	return &Transformer{binDepth: binDepth, fullThreshold: fullThreshold, now: time.Now}, nil
}

// Default returns the transformer for a 30cm bin that is full at 5cm.
func Default() *Transformer {
	t, _ := New(DefaultBinDepth, DefaultFullThreshold)
	return t
}

func (t *Transformer) BinDepth() float64      { return t.binDepth }
func (t *Transformer) FullThreshold() float64 { return t.fullThreshold }

// Transform builds a reading stamped with the current time.
func (t *Transformer) Transform(distance float64) model.Reading {
	return t.TransformAt(distance, t.now())
}

// TransformAt builds a reading for distance at the given instant. It accepts
// any float, including negative and non-finite values.
func (t *Transformer) TransformAt(distance float64, at time.Time) model.Reading {
	d := roundTenth(sanitize(distance))
	capacity := t.Capacity(d)
	return model.Reading{
		Distance:     d,
		Capacity:     capacity,
		Status:       model.StatusFor(capacity),
		Timestamp:    at.UTC(),
		DeviceOnline: true,
	}
}

// Capacity returns the clamped fill percentage for distance.
func (t *Transformer) Capacity(distance float64) int {
	d := sanitize(distance)
	var c float64
	switch {
	case d <= t.fullThreshold:
		c = 100
	case d >= t.binDepth:
		c = 0
	default:
		c = math.Round(((t.binDepth - d) / (t.binDepth - t.fullThreshold)) * 100)
	}
	return clamp(c)
}

func sanitize(d float64) float64 {
	switch {
	case math.IsNaN(d):
		return 0
	case math.IsInf(d, 1):
		return math.MaxFloat64
	case math.IsInf(d, -1):
		return -math.MaxFloat64
	}
	return d
}

func roundTenth(d float64) float64 {
	r := math.Round(d*10) / 10
	if math.IsInf(r, 0) || math.IsNaN(r) {
		// d*10 overflowed; the value is far beyond any decimal precision anyway
		return d
	}
	return r
}

func clamp(c float64) int {
	if c < 0 || math.IsNaN(c) {
		return 0
	}
	if c > 100 {
		return 100
	}
	return int(c)
}
