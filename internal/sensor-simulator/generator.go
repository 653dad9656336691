package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// ====== Tunables ======
const (
	// emptyFloor: below this distance the bin is considered collected and
	// starts over from binDepth.
	emptyFloor = 2.0

	defaultFillPerMin = 0.5 // cm/min
	defaultJitter     = 0.3 // cm
)

// DistanceGenerator models a bin filling up: the ultrasonic distance shrinks
// from binDepth toward zero, with sensor noise on top.
type DistanceGenerator struct {
	mu         sync.Mutex
	binDepth   float64
	fillPerMin float64
	jitter     float64
	distance   float64
	last       time.Time
	now        func() time.Time
	rnd        *rand.Rand
}

func NewDistanceGenerator(binDepth, fillPerMin, jitter float64, seed int64) *DistanceGenerator {
	if fillPerMin <= 0 {
		fillPerMin = defaultFillPerMin
	}
	if jitter < 0 {
		jitter = defaultJitter
	}
	return &DistanceGenerator{
		binDepth:   binDepth,
		fillPerMin: fillPerMin,
		jitter:     jitter,
		distance:   binDepth,
		now:        time.Now,
		rnd:        rand.New(rand.NewSource(seed)),
	}
}

// Next advances the fill level to now and returns a noisy reading.
func (g *DistanceGenerator) Next() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.last.IsZero() {
		g.last = now
	}
	dtMin := now.Sub(g.last).Minutes()
	if dtMin < 0 {
		dtMin = 0
	}
	g.last = now

	g.distance -= g.fillPerMin * dtMin
	if g.distance < emptyFloor {
		g.distance = g.binDepth
	}

	d := g.distance + g.jitter*(g.rnd.Float64()*2-1)
	if d < 0 {
		d = 0
	}
	return math.Round(d*10) / 10
}

// Empty simulates a collection.
func (g *DistanceGenerator) Empty() {
	g.mu.Lock()
	g.distance = g.binDepth
	g.mu.Unlock()
}

// Level is the noiseless distance.
func (g *DistanceGenerator) Level() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.distance
}
