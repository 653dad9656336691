package model

import "time"

// Status is the discrete fill level derived from capacity.
type Status string

const (
	StatusAvailable  Status = "AVAILABLE"
	StatusHalfFull   Status = "HALF_FULL"
	StatusNearlyFull Status = "NEARLY_FULL"
	StatusFull       Status = "FULL"
)

// Statuses lists every status in ascending fill order.
var Statuses = []Status{StatusAvailable, StatusHalfFull, StatusNearlyFull, StatusFull}

// StatusFor maps a capacity percentage to its status.
func StatusFor(capacity int) Status {
	switch {
	case capacity >= 100:
		return StatusFull
	case capacity >= 80:
		return StatusNearlyFull
	case capacity >= 50:
		return StatusHalfFull
	default:
		return StatusAvailable
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Reading is one normalized observation of the bin. It is built once at
// ingestion time and never modified afterwards.
type Reading struct {
	Distance     float64   `json:"distance"` // cm, one decimal
	Capacity     int       `json:"capacity"` // 0..100
	Status       Status    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	DeviceOnline bool      `json:"deviceOnline"`
}

// Channel identifies the logical route a reading arrived on.
type Channel string

const (
	ChannelRealtime Channel = "realtime"
	ChannelDurable  Channel = "durable"
	ChannelManual   Channel = "manual"
)

// Delivery is what the ingestor hands to the dispatcher.
type Delivery struct {
	Channel Channel
	Reading Reading
}
