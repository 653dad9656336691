package model

import "time"

// Record is a reading as persisted by the store.
type Record struct {
	ID           int64     `json:"id"`
	Distance     float64   `json:"distance"`
	Capacity     int       `json:"capacity"`
	Status       Status    `json:"status"`
	DeviceOnline bool      `json:"deviceOnline"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Reading converts the stored row into the shape pushed to observers.
func (r Record) Reading() Reading {
	return Reading{
		Distance:     r.Distance,
		Capacity:     r.Capacity,
		Status:       r.Status,
		Timestamp:    r.CreatedAt,
		DeviceOnline: r.DeviceOnline,
	}
}

// Statistics summarises stored readings over a window. Average, max and min
// are nil when the window holds no readings.
type Statistics struct {
	TotalCount  int            `json:"totalCount"`
	StatusCount map[Status]int `json:"perStatusCounts"`
	AvgCapacity *float64       `json:"avgCapacity"`
	MaxCapacity *int           `json:"maxCapacity"`
	MinCapacity *int           `json:"minCapacity"`
}

// DailyAggregate is one calendar day (UTC) of stored readings.
type DailyAggregate struct {
	Day         string         `json:"day"` // YYYY-MM-DD
	Count       int            `json:"count"`
	StatusCount map[Status]int `json:"perStatusCounts"`
	AvgCapacity float64        `json:"avgCapacity"`
	MaxCapacity int            `json:"maxCapacity"`
	MinCapacity int            `json:"minCapacity"`
}

// NewStatusCount returns a per-status counter with every status present.
func NewStatusCount() map[Status]int {
	m := make(map[Status]int, len(Statuses))
	for _, s := range Statuses {
		m[s] = 0
	}
	return m
}
