package messages

import (
	"bytes"
	"encoding/json"
	"errors"
)

var ErrNotObject = errors.New("payload is not a JSON object")

// SensorPayload is the JSON body published by the bin sensor. Value is the
// legacy name of Distance still sent by older firmware.
type SensorPayload struct {
	Distance *float64 `json:"distance,omitempty"`
	Value    *float64 `json:"value,omitempty"`
}

// DecodeSensorPayload accepts only a JSON object whose distance/value fields,
// when present, are numbers. Unknown fields are ignored.
func DecodeSensorPayload(b []byte) (SensorPayload, error) {
	var p SensorPayload
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return p, ErrNotObject
	}
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return SensorPayload{}, err
	}
	return p, nil
}

// DistanceOrDefault returns distance, then value, then 0.
func (p SensorPayload) DistanceOrDefault() float64 {
	switch {
	case p.Distance != nil:
		return *p.Distance
	case p.Value != nil:
		return *p.Value
	default:
		return 0
	}
}
