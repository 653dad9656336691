package broadcast

import (
	"encoding/json"

	"github.com/LeonardoBeccarini/smartbin/internal/model"
)

// Event names on the observer socket.
const (
	EventSensorData       = "sensorData"
	EventConnectionStatus = "connectionStatus"
	EventRequestData      = "requestData"
)

// Envelope frames every message on the socket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ConnectionStatus struct {
	BrokerConnected bool     `json:"brokerConnected"`
	Channels        []string `json:"channels"`
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// DecodeSensorData unpacks the data of a sensorData envelope.
func DecodeSensorData(env Envelope) (model.Reading, error) {
	var r model.Reading
	err := json.Unmarshal(env.Data, &r)
	return r, err
}
