package publish

import "encoding/json"

// Noop is a Publisher that does nothing, used when no bus is wired.
type Noop struct{}

func (Noop) Publish(topic string, payload any) error {
	return nil
}

func marshal(payload any) ([]byte, error) {
	if raw, ok := payload.([]byte); ok {
		return raw, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}
