// Package publish fans records out to the messaging bus with best-effort
// semantics: outcomes are logged, transport errors never reach the caller's
// control flow on the telemetry paths.
package publish

// Topics emitted by this server.
const (
	// TopicBeaconUsers carries the unfiltered presence snapshot passthrough.
	TopicBeaconUsers = "beacon_users"
	// TopicPromptPrefix is the per-beacon prompt record topic prefix.
	TopicPromptPrefix = "prompts/"
)

// Publisher is the interface for emitting records to the bus.
type Publisher interface {
	Publish(topic string, payload any) error
}
