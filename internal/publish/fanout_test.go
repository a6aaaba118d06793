package publish

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	topics   []string
	payloads [][]byte
	err      error
}

func (f *fakeTransport) Publish(topic string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFanoutSerializesAndPublishes(t *testing.T) {
	transport := &fakeTransport{}
	fanout := NewFanout(transport, testLogger())

	err := fanout.Publish("prompts/b1", map[string]string{"prompt": "hello"})
	require.NoError(t, err)
	require.Len(t, transport.topics, 1)
	assert.Equal(t, "prompts/b1", transport.topics[0])

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(transport.payloads[0], &decoded))
	assert.Equal(t, "hello", decoded["prompt"])
}

func TestFanoutRawBytesPassThrough(t *testing.T) {
	transport := &fakeTransport{}
	fanout := NewFanout(transport, testLogger())

	raw := []byte(`{"already":"encoded"}`)
	require.NoError(t, fanout.Publish(TopicBeaconUsers, raw))
	assert.Equal(t, raw, transport.payloads[0])

	require.NoError(t, fanout.Publish(TopicBeaconUsers, json.RawMessage(raw)))
	assert.Equal(t, raw, transport.payloads[1])
}

func TestFanoutTransportErrorReturnedNotPanicked(t *testing.T) {
	transport := &fakeTransport{err: errors.New("broker gone")}
	fanout := NewFanout(transport, testLogger())

	err := fanout.Publish("prompts/b1", "payload")
	assert.Error(t, err)
}

func TestFanoutEncodeError(t *testing.T) {
	transport := &fakeTransport{}
	fanout := NewFanout(transport, testLogger())

	err := fanout.Publish("prompts/b1", make(chan int))
	assert.Error(t, err)
	assert.Empty(t, transport.topics)
}

func TestNoopImplementsPublisher(t *testing.T) {
	var _ Publisher = Noop{}
	var _ Publisher = (*Fanout)(nil)
	assert.NoError(t, Noop{}.Publish("any", "thing"))
}
