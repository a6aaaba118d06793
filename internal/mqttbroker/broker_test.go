package mqttbroker

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, byte(len(s)>>8), byte(len(s)&0xFF))
	return append(buf, s...)
}

func connectPayload(clientID, username, password string, withCreds bool) []byte {
	var buf []byte
	buf = appendString(buf, "MQTT")
	buf = append(buf, 4) // protocol level 3.1.1

	var flags byte = 1 << 1 // clean session
	if withCreds {
		flags |= 1<<7 | 1<<6
	}
	buf = append(buf, flags)
	buf = append(buf, 0, 60) // keepalive
	buf = appendString(buf, clientID)
	if withCreds {
		buf = appendString(buf, username)
		buf = appendString(buf, password)
	}
	return buf
}

func runConnect(t *testing.T, b *Broker, payload []byte) (connack []byte, err error) {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	session := newSession(serverConn)

	done := make(chan error, 1)
	go func() {
		done <- b.handleConnect(session, payload)
	}()

	connack = make([]byte, 4)
	if _, readErr := io.ReadFull(clientConn, connack); readErr != nil {
		t.Fatalf("read connack: %v", readErr)
	}
	return connack, <-done
}

func TestHandleConnectAnonymousAllowedWithoutAuthenticator(t *testing.T) {
	b := New(testLogger(), nil)

	connack, err := runConnect(t, b, connectPayload("client-1", "", "", false))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x20, 0x02, 0x00, 0x00}, connack)
}

func TestHandleConnectValidCredentials(t *testing.T) {
	b := New(testLogger(), func(clientID, username, password string) bool {
		return username == "beacon" && password == "hunter2"
	})

	connack, err := runConnect(t, b, connectPayload("client-1", "beacon", "hunter2", true))
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), connack[3])
}

func TestHandleConnectBadCredentialsRejected(t *testing.T) {
	b := New(testLogger(), func(clientID, username, password string) bool {
		return username == "beacon" && password == "hunter2"
	})

	connack, err := runConnect(t, b, connectPayload("client-1", "beacon", "wrong", true))
	require.Error(t, err)
	// CONNACK return code 4: bad username or password.
	assert.Equal(t, byte(0x04), connack[3])
}

func TestHandleConnectMissingCredentialsRejectedWhenRequired(t *testing.T) {
	b := New(testLogger(), func(clientID, username, password string) bool {
		return username == "beacon" && password == "hunter2"
	})

	connack, err := runConnect(t, b, connectPayload("client-1", "", "", false))
	require.Error(t, err)
	assert.Equal(t, byte(0x04), connack[3])
}

func TestPublishPacketRoundTrip(t *testing.T) {
	packet, err := buildPublishPacket("beacons/b1/sightings", []byte(`{"user_id":"u1"}`))
	require.NoError(t, err)

	reader := bufio.NewReader(bytes.NewReader(packet))
	header, err := reader.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0x30), header)

	remaining, err := readVarInt(reader)
	require.NoError(t, err)

	body := make([]byte, remaining)
	_, err = io.ReadFull(reader, body)
	require.NoError(t, err)

	msg, err := parsePublish(header, body)
	require.NoError(t, err)
	assert.Equal(t, "beacons/b1/sightings", msg.Topic)
	assert.Equal(t, []byte(`{"user_id":"u1"}`), msg.Payload)
}

func TestParsePublishRejectsNonZeroQoS(t *testing.T) {
	_, err := parsePublish(0x32, nil) // QoS 1
	assert.Error(t, err)
}

func TestEncodeRemainingLength(t *testing.T) {
	cases := map[int][]byte{
		0:     {0x00},
		127:   {0x7F},
		128:   {0x80, 0x01},
		16383: {0xFF, 0x7F},
	}
	for length, want := range cases {
		assert.Equal(t, want, encodeRemainingLength(length), "length %d", length)
	}
}

func TestReadVarIntRoundTrip(t *testing.T) {
	for _, length := range []int{0, 1, 127, 128, 300, 16383, 16384} {
		encoded := encodeRemainingLength(length)
		got, err := readVarInt(bufio.NewReader(bytes.NewReader(encoded)))
		require.NoError(t, err)
		assert.Equal(t, length, got)
	}
}
