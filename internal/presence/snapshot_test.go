package presence

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSightingsFromSnapshotAbsent(t *testing.T) {
	sightings, err := SightingsFromSnapshot(discardLogger(), "b1", nil)
	require.NoError(t, err)
	assert.Empty(t, sightings)

	sightings, err = SightingsFromSnapshot(discardLogger(), "b1", []byte("null"))
	require.NoError(t, err)
	assert.Empty(t, sightings)
}

func TestSightingsFromSnapshotMalformed(t *testing.T) {
	_, err := SightingsFromSnapshot(discardLogger(), "b1", []byte(`[1,2,3]`))
	assert.ErrorIs(t, err, ErrMalformedSnapshot)

	_, err = SightingsFromSnapshot(discardLogger(), "b1", []byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedSnapshot)
}

func TestSightingsFromSnapshotDecodesEntries(t *testing.T) {
	raw := []byte(`{
		"u1": {"rssi": -50, "observed_at": "2026-09-01T10:00:00Z"},
		"u2": {"signal_strength": -72, "timestamp": 1756720800}
	}`)

	sightings, err := SightingsFromSnapshot(discardLogger(), "b1", raw)
	require.NoError(t, err)
	require.Len(t, sightings, 2)

	byUser := make(map[string]int)
	for _, s := range sightings {
		byUser[s.UserID] = s.RSSI
		assert.Equal(t, "b1", s.BeaconID)
		assert.False(t, s.ObservedAt.IsZero())
	}
	assert.Equal(t, -50, byUser["u1"])
	assert.Equal(t, -72, byUser["u2"])
}

func TestSightingsFromSnapshotSkipsBadEntries(t *testing.T) {
	raw := []byte(`{
		"good": {"rssi": -40, "observed_at": "2026-09-01T10:00:00Z"},
		"no_signal": {"observed_at": "2026-09-01T10:00:00Z"},
		"no_timestamp": {"rssi": -40},
		"bad_timestamp": {"rssi": -40, "observed_at": "yesterday"},
		"not_an_object": 17
	}`)

	sightings, err := SightingsFromSnapshot(discardLogger(), "b1", raw)
	require.NoError(t, err)
	require.Len(t, sightings, 1)
	assert.Equal(t, "good", sightings[0].UserID)
}

func TestParseTimestampUnits(t *testing.T) {
	want := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	ts, err := ParseTimestamp(json.RawMessage(`"2026-09-01T10:00:00Z"`))
	require.NoError(t, err)
	assert.True(t, ts.Equal(want))

	// Unix seconds.
	ts, err = ParseTimestamp(json.RawMessage(`1788256800`))
	require.NoError(t, err)
	assert.True(t, ts.Equal(want))

	// Unix milliseconds are detected and converted down.
	ts, err = ParseTimestamp(json.RawMessage(`1788256800000`))
	require.NoError(t, err)
	assert.True(t, ts.Equal(want))

	_, err = ParseTimestamp(json.RawMessage(`"not a time"`))
	assert.Error(t, err)
}
