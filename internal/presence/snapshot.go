// Package presence holds the core decision logic of the server: decoding raw
// beacon snapshots into sightings, splitting them into nearby and stale sets,
// and evicting stale entries from the durable presence store.
package presence

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sebschlo/beacon-prompt-server/internal/model"
)

// ErrMalformedSnapshot indicates a snapshot payload that is not a mapping of
// sighting objects. Individually bad entries inside an otherwise valid mapping
// are skipped, not fatal.
var ErrMalformedSnapshot = errors.New("malformed presence snapshot")

// millisCutoff separates unix-second from unix-millisecond timestamps.
// Anything above it (~Sep 2001 in milliseconds) is treated as milliseconds.
const millisCutoff = 1_000_000_000_000

type snapshotEntry struct {
	RSSI       *int            `json:"rssi"`
	Signal     *int            `json:"signal_strength"`
	ObservedAt json.RawMessage `json:"observed_at"`
	Timestamp  json.RawMessage `json:"timestamp"`
}

// SightingsFromSnapshot decodes a raw snapshot for one beacon into a sighting
// sequence. An absent or null snapshot is an empty sequence, not an error.
// Entries missing a signal strength or timestamp are skipped with a warning.
func SightingsFromSnapshot(logger *slog.Logger, beaconID string, raw []byte) ([]model.Sighting, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	sightings := make([]model.Sighting, 0, len(entries))
	for userID, rawEntry := range entries {
		var entry snapshotEntry
		if err := json.Unmarshal(rawEntry, &entry); err != nil {
			logger.Warn("skipping malformed snapshot entry", "beacon", beaconID, "user", userID, "error", err)
			continue
		}

		rssi := entry.RSSI
		if rssi == nil {
			rssi = entry.Signal
		}

		tsRaw := entry.ObservedAt
		if len(tsRaw) == 0 {
			tsRaw = entry.Timestamp
		}

		if rssi == nil || len(tsRaw) == 0 {
			logger.Warn("skipping snapshot entry missing signal or timestamp", "beacon", beaconID, "user", userID)
			continue
		}

		observedAt, err := ParseTimestamp(tsRaw)
		if err != nil {
			logger.Warn("skipping snapshot entry with bad timestamp", "beacon", beaconID, "user", userID, "error", err)
			continue
		}

		sightings = append(sightings, model.Sighting{
			UserID:     userID,
			BeaconID:   beaconID,
			RSSI:       *rssi,
			ObservedAt: observedAt,
		})
	}

	return sightings, nil
}

// ParseTimestamp accepts either an RFC3339 string or a unix numeric value.
// The canonical stored unit is seconds; numeric values past the millisecond
// cutoff are converted down, since some producers report milliseconds.
func ParseTimestamp(raw json.RawMessage) (time.Time, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		ts, err := time.Parse(time.RFC3339Nano, asString)
		if err != nil {
			ts, err = time.Parse(time.RFC3339, asString)
		}
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", asString, err)
		}
		return ts.UTC(), nil
	}

	asNumber, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp is neither RFC3339 nor numeric: %s", raw)
	}

	if asNumber >= millisCutoff {
		asNumber /= 1000
	}
	sec := int64(asNumber)
	nsec := int64((asNumber - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC(), nil
}
