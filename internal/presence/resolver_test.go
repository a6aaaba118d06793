package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sebschlo/beacon-prompt-server/internal/model"
)

var testPolicy = Policy{
	SignalThreshold: -60,
	StalenessWindow: 30 * time.Second,
}

func sighting(userID string, rssi int, age time.Duration, now time.Time) model.Sighting {
	return model.Sighting{
		UserID:     userID,
		BeaconID:   "beacon-1",
		RSSI:       rssi,
		ObservedAt: now.Add(-age),
	}
}

func TestResolveFreshStrongSignalIsNearby(t *testing.T) {
	now := time.Now()
	sightings := []model.Sighting{sighting("u1", -50, 5*time.Second, now)}

	nearby, stale := Resolve(sightings, testPolicy, now, FilteredOnly)

	assert.Equal(t, []string{"u1"}, nearby)
	assert.Empty(t, stale)
}

func TestResolveWeakSignalDroppedUnderFilteredOnly(t *testing.T) {
	now := time.Now()
	sightings := []model.Sighting{sighting("u1", -70, 5*time.Second, now)}

	nearby, stale := Resolve(sightings, testPolicy, now, FilteredOnly)
	assert.Empty(t, nearby)
	assert.Empty(t, stale)

	nearby, stale = Resolve(sightings, testPolicy, now, IncludeAll)
	assert.Equal(t, []string{"u1"}, nearby)
	assert.Empty(t, stale)
}

func TestResolveStaleRegardlessOfSignal(t *testing.T) {
	now := time.Now()
	sightings := []model.Sighting{sighting("u1", -50, 40*time.Second, now)}

	for _, mode := range []Mode{FilteredOnly, IncludeAll} {
		nearby, stale := Resolve(sightings, testPolicy, now, mode)
		assert.Empty(t, nearby)
		assert.Equal(t, []string{"u1"}, stale)
	}
}

func TestResolveAgeExactlyWindowIsStale(t *testing.T) {
	now := time.Now()
	sightings := []model.Sighting{sighting("u1", -50, testPolicy.StalenessWindow, now)}

	nearby, stale := Resolve(sightings, testPolicy, now, FilteredOnly)
	assert.Empty(t, nearby)
	assert.Equal(t, []string{"u1"}, stale)
}

func TestResolveSignalExactlyThresholdIsNearby(t *testing.T) {
	now := time.Now()
	sightings := []model.Sighting{sighting("u1", -60, time.Second, now)}

	nearby, _ := Resolve(sightings, testPolicy, now, FilteredOnly)
	assert.Equal(t, []string{"u1"}, nearby)
}

func TestResolveEmptyInput(t *testing.T) {
	nearby, stale := Resolve(nil, testPolicy, time.Now(), FilteredOnly)
	assert.Empty(t, nearby)
	assert.Empty(t, stale)
}

func TestResolvePreservesInputOrder(t *testing.T) {
	now := time.Now()
	sightings := []model.Sighting{
		sighting("u3", -40, time.Second, now),
		sighting("u1", -55, 10*time.Second, now),
		sighting("u2", -45, 2*time.Second, now),
	}

	nearby, _ := Resolve(sightings, testPolicy, now, FilteredOnly)
	assert.Equal(t, []string{"u3", "u1", "u2"}, nearby)
}

func TestResolveMixedClassification(t *testing.T) {
	now := time.Now()
	sightings := []model.Sighting{
		sighting("close", -50, 5*time.Second, now),
		sighting("far", -80, 5*time.Second, now),
		sighting("old", -30, time.Minute, now),
	}

	nearby, stale := Resolve(sightings, testPolicy, now, FilteredOnly)
	assert.Equal(t, []string{"close"}, nearby)
	assert.Equal(t, []string{"old"}, stale)

	nearby, stale = Resolve(sightings, testPolicy, now, IncludeAll)
	assert.Equal(t, []string{"close", "far"}, nearby)
	assert.Equal(t, []string{"old"}, stale)
}
