package presence

import (
	"context"
	"log/slog"
	"time"
)

// SnapshotStore is the slice of the durable store the registry needs: one
// whole-beacon read plus idempotent deletes for eviction.
type SnapshotStore interface {
	// ReadSnapshot returns the raw presence mapping for a beacon, or nil if
	// the beacon has no entries.
	ReadSnapshot(ctx context.Context, beaconID string) ([]byte, error)
	// DeleteSighting removes one (beacon, user) entry. Deleting an absent
	// entry is a no-op, not an error.
	DeleteSighting(ctx context.Context, beaconID, userID string) error
	// DeleteBeacon removes every entry under a beacon.
	DeleteBeacon(ctx context.Context, beaconID string) error
}

// Registry resolves the current nearby set for a beacon and evicts stale
// entries from the store as a side effect.
type Registry struct {
	store  SnapshotStore
	policy Policy
	logger *slog.Logger

	// aggressiveCleanup drops the whole beacon subtree when resolution
	// leaves nobody nearby, instead of only the stale entries.
	aggressiveCleanup bool

	now func() time.Time
}

// NewRegistry constructs a registry over the given store and policy.
func NewRegistry(store SnapshotStore, policy Policy, logger *slog.Logger, aggressiveCleanup bool) *Registry {
	return &Registry{
		store:             store,
		policy:            policy,
		logger:            logger,
		aggressiveCleanup: aggressiveCleanup,
		now:               time.Now,
	}
}

// Policy returns the proximity policy the registry applies.
func (r *Registry) Policy() Policy {
	return r.policy
}

// NearbyUsers reads the beacon's snapshot, resolves it under the given mode,
// deletes every stale entry, and returns the nearby set. Stale deletions are
// best-effort and independent per user: one failed delete is logged and does
// not block the others or the returned set. A malformed snapshot is logged
// and treated as empty.
func (r *Registry) NearbyUsers(ctx context.Context, beaconID string, mode Mode) ([]string, error) {
	raw, err := r.store.ReadSnapshot(ctx, beaconID)
	if err != nil {
		return nil, err
	}

	sightings, err := SightingsFromSnapshot(r.logger, beaconID, raw)
	if err != nil {
		r.logger.Warn("treating malformed snapshot as empty", "beacon", beaconID, "error", err)
		return nil, nil
	}

	nearby, stale := Resolve(sightings, r.policy, r.now(), mode)

	for _, userID := range stale {
		if err := r.store.DeleteSighting(ctx, beaconID, userID); err != nil {
			r.logger.Warn("failed to evict stale sighting", "beacon", beaconID, "user", userID, "error", err)
			continue
		}
		r.logger.Debug("evicted stale sighting", "beacon", beaconID, "user", userID)
	}

	if r.aggressiveCleanup && len(nearby) == 0 {
		if err := r.store.DeleteBeacon(ctx, beaconID); err != nil {
			r.logger.Warn("failed to clear empty beacon", "beacon", beaconID, "error", err)
		}
	}

	return nearby, nil
}
