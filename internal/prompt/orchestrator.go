// Package prompt orchestrates a single prompt request: resolve who is nearby,
// gather their profiles, invoke the generation backend once, and dispatch the
// resulting record to the bus and the prompt log.
package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sebschlo/beacon-prompt-server/internal/model"
	"github.com/sebschlo/beacon-prompt-server/internal/presence"
	"github.com/sebschlo/beacon-prompt-server/internal/publish"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrMissingBeaconID is returned before any I/O when the request names
	// no beacon.
	ErrMissingBeaconID = errors.New("beacon_id is required")

	// ErrGenerationFailed wraps any failure of the generation backend or of
	// the profile batch feeding it. No record is published or persisted when
	// it is returned.
	ErrGenerationFailed = errors.New("prompt generation failed")
)

// systemTemplate is the fixed instruction sent with every generation call.
const systemTemplate = `You are a social facilitator at a location-based art installation. ` +
	`Given the profiles of the people currently standing near the same beacon, write one short, ` +
	`playful conversation prompt that connects something from their profiles. ` +
	`Address the group directly, keep it under two sentences, and do not mention that you were given profiles.`

// Resolver yields the current nearby set for a beacon.
type Resolver interface {
	NearbyUsers(ctx context.Context, beaconID string, mode presence.Mode) ([]string, error)
}

// ProfileStore loads user profile documents. A missing profile is (nil, nil).
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*model.UserProfile, error)
}

// Generator invokes the text-generation backend.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPayload string) (string, error)
}

// Log is the durable append-only prompt log.
type Log interface {
	AppendPromptRecord(ctx context.Context, record model.PromptRecord) error
}

// Result is the outcome of one prompt request. Insufficient marks the valid
// nobody-here case, which is not a failure; Record is set otherwise.
type Result struct {
	Record       *model.PromptRecord
	Insufficient bool
}

// Orchestrator runs the prompt pipeline. Each request is independent; there
// is no request-level memoization and no retry, the caller re-requests and
// presence is re-resolved from scratch.
type Orchestrator struct {
	resolver  Resolver
	profiles  ProfileStore
	generator Generator
	log       Log
	publisher publish.Publisher
	logger    *slog.Logger

	now func() time.Time
}

// New constructs an orchestrator.
func New(resolver Resolver, profiles ProfileStore, generator Generator, log Log, publisher publish.Publisher, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		resolver:  resolver,
		profiles:  profiles,
		generator: generator,
		log:       log,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// HandlePromptRequest runs the full pipeline for one beacon. Generation and
// the profile batch are all-or-nothing: any failure there returns
// ErrGenerationFailed and nothing is published or persisted. Once the record
// exists, publish and persist failures are logged but the record is still
// returned to the caller.
func (o *Orchestrator) HandlePromptRequest(ctx context.Context, beaconID string) (*Result, error) {
	if beaconID == "" {
		return nil, ErrMissingBeaconID
	}

	nearby, err := o.resolver.NearbyUsers(ctx, beaconID, presence.FilteredOnly)
	if err != nil {
		return nil, fmt.Errorf("resolve presence for %s: %w", beaconID, err)
	}

	if len(nearby) < 1 {
		o.logger.Info("insufficient presence", "beacon", beaconID)
		return &Result{Insufficient: true}, nil
	}

	profiles, err := o.fetchProfiles(ctx, nearby)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	payload, err := json.Marshal(profiles)
	if err != nil {
		return nil, fmt.Errorf("%w: encode profile batch: %v", ErrGenerationFailed, err)
	}

	text, err := o.generator.Generate(ctx, systemTemplate, string(payload))
	if err != nil {
		o.logger.Error("generation backend failed", "beacon", beaconID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	record := model.PromptRecord{
		Timestamp: o.now().UTC(),
		BeaconID:  beaconID,
		Users:     nearby,
		Prompt:    text,
	}

	o.dispatch(ctx, record)

	return &Result{Record: &record}, nil
}

// fetchProfiles loads a profile per nearby user concurrently, preserving the
// nearby-set order. A missing profile yields an empty placeholder; a failed
// lookup fails the whole batch before the generation backend is touched.
func (o *Orchestrator) fetchProfiles(ctx context.Context, userIDs []string) ([]model.UserProfile, error) {
	profiles := make([]model.UserProfile, len(userIDs))

	g, gctx := errgroup.WithContext(ctx)
	for i, userID := range userIDs {
		i, userID := i, userID
		g.Go(func() error {
			profile, err := o.profiles.GetProfile(gctx, userID)
			if err != nil {
				return fmt.Errorf("profile lookup for %s: %w", userID, err)
			}
			if profile == nil {
				profiles[i] = model.UserProfile{UserID: userID}
				return nil
			}
			profiles[i] = *profile
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return profiles, nil
}

// dispatch publishes and persists a freshly built record. Both sides are
// best-effort at this point: the record is already the request's answer.
func (o *Orchestrator) dispatch(ctx context.Context, record model.PromptRecord) {
	if err := o.publisher.Publish(publish.TopicPromptPrefix+record.BeaconID, record); err != nil {
		o.logger.Warn("prompt publish failed", "beacon", record.BeaconID, "error", err)
	}

	if err := o.log.AppendPromptRecord(ctx, record); err != nil {
		o.logger.Error("prompt log append failed", "beacon", record.BeaconID, "error", err)
	}
}
