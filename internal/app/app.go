package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/sebschlo/beacon-prompt-server/internal/config"
	"github.com/sebschlo/beacon-prompt-server/internal/generate"
	"github.com/sebschlo/beacon-prompt-server/internal/model"
	"github.com/sebschlo/beacon-prompt-server/internal/mqttbroker"
	"github.com/sebschlo/beacon-prompt-server/internal/presence"
	"github.com/sebschlo/beacon-prompt-server/internal/prompt"
	"github.com/sebschlo/beacon-prompt-server/internal/publish"
	"github.com/sebschlo/beacon-prompt-server/internal/store"
)

// App wires together the presence server services and manages their lifecycle.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	store        *store.Store
	broker       *mqttbroker.Broker
	registry     *presence.Registry
	adminView    *presence.Registry
	orchestrator *prompt.Orchestrator
	fanout       *publish.Fanout
	mdns         *zeroconf.Server

	mirrorKick chan struct{}
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger, mirrorKick: make(chan struct{}, 1)}
}

// Run starts all configured services and blocks until the context is cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	db, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	a.store = db

	if err := a.store.InitSchema(ctx); err != nil {
		return err
	}

	defer func() {
		if cerr := a.store.Close(); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()

	broker := mqttbroker.New(a.logger, authenticator(a.cfg.MQTTUsers))
	broker.SetPublishHandler(a.handleMQTTPublish)
	brokerErrCh, err := broker.Start(a.cfg.MQTTBindAddress)
	if err != nil {
		return err
	}
	a.broker = broker

	policy := presence.Policy{
		SignalThreshold: a.cfg.SignalThreshold,
		StalenessWindow: a.cfg.StalenessWindow,
	}
	a.registry = presence.NewRegistry(a.store, policy, a.logger, a.cfg.AggressiveCleanup)
	// The administrative view never clears beacons, whatever the cleanup mode.
	a.adminView = presence.NewRegistry(a.store, policy, a.logger, false)
	a.fanout = publish.NewFanout(a.broker, a.logger)

	generator := generate.New(
		a.cfg.GenerationURL,
		a.cfg.GenerationAPIKey,
		a.cfg.GenerationModel,
		a.cfg.GenerationTimeout,
	)
	a.orchestrator = prompt.New(a.registry, a.store, generator, a.store, a.fanout, a.logger)

	if err := a.startMDNS(mqttPort(a.cfg.MQTTBindAddress)); err != nil {
		a.logger.Warn("mDNS advertisement unavailable", "error", err)
	}
	defer a.stopMDNS()

	mirrorDone := make(chan struct{})
	go a.mirrorLoop(ctx, mirrorDone)

	httpErrCh := make(chan error, 1)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler: a.routes(),
	}

	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http server shutdown: %w", err)
			}
			a.logger.Info("http server stopped")

			if err := a.broker.Stop(); err != nil {
				return err
			}
			a.logger.Info("mqtt broker stopped")

			<-mirrorDone
			return nil
		case err := <-httpErrCh:
			if err != nil {
				_ = a.broker.Stop()
				return err
			}
		case err, ok := <-brokerErrCh:
			if !ok {
				brokerErrCh = nil
				continue
			}
			if err != nil {
				_ = httpServer.Shutdown(context.Background())
				_ = a.broker.Stop()
				return err
			}
		}
	}
}

// authenticator builds the broker credential check from the configured user
// map. An empty map allows every client.
func authenticator(users map[string]string) mqttbroker.Authenticator {
	if len(users) == 0 {
		return nil
	}
	return func(clientID, username, password string) bool {
		expected, ok := users[username]
		return ok && expected == password
	}
}

func mqttPort(bind string) int {
	idx := strings.LastIndex(bind, ":")
	if idx < 0 {
		return 0
	}
	var port int
	if _, err := fmt.Sscanf(bind[idx+1:], "%d", &port); err != nil {
		return 0
	}
	return port
}

type sightingPayload struct {
	UserID     string          `json:"user_id"`
	RSSI       *int            `json:"rssi"`
	ObservedAt json.RawMessage `json:"observed_at"`
}

func (a *App) handleMQTTPublish(ctx context.Context, msg mqttbroker.PublishMessage) {
	if !strings.HasPrefix(msg.Topic, "beacons/") {
		return
	}
	a.handleSighting(ctx, msg)
}

func (a *App) handleSighting(ctx context.Context, msg mqttbroker.PublishMessage) {
	parts := strings.Split(msg.Topic, "/")
	beaconID := ""
	if len(parts) >= 2 {
		beaconID = parts[1]
	}

	var payload sightingPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		a.logger.Warn("sighting payload decode failed", "topic", msg.Topic, "error", err)
		a.recordIngestionError(ctx, beaconID, msg.Payload, fmt.Errorf("decode payload: %w", err))
		return
	}

	if beaconID == "" || payload.UserID == "" || payload.RSSI == nil {
		err := fmt.Errorf("missing required fields (beacon_id=%q user_id=%q)", beaconID, payload.UserID)
		a.logger.Warn("sighting payload validation failed", "topic", msg.Topic, "error", err)
		a.recordIngestionError(ctx, beaconID, msg.Payload, err)
		return
	}

	observedAt := time.Now().UTC()
	if len(payload.ObservedAt) > 0 {
		parsed, err := presence.ParseTimestamp(payload.ObservedAt)
		if err != nil {
			a.logger.Warn("sighting timestamp rejected", "topic", msg.Topic, "error", err)
			a.recordIngestionError(ctx, beaconID, msg.Payload, err)
			return
		}
		observedAt = parsed
	}

	sighting := model.Sighting{
		UserID:     payload.UserID,
		BeaconID:   beaconID,
		RSSI:       *payload.RSSI,
		ObservedAt: observedAt,
	}

	storeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := a.store.UpsertSighting(storeCtx, sighting); err != nil {
		a.logger.Error("failed to persist sighting", "beacon", beaconID, "user", payload.UserID, "error", err)
		a.recordIngestionError(ctx, beaconID, msg.Payload, err)
		return
	}

	a.logger.Info("ingested sighting", "beacon", beaconID, "user", payload.UserID, "rssi", *payload.RSSI)
	a.kickMirror()
}

// mirrorLoop republishes the unfiltered presence mapping to the bus on every
// ingest (coalesced) and on a steady interval. Best-effort telemetry only.
func (a *App) mirrorLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.cfg.MirrorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-a.mirrorKick:
		}
		a.publishMirror(ctx)
	}
}

func (a *App) publishMirror(ctx context.Context) {
	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	snapshots, err := a.store.AllSnapshots(readCtx)
	if err != nil {
		a.logger.Warn("mirror snapshot read failed", "error", err)
		return
	}

	_ = a.fanout.Publish(publish.TopicBeaconUsers, snapshots)
}

func (a *App) kickMirror() {
	select {
	case a.mirrorKick <- struct{}{}:
	default:
	}
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/readyz", a.handleReadyz)
	mux.HandleFunc("/prompt", a.handlePrompt)
	mux.HandleFunc("/users", a.handleUsers)
	mux.HandleFunc("/", a.handleIndex)
	return mux
}

func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("presence server is running\n"))
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.store == nil || a.broker == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func (a *App) handlePrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	beaconID := r.URL.Query().Get("beacon_id")

	result, err := a.orchestrator.HandlePromptRequest(r.Context(), beaconID)
	switch {
	case errors.Is(err, prompt.ErrMissingBeaconID):
		writeJSON(w, a.logger, http.StatusBadRequest, map[string]string{"error": "beacon_id is required"})
		return
	case err != nil:
		a.logger.Error("prompt request failed", "beacon", beaconID, "error", err)
		writeJSON(w, a.logger, http.StatusInternalServerError, map[string]string{"error": "failed to generate prompt"})
		return
	}

	if result.Insufficient {
		writeJSON(w, a.logger, http.StatusOK, map[string]string{"message": "Not enough users nearby"})
		return
	}

	writeJSON(w, a.logger, http.StatusOK, result.Record)
}

func (a *App) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	beaconID := r.URL.Query().Get("beacon_id")
	if beaconID == "" {
		writeJSON(w, a.logger, http.StatusBadRequest, map[string]string{"error": "beacon_id is required"})
		return
	}

	users, err := a.adminView.NearbyUsers(r.Context(), beaconID, presence.IncludeAll)
	if err != nil {
		a.logger.Error("users request failed", "beacon", beaconID, "error", err)
		writeJSON(w, a.logger, http.StatusInternalServerError, map[string]string{"error": "failed to load users"})
		return
	}
	if users == nil {
		users = []string{}
	}

	policy := a.adminView.Policy()
	response := struct {
		TotalUsers         int      `json:"total_users"`
		ProximityThreshold int      `json:"proximity_threshold"`
		CleanupThreshold   float64  `json:"cleanup_threshold"`
		Users              []string `json:"users"`
	}{
		TotalUsers:         len(users),
		ProximityThreshold: policy.SignalThreshold,
		CleanupThreshold:   policy.StalenessWindow.Seconds(),
		Users:              users,
	}

	writeJSON(w, a.logger, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func (a *App) recordIngestionError(ctx context.Context, beaconID string, payload []byte, cause error) {
	if a.store == nil {
		return
	}

	recCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	entry := model.IngestionError{
		BeaconID: beaconID,
		Payload:  truncateString(string(payload), 4096),
		Error:    cause.Error(),
	}

	if err := a.store.InsertIngestionError(recCtx, entry); err != nil {
		a.logger.Error("failed to persist ingestion error", "error", err)
	}
}

func truncateString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
