package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sebschlo/beacon-prompt-server/internal/model"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database connection and schema lifecycle. It backs
// the durable presence store, the user profile store, and the append-only
// prompt log.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures baseline tables exist.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS beacon_presence (
			beacon_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			rssi INTEGER NOT NULL,
			observed_at TEXT NOT NULL,
			received_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
			PRIMARY KEY (beacon_id, user_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_beacon_presence_observed ON beacon_presence(beacon_id, observed_at);`,
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id TEXT PRIMARY KEY,
			display_name TEXT,
			bio TEXT,
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE TABLE IF NOT EXISTS prompt_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			beacon_id TEXT NOT NULL,
			users TEXT NOT NULL,
			prompt TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ingestion_errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			beacon_id TEXT,
			payload TEXT,
			error TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// UpsertSighting records the most recent sighting for a (beacon, user) pair,
// replacing any previous one.
func (s *Store) UpsertSighting(ctx context.Context, sighting model.Sighting) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	observedAt := sighting.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO beacon_presence (beacon_id, user_id, rssi, observed_at, received_at)
		 VALUES (?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		 ON CONFLICT(beacon_id, user_id)
		 DO UPDATE SET rssi = excluded.rssi,
				 observed_at = excluded.observed_at,
				 received_at = excluded.received_at;`,
		sighting.BeaconID,
		sighting.UserID,
		sighting.RSSI,
		observedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert sighting: %w", err)
	}

	return nil
}

type snapshotValue struct {
	RSSI       int    `json:"rssi"`
	ObservedAt string `json:"observed_at"`
}

// ReadSnapshot returns the raw presence mapping for one beacon as JSON, or
// nil if the beacon has no entries.
func (s *Store) ReadSnapshot(ctx context.Context, beaconID string) ([]byte, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT user_id, rssi, observed_at FROM beacon_presence WHERE beacon_id = ?;`,
		beaconID,
	)
	if err != nil {
		return nil, fmt.Errorf("query beacon snapshot: %w", err)
	}
	defer rows.Close()

	snapshot := make(map[string]snapshotValue)
	for rows.Next() {
		var userID, observedAt string
		var rssi int
		if err := rows.Scan(&userID, &rssi, &observedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot entry: %w", err)
		}
		snapshot[userID] = snapshotValue{RSSI: rssi, ObservedAt: observedAt}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot entries: %w", err)
	}

	if len(snapshot) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// AllSnapshots returns the raw presence mapping for every beacon, keyed by
// beacon ID. Used by the mirror path for the unfiltered passthrough.
func (s *Store) AllSnapshots(ctx context.Context) (map[string]json.RawMessage, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT beacon_id, user_id, rssi, observed_at FROM beacon_presence;`,
	)
	if err != nil {
		return nil, fmt.Errorf("query presence: %w", err)
	}
	defer rows.Close()

	beacons := make(map[string]map[string]snapshotValue)
	for rows.Next() {
		var beaconID, userID, observedAt string
		var rssi int
		if err := rows.Scan(&beaconID, &userID, &rssi, &observedAt); err != nil {
			return nil, fmt.Errorf("scan presence entry: %w", err)
		}
		if beacons[beaconID] == nil {
			beacons[beaconID] = make(map[string]snapshotValue)
		}
		beacons[beaconID][userID] = snapshotValue{RSSI: rssi, ObservedAt: observedAt}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate presence entries: %w", err)
	}

	out := make(map[string]json.RawMessage, len(beacons))
	for beaconID, snapshot := range beacons {
		data, err := json.Marshal(snapshot)
		if err != nil {
			return nil, fmt.Errorf("encode snapshot for %s: %w", beaconID, err)
		}
		out[beaconID] = data
	}
	return out, nil
}

// DeleteSighting removes one (beacon, user) entry. Deleting an absent entry
// succeeds without effect.
func (s *Store) DeleteSighting(ctx context.Context, beaconID, userID string) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	_, err := s.db.ExecContext(
		ctx,
		`DELETE FROM beacon_presence WHERE beacon_id = ? AND user_id = ?;`,
		beaconID,
		userID,
	)
	if err != nil {
		return fmt.Errorf("delete sighting: %w", err)
	}
	return nil
}

// DeleteBeacon removes every presence entry under a beacon.
func (s *Store) DeleteBeacon(ctx context.Context, beaconID string) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	_, err := s.db.ExecContext(
		ctx,
		`DELETE FROM beacon_presence WHERE beacon_id = ?;`,
		beaconID,
	)
	if err != nil {
		return fmt.Errorf("delete beacon: %w", err)
	}
	return nil
}

// GetProfile loads a user's profile. A missing profile yields nil, not an
// error, so the orchestrator can distinguish "no profile" from a failed read.
func (s *Store) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	var profile model.UserProfile
	var displayName, bio sql.NullString
	err := s.db.QueryRowContext(
		ctx,
		`SELECT user_id, display_name, bio FROM user_profiles WHERE user_id = ?;`,
		userID,
	).Scan(&profile.UserID, &displayName, &bio)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	profile.DisplayName = displayName.String
	profile.Bio = bio.String
	return &profile, nil
}

// UpsertProfile stores or updates a user profile.
func (s *Store) UpsertProfile(ctx context.Context, profile model.UserProfile) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO user_profiles (user_id, display_name, bio, updated_at)
		 VALUES (?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		 ON CONFLICT(user_id) DO UPDATE SET display_name = excluded.display_name,
				 bio = excluded.bio,
				 updated_at = excluded.updated_at;`,
		profile.UserID,
		profile.DisplayName,
		profile.Bio,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// AppendPromptRecord appends one record to the prompt log.
func (s *Store) AppendPromptRecord(ctx context.Context, record model.PromptRecord) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	users, err := json.Marshal(record.Users)
	if err != nil {
		return fmt.Errorf("encode participant list: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO prompt_records (beacon_id, users, prompt, created_at) VALUES (?, ?, ?, ?);`,
		record.BeaconID,
		string(users),
		record.Prompt,
		record.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append prompt record: %w", err)
	}
	return nil
}

// RecentPromptRecords returns the most recent prompt records, newest first.
func (s *Store) RecentPromptRecords(ctx context.Context, limit int) ([]model.PromptRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	if limit <= 0 {
		limit = 25
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT beacon_id, users, prompt, created_at
		 FROM prompt_records
		 ORDER BY id DESC
		 LIMIT ?;`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query prompt records: %w", err)
	}
	defer rows.Close()

	records := make([]model.PromptRecord, 0, limit)
	for rows.Next() {
		var beaconID, usersRaw, prompt, createdAtStr string
		if err := rows.Scan(&beaconID, &usersRaw, &prompt, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan prompt record: %w", err)
		}

		var users []string
		if err := json.Unmarshal([]byte(usersRaw), &users); err != nil {
			return nil, fmt.Errorf("decode participant list: %w", err)
		}

		createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			createdAt, _ = time.Parse("2006-01-02T15:04:05Z07:00", createdAtStr)
		}

		records = append(records, model.PromptRecord{
			Timestamp: createdAt,
			BeaconID:  beaconID,
			Users:     users,
			Prompt:    prompt,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompt records: %w", err)
	}

	return records, nil
}

// InsertIngestionError records a payload that failed validation.
func (s *Store) InsertIngestionError(ctx context.Context, e model.IngestionError) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO ingestion_errors (beacon_id, payload, error) VALUES (?, ?, ?);`,
		e.BeaconID,
		e.Payload,
		e.Error,
	)
	if err != nil {
		return fmt.Errorf("insert ingestion error: %w", err)
	}
	return nil
}
