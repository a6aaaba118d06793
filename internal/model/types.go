package model

import "time"

// Sighting captures a single proximity observation of a user at a beacon.
// A newer sighting for the same (beacon, user) pair supersedes the old one;
// sightings are never merged.
type Sighting struct {
	UserID     string    `json:"user_id"`
	BeaconID   string    `json:"beacon_id"`
	RSSI       int       `json:"rssi"`
	ObservedAt time.Time `json:"observed_at"`
}

// Age reports how long ago the sighting was observed relative to now.
func (s Sighting) Age(now time.Time) time.Duration {
	return now.Sub(s.ObservedAt)
}

// UserProfile is the stored profile document for one user. Bio may be empty
// for users that never filled one in.
type UserProfile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Bio         string `json:"bio,omitempty"`
}

// PromptRecord is the output of one successful orchestration run. It is
// created once, then published and appended to the prompt log verbatim;
// nothing in this server ever mutates or deletes one.
type PromptRecord struct {
	Timestamp time.Time `json:"timestamp"`
	BeaconID  string    `json:"beacon_id"`
	Users     []string  `json:"users"`
	Prompt    string    `json:"prompt"`
}

// IngestionError captures a sighting payload that failed validation.
type IngestionError struct {
	BeaconID string `json:"beacon_id"`
	Payload  string `json:"payload"`
	Error    string `json:"error"`
}
