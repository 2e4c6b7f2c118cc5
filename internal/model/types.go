package model

import "time"

// User is a tracked person known to the store.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LocationSample is a single GPS fix reported by a user's tracker.
type LocationSample struct {
	UserID     string    `json:"user_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	CapturedAt time.Time `json:"captured_at"`
}

// StoredLocationSample extends LocationSample with database metadata.
type StoredLocationSample struct {
	LocationSample
	ID         int64     `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
}

// ContactEvent records that two users were inferred to have met.
// Duration is a scaled match count, not a measured time span.
type ContactEvent struct {
	ID        string    `json:"id"`
	FirstID   string    `json:"first_id"`
	SecondID  string    `json:"second_id"`
	Duration  int       `json:"duration"`
	CreatedAt time.Time `json:"created_at"`
}

// IngestionError captures a payload that failed validation or persistence.
type IngestionError struct {
	UserID  string `json:"user_id"`
	Payload string `json:"payload"`
	Error   string `json:"error"`
}

// PassResult summarises one co-presence scan pass.
type PassResult struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Since      time.Time `json:"since"`
	Users      int       `json:"users"`
	Pairs      int       `json:"pairs"`
	Contacts   int       `json:"contacts"`
	Skipped    int       `json:"skipped"`
	Err        string    `json:"error,omitempty"`
}
