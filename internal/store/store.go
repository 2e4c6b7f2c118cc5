package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"sosapp/contact-server/internal/model"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the SQLite database connection and schema lifecycle.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
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
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS location_samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL REFERENCES users(id),
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			captured_at TEXT NOT NULL,
			received_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_location_samples_user_time ON location_samples(user_id, captured_at);`,
		`CREATE TABLE IF NOT EXISTS contact_events (
			id TEXT PRIMARY KEY,
			first_id TEXT NOT NULL REFERENCES users(id),
			second_id TEXT NOT NULL REFERENCES users(id),
			duration INTEGER NOT NULL CHECK (duration > 0),
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_contact_events_created ON contact_events(created_at);`,
		`CREATE TABLE IF NOT EXISTS ingestion_errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT,
			payload TEXT,
			error TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// DB exposes the underlying sql.DB for callers that need raw access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// UpsertUser creates the user if missing and refreshes its name when one is given.
func (s *Store) UpsertUser(ctx context.Context, u model.User) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if u.ID == "" {
		return fmt.Errorf("upsert user: empty id")
	}

	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO users (id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = COALESCE(NULLIF(excluded.name, ''), users.name);`,
		u.ID,
		u.Name,
		formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// ListUsers returns every user ordered by identifier.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM users ORDER BY id ASC;`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var (
			id, createdAtStr string
			name             sql.NullString
		)
		if err := rows.Scan(&id, &name, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, model.User{ID: id, Name: name.String, CreatedAt: parseTime(createdAtStr)})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

// CountUsers returns the number of known users.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("store not initialized")
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// InsertLocationSample persists a sample, registering its user on first sight.
func (s *Store) InsertLocationSample(ctx context.Context, sample model.LocationSample) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if sample.UserID == "" {
		return fmt.Errorf("insert location sample: empty user id")
	}

	now := s.now()
	capturedAt := sample.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sample tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING;`,
		sample.UserID, formatTime(now)); err != nil {
		return fmt.Errorf("register sample user: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO location_samples (user_id, latitude, longitude, captured_at, received_at) VALUES (?, ?, ?, ?, ?);`,
		sample.UserID,
		sample.Latitude,
		sample.Longitude,
		formatTime(capturedAt),
		formatTime(now),
	); err != nil {
		return fmt.Errorf("insert location sample: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit location sample: %w", err)
	}
	return nil
}

// RecentLatitudes returns the latitudes a user reported at or after since.
func (s *Store) RecentLatitudes(ctx context.Context, userID string, since time.Time) ([]float64, error) {
	return s.recentColumn(ctx, "latitude", userID, since)
}

// RecentLongitudes returns the longitudes a user reported at or after since.
func (s *Store) RecentLongitudes(ctx context.Context, userID string, since time.Time) ([]float64, error) {
	return s.recentColumn(ctx, "longitude", userID, since)
}

func (s *Store) recentColumn(ctx context.Context, column, userID string, since time.Time) ([]float64, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	if column != "latitude" && column != "longitude" {
		return nil, fmt.Errorf("unknown sample column %q", column)
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+column+` FROM location_samples
		 WHERE user_id = ? AND captured_at >= ?
		 ORDER BY captured_at ASC, id ASC;`,
		userID,
		formatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("query recent %ss: %w", column, err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan %s: %w", column, err)
		}
		values = append(values, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %ss: %w", column, err)
	}

	return values, nil
}

// RecentSamples returns the newest samples of a user, newest first.
func (s *Store) RecentSamples(ctx context.Context, userID string, limit int) ([]model.StoredLocationSample, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	if limit <= 0 {
		limit = 25
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, user_id, latitude, longitude, captured_at, received_at
		 FROM location_samples
		 WHERE user_id = ?
		 ORDER BY captured_at DESC, id DESC
		 LIMIT ?;`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent samples: %w", err)
	}
	defer rows.Close()

	samples := make([]model.StoredLocationSample, 0, limit)
	for rows.Next() {
		var (
			sample                       model.StoredLocationSample
			capturedAtStr, receivedAtStr string
		)
		if err := rows.Scan(&sample.ID, &sample.UserID, &sample.Latitude, &sample.Longitude, &capturedAtStr, &receivedAtStr); err != nil {
			return nil, fmt.Errorf("scan location sample: %w", err)
		}
		sample.CapturedAt = parseTime(capturedAtStr)
		sample.ReceivedAt = parseTime(receivedAtStr)
		samples = append(samples, sample)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate location samples: %w", err)
	}

	return samples, nil
}

// CreateContactEvent records that first and second met, with the derived duration.
func (s *Store) CreateContactEvent(ctx context.Context, firstID, secondID string, duration int) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if duration <= 0 {
		return fmt.Errorf("create contact event: duration %d must be positive", duration)
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO contact_events (id, first_id, second_id, duration, created_at) VALUES (?, ?, ?, ?, ?);`,
		uuid.NewString(),
		firstID,
		secondID,
		duration,
		formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("insert contact event: %w", err)
	}
	return nil
}

// RecentContactEvents returns contact events newest first. A non-empty userID
// restricts the result to events where the user appears on either side.
func (s *Store) RecentContactEvents(ctx context.Context, userID string, limit int) ([]model.ContactEvent, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, first_id, second_id, duration, created_at FROM contact_events`
	var args []interface{}
	if userID != "" {
		query += ` WHERE first_id = ? OR second_id = ?`
		args = append(args, userID, userID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query+";", args...)
	if err != nil {
		return nil, fmt.Errorf("query contact events: %w", err)
	}
	defer rows.Close()

	return scanContactEvents(rows, limit)
}

// AllContactEvents returns every contact event ordered by creation time.
func (s *Store) AllContactEvents(ctx context.Context) ([]model.ContactEvent, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, first_id, second_id, duration, created_at
		 FROM contact_events
		 ORDER BY created_at ASC, rowid ASC;`)
	if err != nil {
		return nil, fmt.Errorf("query contact events: %w", err)
	}
	defer rows.Close()

	return scanContactEvents(rows, 0)
}

func scanContactEvents(rows *sql.Rows, capacity int) ([]model.ContactEvent, error) {
	events := make([]model.ContactEvent, 0, capacity)
	for rows.Next() {
		var (
			ev           model.ContactEvent
			createdAtStr string
		)
		if err := rows.Scan(&ev.ID, &ev.FirstID, &ev.SecondID, &ev.Duration, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan contact event: %w", err)
		}
		ev.CreatedAt = parseTime(createdAtStr)
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contact events: %w", err)
	}

	return events, nil
}

// InsertIngestionError records a payload that failed validation.
func (s *Store) InsertIngestionError(ctx context.Context, e model.IngestionError) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO ingestion_errors (user_id, payload, error, created_at) VALUES (?, ?, ?, ?);`,
		e.UserID,
		e.Payload,
		e.Error,
		formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("insert ingestion error: %w", err)
	}
	return nil
}

// IngestionErrorCount returns how many payloads were rejected.
func (s *Store) IngestionErrorCount(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("store not initialized")
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ingestion_errors;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ingestion errors: %w", err)
	}
	return n, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}
