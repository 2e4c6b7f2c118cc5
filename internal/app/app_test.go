package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sosapp/contact-server/internal/config"
	"sosapp/contact-server/internal/contact"
	"sosapp/contact-server/internal/model"
	"sosapp/contact-server/internal/mqttsub"
	"sosapp/contact-server/internal/store"
)

func newTestApp(t *testing.T) *App {
	t.Helper()

	cfg := config.Default()
	cfg.MQTTBroker = ""
	cfg.DatabasePath = filepath.Join(t.TempDir(), "contacts.db")

	a := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	db, err := store.Open(cfg.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.InitSchema(context.Background()))

	a.store = db
	a.scanner = contact.NewScanner(db, contact.Options{Logger: a.logger})
	return a
}

func publish(t *testing.T, a *App, topic string, payload any) {
	t.Helper()

	raw, ok := payload.([]byte)
	if !ok {
		var err error
		raw, err = json.Marshal(payload)
		require.NoError(t, err)
	}
	a.handleLocationPublish(context.Background(), mqttsub.PublishMessage{Topic: topic, Payload: raw})
}

func get(t *testing.T, a *App, target string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandleLocationPublish(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	captured := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)

	t.Run("Valid payload is stored", func(t *testing.T) {
		publish(t, a, "users/amine/locations", map[string]any{
			"user_id":     "amine",
			"latitude":    36.7538,
			"longitude":   3.0588,
			"captured_at": captured,
		})

		samples, err := a.store.RecentSamples(ctx, "amine", 10)
		require.NoError(t, err)
		require.Len(t, samples, 1)
		assert.Equal(t, 36.7538, samples[0].Latitude)
		assert.Equal(t, 3.0588, samples[0].Longitude)
		assert.True(t, samples[0].CapturedAt.Equal(captured))
	})

	t.Run("User id falls back to the topic", func(t *testing.T) {
		publish(t, a, "users/lina/locations", map[string]any{
			"latitude":  0.0,
			"longitude": 0.0,
		})

		samples, err := a.store.RecentSamples(ctx, "lina", 10)
		require.NoError(t, err)
		require.Len(t, samples, 1)
		assert.Zero(t, samples[0].Latitude)
		assert.WithinDuration(t, time.Now(), samples[0].CapturedAt, 5*time.Second)
	})

	t.Run("Rejected payloads are recorded as ingestion errors", func(t *testing.T) {
		publish(t, a, "users/zoe/locations", []byte("{not json"))
		publish(t, a, "users/zoe/locations", map[string]any{"latitude": 1.0})
		publish(t, a, "bad", map[string]any{"latitude": 1.0, "longitude": 1.0})

		n, err := a.store.IngestionErrorCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		samples, err := a.store.RecentSamples(ctx, "zoe", 10)
		require.NoError(t, err)
		assert.Empty(t, samples)
	})
}

func TestTopicUserID(t *testing.T) {
	assert.Equal(t, "amine", topicUserID("users/amine/locations"))
	assert.Equal(t, "lina", topicUserID("users/ lina /locations"))
	assert.Equal(t, "", topicUserID("users"))
	assert.Equal(t, "", topicUserID(""))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", truncateString("abc", 5))
	assert.Equal(t, "ab", truncateString("abc", 2))
	assert.Equal(t, "été", truncateString("étés", 3))
	assert.Equal(t, "abc", truncateString("abc", 0))
}

func TestHealthAndReadiness(t *testing.T) {
	a := newTestApp(t)

	rec := get(t, a, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = get(t, a, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	a.cfg.MQTTBroker = "tcp://localhost:1883"
	rec = get(t, a, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "configured broker without a connected subscriber")
}

func TestContactsEndpoints(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	for _, id := range []string{"amine", "lina", "zoe"} {
		require.NoError(t, a.store.UpsertUser(ctx, model.User{ID: id}))
	}
	require.NoError(t, a.store.CreateContactEvent(ctx, "amine", "lina", 30))
	require.NoError(t, a.store.CreateContactEvent(ctx, "lina", "zoe", 40))

	t.Run("Recent contacts filtered by user", func(t *testing.T) {
		rec := get(t, a, "/api/contacts?user=zoe")
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Contacts []model.ContactEvent `json:"contacts"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Contacts, 1)
		assert.Equal(t, "lina", body.Contacts[0].FirstID)
		assert.Equal(t, 40, body.Contacts[0].Duration)
	})

	t.Run("Limit out of range falls back to default", func(t *testing.T) {
		rec := get(t, a, "/api/contacts?limit=-4")
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Contacts []model.ContactEvent `json:"contacts"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Len(t, body.Contacts, 2)
	})

	t.Run("Only GET is allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/contacts", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
	})

	t.Run("CSV export lists every event oldest first", func(t *testing.T) {
		rec := get(t, a, "/api/export/contacts")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))

		rows, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, []string{"created_at", "id", "first_id", "second_id", "duration"}, rows[0])
		assert.Equal(t, []string{"amine", "lina", "30"}, rows[1][2:])
		assert.Equal(t, []string{"lina", "zoe", "40"}, rows[2][2:])
	})
}

func TestSamplesEndpoint(t *testing.T) {
	a := newTestApp(t)

	rec := get(t, a, "/api/samples")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	publish(t, a, "users/amine/locations", map[string]any{"latitude": 36.75, "longitude": 3.05})

	rec = get(t, a, "/api/samples?user=amine&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Samples []model.StoredLocationSample `json:"samples"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Samples, 1)
	assert.Equal(t, "amine", body.Samples[0].UserID)
}

func TestLastScanEndpoint(t *testing.T) {
	a := newTestApp(t)

	rec := get(t, a, "/api/scan/last")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"idle"}`, rec.Body.String())

	_, err := a.scanner.RunPass(context.Background())
	require.NoError(t, err)

	rec = get(t, a, "/api/scan/last")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		State string            `json:"state"`
		Last  *model.PassResult `json:"last"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Last)
	assert.Zero(t, body.Last.Pairs)
	assert.Empty(t, body.Last.Err)
}

func TestConfigEndpoint(t *testing.T) {
	a := newTestApp(t)

	rec := get(t, a, "/api/config")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Active map[string]any `json:"active"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(8080), body.Active["http_port"])
	assert.Equal(t, "1h0m0s", body.Active["scan_interval"])
	assert.Equal(t, "users/+/locations", body.Active["mqtt_topic"])
}

func TestMDNSHelpers(t *testing.T) {
	assert.Equal(t, "Contact Server (box local)", sanitizeMDNSInstance("Contact Server (box.local)"))
	assert.Equal(t, "Contact Server", sanitizeMDNSInstance("  "))
	assert.Len(t, []rune(sanitizeMDNSInstance(strings.Repeat("x", 100))), mdnsLabelLimit)

	assert.Equal(t, "my-host", sanitizeMDNSHost(" My Host "))
	assert.Equal(t, "contact-server", sanitizeMDNSHost(""))

	txt := mdnsTXT("users/+/locations", 8080, "Field_Box")
	assert.Contains(t, txt, "http_port=8080")
	assert.Contains(t, txt, "mqtt_topic=users/+/locations")
	assert.Contains(t, txt, "host=field-box.local")
}
