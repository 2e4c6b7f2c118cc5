package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sosapp/contact-server/internal/model"
)

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/readyz", a.handleReadyz)
	mux.HandleFunc("/api/contacts", a.handleRecentContacts)
	mux.HandleFunc("/api/samples", a.handleRecentSamples)
	mux.HandleFunc("/api/scan/last", a.handleLastScan)
	mux.HandleFunc("/api/config", a.handleConfig)
	mux.HandleFunc("/api/export/contacts", a.handleExportContacts)
	return mux
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ingestReady := a.cfg.MQTTBroker == "" || (a.subscriber != nil && a.subscriber.Connected())
	if a.store == nil || a.scanner == nil || !ingestReady {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func (a *App) handleRecentContacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if a.store == nil {
		http.Error(w, "store not initialized", http.StatusServiceUnavailable)
		return
	}

	limit := queryLimit(r, 50, 500)
	userID := strings.TrimSpace(r.URL.Query().Get("user"))

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	events, err := a.store.RecentContactEvents(ctx, userID, limit)
	if err != nil {
		a.logger.Error("failed to load contact events", "error", err)
		http.Error(w, "failed to load contacts", http.StatusInternalServerError)
		return
	}

	response := struct {
		Contacts []model.ContactEvent `json:"contacts"`
	}{Contacts: events}

	writeJSON(w, a, http.StatusOK, response)
}

func (a *App) handleRecentSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if a.store == nil {
		http.Error(w, "store not initialized", http.StatusServiceUnavailable)
		return
	}

	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	if userID == "" {
		http.Error(w, "user is required", http.StatusBadRequest)
		return
	}

	limit := queryLimit(r, 25, 250)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	samples, err := a.store.RecentSamples(ctx, userID, limit)
	if err != nil {
		a.logger.Error("failed to load location samples", "user", userID, "error", err)
		http.Error(w, "failed to load samples", http.StatusInternalServerError)
		return
	}

	response := struct {
		Samples []model.StoredLocationSample `json:"samples"`
	}{Samples: samples}

	writeJSON(w, a, http.StatusOK, response)
}

func (a *App) handleLastScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if a.scanner == nil {
		http.Error(w, "scanner not started", http.StatusServiceUnavailable)
		return
	}

	response := struct {
		State string            `json:"state"`
		Last  *model.PassResult `json:"last,omitempty"`
	}{State: a.scanner.State().String()}

	if last, ok := a.scanner.LastPass(); ok {
		response.Last = &last
	}

	writeJSON(w, a, http.StatusOK, response)
}

func (a *App) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	active := map[string]any{
		"http_port":     a.cfg.HTTPPort,
		"database_path": a.cfg.DatabasePath,
		"log_level":     a.cfg.LogLevel,
		"mqtt_broker":   a.cfg.MQTTBroker,
		"mqtt_topic":    a.cfg.MQTTTopic,
		"scan_warmup":   a.cfg.ScanWarmup.String(),
		"scan_interval": a.cfg.ScanInterval.String(),
		"scan_window":   a.cfg.ScanWindow.String(),
		"mdns_enabled":  a.cfg.MDNSEnabled,
	}

	writeJSON(w, a, http.StatusOK, struct {
		Active map[string]any `json:"active"`
	}{Active: active})
}

func (a *App) handleExportContacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if a.store == nil {
		http.Error(w, "store not initialized", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	events, err := a.store.AllContactEvents(ctx)
	if err != nil {
		a.logger.Error("export: failed to load contact events", "error", err)
		http.Error(w, "failed to load contacts", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=contact_events.csv")

	csvWriter := csv.NewWriter(w)
	defer csvWriter.Flush()

	if err := csvWriter.Write([]string{"created_at", "id", "first_id", "second_id", "duration"}); err != nil {
		a.logger.Error("export: failed to write header", "error", err)
		return
	}

	for _, ev := range events {
		row := []string{
			ev.CreatedAt.UTC().Format(time.RFC3339Nano),
			ev.ID,
			ev.FirstID,
			ev.SecondID,
			strconv.Itoa(ev.Duration),
		}
		if err := csvWriter.Write(row); err != nil {
			a.logger.Error("export: failed to write row", "error", err)
			return
		}
	}

	if err := csvWriter.Error(); err != nil {
		a.logger.Error("export: writer error", "error", err)
	}
}

func queryLimit(r *http.Request, def, max int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			if parsed > 0 && parsed <= max {
				limit = parsed
			}
		}
	}
	return limit
}

func writeJSON(w http.ResponseWriter, a *App, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}
