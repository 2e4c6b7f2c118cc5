package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sosapp/contact-server/internal/geo"
	"sosapp/contact-server/internal/model"
	"sosapp/contact-server/internal/mqttsub"
)

// locationPayload is the tracker publish format. Coordinates are pointers so a
// missing field can be told apart from zero.
type locationPayload struct {
	UserID     string    `json:"user_id"`
	Latitude   *float64  `json:"latitude"`
	Longitude  *float64  `json:"longitude"`
	CapturedAt time.Time `json:"captured_at"`
}

func (a *App) handleLocationPublish(ctx context.Context, msg mqttsub.PublishMessage) {
	var payload locationPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		a.logger.Warn("mqtt payload decode failed", "topic", msg.Topic, "error", err)
		a.recordIngestionError(ctx, topicUserID(msg.Topic), msg.Payload, fmt.Errorf("decode payload: %w", err))
		return
	}

	if payload.UserID == "" {
		payload.UserID = topicUserID(msg.Topic)
	}

	if payload.UserID == "" || payload.Latitude == nil || payload.Longitude == nil {
		err := fmt.Errorf("missing required fields (user_id=%q latitude=%t longitude=%t)",
			payload.UserID, payload.Latitude != nil, payload.Longitude != nil)
		a.logger.Warn("mqtt payload validation failed", "topic", msg.Topic, "error", err)
		a.recordIngestionError(ctx, payload.UserID, msg.Payload, err)
		return
	}

	point := geo.Point{Latitude: *payload.Latitude, Longitude: *payload.Longitude}
	if !point.Valid() {
		err := fmt.Errorf("non-finite coordinates (%v, %v)", point.Latitude, point.Longitude)
		a.logger.Warn("mqtt payload validation failed", "topic", msg.Topic, "error", err)
		a.recordIngestionError(ctx, payload.UserID, msg.Payload, err)
		return
	}

	if payload.CapturedAt.IsZero() {
		payload.CapturedAt = time.Now().UTC()
	}

	sample := model.LocationSample{
		UserID:     payload.UserID,
		Latitude:   point.Latitude,
		Longitude:  point.Longitude,
		CapturedAt: payload.CapturedAt,
	}

	storeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := a.store.InsertLocationSample(storeCtx, sample); err != nil {
		a.logger.Error("failed to persist location sample", "user", sample.UserID, "error", err)
		a.recordIngestionError(ctx, sample.UserID, msg.Payload, err)
		return
	}

	a.logger.Debug("ingested location sample", "user", sample.UserID, "lat", sample.Latitude, "lon", sample.Longitude)
}

// topicUserID extracts <id> from users/<id>/locations style topics.
func topicUserID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func (a *App) recordIngestionError(ctx context.Context, userID string, payload []byte, cause error) {
	if a.store == nil {
		return
	}

	recCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	entry := model.IngestionError{
		UserID:  userID,
		Payload: truncateString(string(payload), 4096),
		Error:   cause.Error(),
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
