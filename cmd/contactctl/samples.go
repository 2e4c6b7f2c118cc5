package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"sosapp/contact-server/internal/geo"
	"sosapp/contact-server/internal/model"
)

// readSamples parses user_id,latitude,longitude[,captured_at] rows. A header row is
// skipped when its first cell is "user_id". Bad rows are returned separately so one
// typo does not block the whole file.
func readSamples(r io.Reader) ([]model.LocationSample, []error, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		samples []model.LocationSample
		rowErrs []error
	)

	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv: %w", err)
		}

		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "user_id") {
			continue
		}

		sample, err := parseSampleRecord(record)
		if err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		samples = append(samples, sample)
	}

	return samples, rowErrs, nil
}

func parseSampleRecord(record []string) (model.LocationSample, error) {
	if len(record) < 3 || len(record) > 4 {
		return model.LocationSample{}, fmt.Errorf("expected 3 or 4 fields, got %d", len(record))
	}

	userID := strings.TrimSpace(record[0])
	if userID == "" {
		return model.LocationSample{}, errors.New("empty user_id")
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
	if err != nil {
		return model.LocationSample{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(record[2]), 64)
	if err != nil {
		return model.LocationSample{}, fmt.Errorf("longitude: %w", err)
	}
	if !(geo.Point{Latitude: lat, Longitude: lon}).Valid() {
		return model.LocationSample{}, fmt.Errorf("non-finite coordinates (%v, %v)", lat, lon)
	}

	sample := model.LocationSample{UserID: userID, Latitude: lat, Longitude: lon}
	if len(record) == 4 && strings.TrimSpace(record[3]) != "" {
		capturedAt, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(record[3]))
		if err != nil {
			return model.LocationSample{}, fmt.Errorf("captured_at: %w", err)
		}
		sample.CapturedAt = capturedAt.UTC()
	}
	return sample, nil
}
