package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sosapp/contact-server/internal/contact"
)

func TestReadSamples(t *testing.T) {
	input := strings.Join([]string{
		"user_id,latitude,longitude,captured_at",
		"amine,36.7538,3.0588,2026-05-02T09:00:00Z",
		"lina, 36.7540, 3.0590",
		"zoe,north,3.0",
		",1,1",
		"zoe,NaN,1",
		"zoe,1,1,yesterday",
		"zoe,1",
	}, "\n")

	samples, rowErrs, err := readSamples(strings.NewReader(input))
	require.NoError(t, err)

	require.Len(t, samples, 2)
	assert.Equal(t, "amine", samples[0].UserID)
	assert.Equal(t, 36.7538, samples[0].Latitude)
	assert.True(t, samples[0].CapturedAt.Equal(time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, "lina", samples[1].UserID)
	assert.True(t, samples[1].CapturedAt.IsZero(), "missing timestamp is left for the store to fill")

	require.Len(t, rowErrs, 5)
	assert.ErrorContains(t, rowErrs[0], "line 4: latitude")
	assert.ErrorContains(t, rowErrs[1], "empty user_id")
	assert.ErrorContains(t, rowErrs[2], "non-finite")
	assert.ErrorContains(t, rowErrs[3], "captured_at")
	assert.ErrorContains(t, rowErrs[4], "expected 3 or 4 fields")
}

func TestReadSamplesWithoutHeader(t *testing.T) {
	samples, rowErrs, err := readSamples(strings.NewReader("amine,1,2\n"))
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	require.Len(t, samples, 1)
	assert.Equal(t, 2.0, samples[0].Longitude)
}

func TestParseCoordinates(t *testing.T) {
	coords, err := parseCoordinates([]string{"51.5074", "-0.1278", "48.8566", "2.3522"})
	require.NoError(t, err)
	assert.Equal(t, []float64{51.5074, -0.1278, 48.8566, 2.3522}, coords)

	_, err = parseCoordinates([]string{"1", "x"})
	assert.ErrorContains(t, err, "coordinate 2")

	_, err = parseCoordinates([]string{"Inf"})
	assert.True(t, errors.Is(err, contact.ErrInvalidCoordinate))
}
