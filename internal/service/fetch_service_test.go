package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plaza-service/internal/camera"
	"plaza-service/internal/domain/detection"
)

type stubSource struct {
	events []detection.EventPayload
	err    error
	since  []time.Time
}

func (s *stubSource) FetchEvents(ctx context.Context, since time.Time) ([]detection.EventPayload, error) {
	s.since = append(s.since, since)
	return s.events, s.err
}

func payloadAt(detectionID string, gateID int64, plate string, at time.Time) detection.EventPayload {
	return detection.EventPayload{
		DetectionID: detectionID,
		GateID:      gateID,
		Plate:       plate,
		Direction:   detection.DirectionIn,
		DetectedAt:  at,
	}
}

func newFetchFixture(t *testing.T, source DetectionSource) (*fixture, *FetchService) {
	t.Helper()
	f := newFixture(t, DailyWindowPolicy{})
	fetch := NewFetchService(source, f.detRepo, f.detections, 2*time.Minute, zerolog.Nop())
	return f, fetch
}

func TestFetchAndStoreDedupsOverlappingWindows(t *testing.T) {
	now := time.Now()
	src := &stubSource{}
	f, fetch := newFetchFixture(t, src)
	stationID := f.seedStation(t, "north")
	gateID := f.seedGate(t, stationID, "N1")

	src.events = []detection.EventPayload{
		payloadAt("dup-1", gateID, "AA11", now.Add(-time.Minute)),
		payloadAt("dup-2", gateID, "BB22", now),
	}

	since := now.Add(-time.Hour)
	result, err := fetch.FetchAndStore(context.Background(), &since)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Fetched)
	assert.Equal(t, 2, result.Stored)
	assert.Equal(t, 0, result.Skipped)

	// Overlapping re-fetch: same provider ids, nothing new stored.
	result, err = fetch.FetchAndStore(context.Background(), &since)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Fetched)
	assert.Equal(t, 0, result.Stored)
	assert.Equal(t, 2, result.Skipped)

	var count int64
	require.NoError(t, f.db.Table("detection_events").Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestFetchAndStoreDefaultsToLastStoredWatermark(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	src := &stubSource{}
	f, fetch := newFetchFixture(t, src)
	stationID := f.seedStation(t, "north")
	gateID := f.seedGate(t, stationID, "N1")

	src.events = []detection.EventPayload{payloadAt("w-1", gateID, "CC33", now)}
	_, err := fetch.FetchAndStore(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, src.since[0].IsZero())

	src.events = nil
	_, err = fetch.FetchAndStore(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, src.since[1].Equal(now), "watermark should be the stored detected_at")
}

func TestFetchDefaultWatermarkIsPerGate(t *testing.T) {
	noon := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	src := &stubSource{}
	f, fetch := newFetchFixture(t, src)
	stationID := f.seedStation(t, "north")
	gateA := f.seedGate(t, stationID, "N1")
	gateB := f.seedGate(t, stationID, "N2")

	// Gate A's camera runs ahead of gate B's.
	_, err := fetch.StoreEvent(context.Background(), payloadAt("pg-1", gateA, "AA11", noon))
	require.NoError(t, err)
	_, err = fetch.StoreEvent(context.Background(), payloadAt("pg-2", gateB, "BB22", noon.Add(-10*time.Minute)))
	require.NoError(t, err)

	src.events = nil
	_, err = fetch.FetchAndStore(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, src.since, 1)
	assert.True(t, src.since[0].Equal(noon.Add(-10*time.Minute)),
		"default window must open at the lagging gate's watermark, got %s", src.since[0])

	// A gate with nothing stored yet widens the window to everything.
	f.seedGate(t, stationID, "N3")
	_, err = fetch.FetchAndStore(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, src.since, 2)
	assert.True(t, src.since[1].IsZero())
}

func TestFetchUpstreamFailureIsAnError(t *testing.T) {
	src := &stubSource{err: errors.New("malformed recognition payload")}
	_, fetch := newFetchFixture(t, src)

	result, err := fetch.FetchAndStore(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.False(t, result.SourceUnavailable)
}

func TestFetchSourceUnavailableIsSoft(t *testing.T) {
	src := &stubSource{err: camera.ErrUnavailable}
	_, fetch := newFetchFixture(t, src)

	result, err := fetch.FetchAndStore(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, result.SourceUnavailable)
	assert.Equal(t, 0, result.Fetched)
}

func TestFetchRejectsInvalidPayloads(t *testing.T) {
	now := time.Now()
	src := &stubSource{}
	f, fetch := newFetchFixture(t, src)
	stationID := f.seedStation(t, "north")
	gateID := f.seedGate(t, stationID, "N1")

	src.events = []detection.EventPayload{
		payloadAt("", gateID, "NOID1", now),
		payloadAt("ok-1", gateID, "OK11", now),
	}

	since := now.Add(-time.Hour)
	result, err := fetch.FetchAndStore(context.Background(), &since)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stored)
	assert.Equal(t, 1, result.Errors)
}

func TestQuickCaptureUsesNarrowWindow(t *testing.T) {
	src := &stubSource{}
	_, fetch := newFetchFixture(t, src)

	start := time.Now()
	_, err := fetch.QuickCapture(context.Background())
	require.NoError(t, err)
	require.Len(t, src.since, 1)
	lag := start.Sub(src.since[0])
	assert.InDelta(t, (2 * time.Minute).Seconds(), lag.Seconds(), 5)
}

func TestFetchRoutesStoredEvents(t *testing.T) {
	now := time.Now()
	src := &stubSource{}
	f, fetch := newFetchFixture(t, src)
	stationID := f.seedStation(t, "north")
	gateID := f.seedGate(t, stationID, "N1")

	src.events = []detection.EventPayload{payloadAt("r-1", gateID, "RT55", now)}
	since := now.Add(-time.Hour)
	result, err := fetch.FetchAndStore(context.Background(), &since)
	require.NoError(t, err)
	require.Equal(t, 1, result.Stored)

	// Unknown plate lands straight in the classification queue.
	items, err := f.detections.VehicleTypeQueue(context.Background(), 0, true)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "RT55", items[0].Plate)
}
