package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"plaza-service/internal/camera"
	"plaza-service/internal/domain/detection"
	"plaza-service/internal/repository"
	"plaza-service/internal/utils"
)

// DetectionSource is the external plate-recognition backend.
type DetectionSource interface {
	FetchEvents(ctx context.Context, since time.Time) ([]detection.EventPayload, error)
}

// FetchService pulls detection events from the source, stores new ones
// (dedup by provider detection id), and hands them to the state machine.
type FetchService struct {
	source      DetectionSource
	repo        *repository.DetectionRepository
	machine     *DetectionService
	quickWindow time.Duration
	log         zerolog.Logger
}

func NewFetchService(source DetectionSource, repo *repository.DetectionRepository, machine *DetectionService, quickWindow time.Duration, log zerolog.Logger) *FetchService {
	if quickWindow <= 0 {
		quickWindow = 2 * time.Minute
	}
	return &FetchService{
		source:      source,
		repo:        repo,
		machine:     machine,
		quickWindow: quickWindow,
		log:         log,
	}
}

// FetchAndStore ingests one batch. A nil since defaults to the oldest of the
// per-gate watermarks (each active gate's newest stored detection), so no
// gate's backlog slips out of the window; the re-fetched overlap is dropped by
// dedup. An unreachable source is a soft outcome (SourceUnavailable=true),
// not an error, so pollers can back off; any other source failure is
// ErrUpstreamUnavailable.
func (s *FetchService) FetchAndStore(ctx context.Context, since *time.Time) (detection.FetchResult, error) {
	var result detection.FetchResult

	watermark := time.Time{}
	if since != nil {
		watermark = *since
	} else if last, err := s.repo.EarliestGateWatermark(ctx); err != nil {
		return result, fmt.Errorf("load fetch watermark: %w", err)
	} else if last != nil {
		watermark = *last
	}

	events, err := s.source.FetchEvents(ctx, watermark)
	if err != nil {
		if errors.Is(err, camera.ErrUnavailable) {
			s.log.Warn().Err(err).Msg("detection source unavailable, will retry")
			result.SourceUnavailable = true
			return result, nil
		}
		return result, fmt.Errorf("%w: fetch detections: %w", ErrUpstreamUnavailable, err)
	}
	result.Fetched = len(events)

	for i := range events {
		stored, err := s.StoreEvent(ctx, events[i])
		switch {
		case err != nil:
			result.Errors++
			s.log.Error().Err(err).Str("detection_id", events[i].DetectionID).Msg("failed to store detection event")
		case stored:
			result.Stored++
		default:
			result.Skipped++
		}
	}

	if result.Stored > 0 {
		if err := s.machine.ProcessNewEvents(ctx); err != nil {
			s.log.Error().Err(err).Msg("failed to process new detection events")
		}
	}

	s.log.Info().
		Int("fetched", result.Fetched).
		Int("stored", result.Stored).
		Int("skipped", result.Skipped).
		Int("errors", result.Errors).
		Msg("detection fetch completed")
	return result, nil
}

// QuickCapture is the low-latency variant: only the last couple of minutes.
func (s *FetchService) QuickCapture(ctx context.Context) (detection.FetchResult, error) {
	since := time.Now().Add(-s.quickWindow)
	return s.FetchAndStore(ctx, &since)
}

// StoreEvent persists one payload unless an event with the same provider
// detection id already exists. Returns whether a new row was written.
func (s *FetchService) StoreEvent(ctx context.Context, payload detection.EventPayload) (bool, error) {
	if payload.DetectionID == "" {
		return false, fmt.Errorf("%w: detection_id is required", ErrInvalidInput)
	}
	if payload.GateID == 0 {
		return false, fmt.Errorf("%w: gate_id is required", ErrInvalidInput)
	}
	if payload.DetectedAt.IsZero() {
		return false, fmt.Errorf("%w: detected_at is required", ErrInvalidInput)
	}

	exists, err := s.repo.ExistsByDetectionID(ctx, payload.DetectionID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	ev := &detection.Event{
		EventPayload:    payload,
		NormalizedPlate: utils.NormalizePlate(payload.Plate),
	}
	ev.Direction = payload.Direction.Normalize()
	err = s.repo.Create(ctx, ev)
	if errors.Is(err, repository.ErrDuplicateDetection) {
		// Lost a concurrent-ingest race for the same detection id.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Ingest stores a pushed payload (camera webhook) and routes it immediately.
func (s *FetchService) Ingest(ctx context.Context, payload detection.EventPayload) (bool, error) {
	stored, err := s.StoreEvent(ctx, payload)
	if err != nil || !stored {
		return stored, err
	}
	if err := s.machine.ProcessNewEvents(ctx); err != nil {
		s.log.Error().Err(err).Msg("failed to process pushed detection event")
	}
	return true, nil
}
