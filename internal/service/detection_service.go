package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"plaza-service/internal/domain/detection"
	"plaza-service/internal/domain/passage"
	"plaza-service/internal/repository"
	"plaza-service/internal/utils"
)

// DetectionService drives stored detection events through the processing state
// machine: pending -> pending_vehicle_type | pending_exit | processed | failed.
type DetectionService struct {
	repo     *repository.DetectionRepository
	passRepo *repository.PassageRepository
	gateRepo *repository.GateRepository
	passages *PassageService
	log      zerolog.Logger
}

func NewDetectionService(
	repo *repository.DetectionRepository,
	passRepo *repository.PassageRepository,
	gateRepo *repository.GateRepository,
	passages *PassageService,
	log zerolog.Logger,
) *DetectionService {
	return &DetectionService{
		repo:     repo,
		passRepo: passRepo,
		gateRepo: gateRepo,
		passages: passages,
		log:      log,
	}
}

// ProcessNewEvents routes every pending event. Events for the same plate stay
// in stored FIFO order because ListPending orders by (detected_at, id) and
// routing is sequential.
func (s *DetectionService) ProcessNewEvents(ctx context.Context) error {
	events, err := s.repo.ListPending(ctx, 0)
	if err != nil {
		return fmt.Errorf("list pending events: %w", err)
	}
	for i := range events {
		if err := s.ProcessEvent(ctx, &events[i]); err != nil {
			return err
		}
	}
	return nil
}

// ProcessEvent applies the transition rules to one pending event. Only storage
// failures surface as errors; routing failures mark the event failed.
func (s *DetectionService) ProcessEvent(ctx context.Context, ev *detection.Event) error {
	normalized := utils.NormalizePlate(ev.Plate)
	if normalized == "" {
		// Unreadable plate: stays pending, outside both queues.
		return nil
	}

	vehicle, err := s.passRepo.GetVehicleByPlate(ctx, normalized)
	if err != nil {
		return fmt.Errorf("lookup vehicle: %w", err)
	}
	if vehicle == nil {
		return s.transition(ctx, ev, detection.StatusPendingVehicleType, "vehicle needs body type classification")
	}

	return s.routeKnownVehicle(ctx, ev, vehicle)
}

// routeKnownVehicle implements the shared tail of automatic routing and manual
// classification: entry when the vehicle is outside and the detection points
// in (or nowhere), exit confirmation otherwise.
func (s *DetectionService) routeKnownVehicle(ctx context.Context, ev *detection.Event, vehicle *passage.Vehicle) error {
	active, err := s.passRepo.ActivePassage(ctx, vehicle.ID)
	if err != nil {
		return fmt.Errorf("lookup active passage: %w", err)
	}

	dir := ev.Direction.Normalize()
	if active == nil && (dir == detection.DirectionIn || dir == detection.DirectionUnknown) {
		res, err := s.passages.ProcessEntry(ctx, ev.Plate, ev.GateID, 0, passage.EntryOptions{
			Make:  ev.Vehicle.Make,
			Model: ev.Vehicle.Model,
			Color: ev.Vehicle.Color,
		})
		if err != nil {
			s.log.Error().Err(err).Int64("event_id", ev.ID).Str("plate", ev.Plate).Msg("automatic entry failed")
			return s.transition(ctx, ev, detection.StatusFailed, err.Error())
		}
		if !res.Success {
			return s.transition(ctx, ev, detection.StatusFailed, res.Message)
		}
		summary, _ := res.Data.(EntrySummary)
		return s.transition(ctx, ev, detection.StatusProcessed,
			fmt.Sprintf("passage %s created", summary.PassageNumber))
	}

	if dir == detection.DirectionOut || (active != nil && dir == detection.DirectionUnknown) {
		return s.transition(ctx, ev, detection.StatusPendingExit, "awaiting exit confirmation")
	}

	// Inbound detection while the vehicle is already inside.
	return s.transition(ctx, ev, detection.StatusFailed,
		fmt.Sprintf("inbound detection but vehicle already has active passage %s", active.Number))
}

// ClassifyVehicle resolves a pending_vehicle_type item: the operator supplies
// a body type, the vehicle is created if still absent, and routing reruns with
// the event's direction.
func (s *DetectionService) ClassifyVehicle(ctx context.Context, eventID, bodyTypeID, operatorID int64) (passage.Result, error) {
	if bodyTypeID == 0 {
		return passage.Result{}, fmt.Errorf("%w: body_type_id is required", ErrInvalidInput)
	}
	ev, err := s.repo.GetByID(ctx, eventID)
	if err != nil {
		return passage.Result{}, fmt.Errorf("lookup event: %w", err)
	}
	if ev == nil {
		return passage.Result{}, fmt.Errorf("%w: detection event %d", ErrNotFound, eventID)
	}
	if ev.Status != detection.StatusPendingVehicleType {
		return passage.Result{}, fmt.Errorf("%w: event %d is %s, not %s",
			ErrConflict, eventID, ev.Status, detection.StatusPendingVehicleType)
	}

	normalized := utils.NormalizePlate(ev.Plate)
	vehicle, err := s.passRepo.GetVehicleByPlate(ctx, normalized)
	if err != nil {
		return passage.Result{}, fmt.Errorf("lookup vehicle: %w", err)
	}
	if vehicle == nil {
		vehicle = &passage.Vehicle{
			Plate:           ev.Plate,
			NormalizedPlate: normalized,
			BodyTypeID:      &bodyTypeID,
			Make:            ev.Vehicle.Make,
			Model:           ev.Vehicle.Model,
			Color:           ev.Vehicle.Color,
		}
		if err := s.passRepo.CreateVehicle(ctx, vehicle); err != nil {
			return passage.Result{}, fmt.Errorf("create vehicle: %w", err)
		}
	}
	if vehicle.BodyTypeID == nil {
		if err := s.passRepo.SetVehicleBodyType(ctx, vehicle.ID, bodyTypeID); err != nil {
			return passage.Result{}, fmt.Errorf("set body type: %w", err)
		}
		vehicle.BodyTypeID = &bodyTypeID
	}

	if err := s.routeKnownVehicle(ctx, ev, vehicle); err != nil {
		return passage.Result{}, err
	}

	s.log.Info().
		Int64("event_id", eventID).
		Int64("body_type_id", bodyTypeID).
		Int64("operator_id", operatorID).
		Str("status", string(ev.Status)).
		Msg("pending vehicle type resolved")
	return passage.Ok(map[string]interface{}{
		"event_id": eventID,
		"status":   ev.Status,
		"notes":    ev.Notes,
	}), nil
}

// ConfirmExit resolves a pending_exit item: the operator confirms and the exit
// is billed and persisted.
func (s *DetectionService) ConfirmExit(ctx context.Context, eventID, operatorID int64, opts passage.ExitOptions) (passage.Result, error) {
	ev, err := s.repo.GetByID(ctx, eventID)
	if err != nil {
		return passage.Result{}, fmt.Errorf("lookup event: %w", err)
	}
	if ev == nil {
		return passage.Result{}, fmt.Errorf("%w: detection event %d", ErrNotFound, eventID)
	}
	if ev.Status != detection.StatusPendingExit {
		return passage.Result{}, fmt.Errorf("%w: event %d is %s, not %s",
			ErrConflict, eventID, ev.Status, detection.StatusPendingExit)
	}

	opts.PaymentConfirmed = true
	res, err := s.passages.ProcessExit(ctx, ev.Plate, ev.GateID, operatorID, opts)
	if err != nil {
		if terr := s.transition(ctx, ev, detection.StatusFailed, err.Error()); terr != nil {
			return passage.Result{}, terr
		}
		return passage.Result{}, err
	}
	if !res.Success {
		if terr := s.transition(ctx, ev, detection.StatusFailed, res.Message); terr != nil {
			return passage.Result{}, terr
		}
		return res, nil
	}

	summary, _ := res.Data.(ExitSummary)
	if terr := s.transition(ctx, ev, detection.StatusProcessed,
		fmt.Sprintf("passage %s closed, amount %.2f", summary.PassageNumber, summary.Fare.Amount)); terr != nil {
		return passage.Result{}, terr
	}
	return res, nil
}

// VehicleTypeQueue lists pending_vehicle_type items FIFO, restricted to the
// operator's stations. Operators restricted to no stations see an empty queue.
func (s *DetectionService) VehicleTypeQueue(ctx context.Context, operatorID int64, unrestricted bool) ([]detection.QueueItem, error) {
	return s.queue(ctx, detection.StatusPendingVehicleType, operatorID, unrestricted)
}

// ExitQueue lists pending_exit items FIFO with active-passage context.
func (s *DetectionService) ExitQueue(ctx context.Context, operatorID int64, unrestricted bool) ([]detection.QueueItem, error) {
	return s.queue(ctx, detection.StatusPendingExit, operatorID, unrestricted)
}

func (s *DetectionService) queue(ctx context.Context, status detection.Status, operatorID int64, unrestricted bool) ([]detection.QueueItem, error) {
	var stationIDs []int64
	if !unrestricted {
		assignments, err := s.gateRepo.ActiveAssignments(ctx, operatorID)
		if err != nil {
			return nil, fmt.Errorf("load operator assignments: %w", err)
		}
		stationIDs = make([]int64, 0, len(assignments))
		for _, a := range assignments {
			stationIDs = append(stationIDs, a.StationID)
		}
	}
	return s.repo.QueueItems(ctx, status, stationIDs)
}

func (s *DetectionService) Stats(ctx context.Context) (detection.Stats, error) {
	return s.repo.Stats(ctx)
}

// CleanupOldEvents removes terminal events older than the given number of days.
func (s *DetectionService) CleanupOldEvents(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("%w: days must be positive", ErrInvalidInput)
	}
	deleted, err := s.repo.DeleteOlderThan(ctx, days)
	if err != nil {
		s.log.Error().Err(err).Int("days", days).Msg("failed to cleanup old events")
		return 0, err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted_count", deleted).Int("days", days).Msg("cleaned up old detection events")
	}
	return deleted, nil
}

func (s *DetectionService) transition(ctx context.Context, ev *detection.Event, status detection.Status, notes string) error {
	if err := s.repo.UpdateStatus(ctx, ev.ID, status, notes); err != nil {
		return fmt.Errorf("update event %d status: %w", ev.ID, err)
	}
	ev.Status = status
	ev.Notes = notes
	if status == detection.StatusProcessed || status == detection.StatusFailed {
		now := time.Now()
		ev.ProcessedAt = &now
	}
	s.log.Debug().
		Int64("event_id", ev.ID).
		Str("plate", ev.Plate).
		Str("status", string(status)).
		Str("notes", notes).
		Msg("detection event transitioned")
	return nil
}
