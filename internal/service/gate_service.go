package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"plaza-service/internal/domain/gate"
	"plaza-service/internal/repository"
)

// GateService allocates physical gates to operators, one active holder per
// gate within a station.
type GateService struct {
	repo *repository.GateRepository
	log  zerolog.Logger
	now  func() time.Time
}

func NewGateService(repo *repository.GateRepository, log zerolog.Logger) *GateService {
	return &GateService{repo: repo, log: log, now: time.Now}
}

// Claim rejection reasons returned to operators.
const (
	reasonGateHeld         = "gate is already held by another operator"
	reasonOperatorOccupied = "a different gate is already selected at this station, deselect it first"
)

// SelectGate claims the gate for the operator. Conflicts are a normal
// SelectResult with the blocking reason, not an error; validation problems
// are errors.
func (s *GateService) SelectGate(ctx context.Context, operatorID, stationID, gateID int64) (gate.SelectResult, error) {
	if operatorID == 0 || stationID == 0 || gateID == 0 {
		return gate.SelectResult{}, fmt.Errorf("%w: operator_id, station_id and gate_id are required", ErrInvalidInput)
	}

	assignments, err := s.repo.ActiveAssignments(ctx, operatorID)
	if err != nil {
		return gate.SelectResult{}, fmt.Errorf("load operator assignments: %w", err)
	}
	assigned := false
	for _, a := range assignments {
		if a.StationID == stationID {
			assigned = true
			break
		}
	}
	if !assigned {
		return gate.SelectResult{}, fmt.Errorf("%w: operator %d is not assigned to station %d", ErrNotFound, operatorID, stationID)
	}

	g, err := s.repo.GateByID(ctx, gateID)
	if err != nil {
		return gate.SelectResult{}, fmt.Errorf("lookup gate: %w", err)
	}
	if g == nil || g.StationID != stationID {
		return gate.SelectResult{}, fmt.Errorf("%w: gate %d does not belong to station %d", ErrNotFound, gateID, stationID)
	}
	if !g.Active {
		return gate.SelectResult{}, fmt.Errorf("%w: gate %d is inactive", ErrInvalidInput, gateID)
	}

	held, err := s.repo.HeldGateIDs(ctx, []int64{stationID}, operatorID)
	if err != nil {
		return gate.SelectResult{}, fmt.Errorf("load held gates: %w", err)
	}
	if held[gateID] {
		return gate.SelectResult{Reason: reasonGateHeld}, nil
	}

	err = s.repo.ClaimGate(ctx, operatorID, stationID, gateID, s.now())
	switch {
	case errors.Is(err, repository.ErrGateHeld):
		// Raced with another operator's claim.
		return gate.SelectResult{Reason: reasonGateHeld}, nil
	case errors.Is(err, repository.ErrOperatorOccupied):
		return gate.SelectResult{Reason: reasonOperatorOccupied}, nil
	case err != nil:
		return gate.SelectResult{}, fmt.Errorf("claim gate: %w", err)
	}

	s.log.Info().
		Int64("operator_id", operatorID).
		Int64("station_id", stationID).
		Int64("gate_id", gateID).
		Msg("gate selected")
	return gate.SelectResult{Selected: true}, nil
}

// DeselectGate releases the operator's gate in every station assignment.
func (s *GateService) DeselectGate(ctx context.Context, operatorID int64) (bool, error) {
	if operatorID == 0 {
		return false, fmt.Errorf("%w: operator_id is required", ErrInvalidInput)
	}
	released, err := s.repo.ReleaseGates(ctx, operatorID)
	if err != nil {
		return false, fmt.Errorf("release gates: %w", err)
	}
	if released > 0 {
		s.log.Info().Int64("operator_id", operatorID).Int64("released", released).Msg("gates deselected")
	}
	return released > 0, nil
}

// ListAvailableGates returns active gates in the operator's active stations,
// minus gates held by any other active operator.
func (s *GateService) ListAvailableGates(ctx context.Context, operatorID int64) ([]gate.Gate, error) {
	assignments, err := s.repo.ActiveAssignments(ctx, operatorID)
	if err != nil {
		return nil, fmt.Errorf("load operator assignments: %w", err)
	}
	stationIDs := make([]int64, 0, len(assignments))
	for _, a := range assignments {
		stationIDs = append(stationIDs, a.StationID)
	}

	gates, err := s.repo.ActiveGatesForStations(ctx, stationIDs)
	if err != nil {
		return nil, fmt.Errorf("load station gates: %w", err)
	}
	held, err := s.repo.HeldGateIDs(ctx, stationIDs, operatorID)
	if err != nil {
		return nil, fmt.Errorf("load held gates: %w", err)
	}

	available := make([]gate.Gate, 0, len(gates))
	for _, g := range gates {
		if !held[g.ID] {
			available = append(available, g)
		}
	}
	return available, nil
}

// CurrentGates lists every (station, gate) the operator holds, ordered by
// station id. Multi-station operators can hold one gate per station, so the
// full list is returned rather than an arbitrary first.
func (s *GateService) CurrentGates(ctx context.Context, operatorID int64) ([]gate.Holding, error) {
	return s.repo.Holdings(ctx, operatorID)
}

// WithClock overrides the service clock, for tests.
func (s *GateService) WithClock(now func() time.Time) *GateService {
	s.now = now
	return s
}
