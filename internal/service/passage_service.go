package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"plaza-service/internal/domain/passage"
	"plaza-service/internal/repository"
	"plaza-service/internal/utils"
)

type PassageService struct {
	repo   *repository.PassageRepository
	policy FarePolicy
	node   *snowflake.Node
	log    zerolog.Logger
	now    func() time.Time
}

func NewPassageService(repo *repository.PassageRepository, policy FarePolicy, node *snowflake.Node, log zerolog.Logger) *PassageService {
	return &PassageService{
		repo:   repo,
		policy: policy,
		node:   node,
		log:    log,
		now:    time.Now,
	}
}

// EntrySummary is the Data of a successful entry result.
type EntrySummary struct {
	PassageID     int64               `json:"passage_id"`
	PassageNumber string              `json:"passage_number"`
	VehicleID     int64               `json:"vehicle_id"`
	Plate         string              `json:"plate"`
	EntryTime     time.Time           `json:"entry_time"`
	BaseAmount    float64             `json:"base_amount"`
	PaymentKind   passage.PaymentKind `json:"payment_kind"`
}

// ExitSummary is the Data of a successful exit or preview result.
type ExitSummary struct {
	PassageID     int64        `json:"passage_id"`
	PassageNumber string       `json:"passage_number"`
	Plate         string       `json:"plate"`
	EntryTime     time.Time    `json:"entry_time"`
	ExitTime      time.Time    `json:"exit_time"`
	Fare          passage.Fare `json:"fare"`
	Type          passage.Type `json:"type"`
	ReceiptToken  string       `json:"receipt_token,omitempty"`
}

// ProcessEntry opens a passage for the plate. A vehicle already inside is a
// normal negative result, not an error.
func (s *PassageService) ProcessEntry(ctx context.Context, plate string, gateID, operatorID int64, opts passage.EntryOptions) (passage.Result, error) {
	normalized := utils.NormalizePlate(plate)
	if normalized == "" {
		return passage.Result{}, fmt.Errorf("%w: plate is required", ErrInvalidInput)
	}
	if gateID == 0 {
		return passage.Result{}, fmt.Errorf("%w: gate_id is required", ErrInvalidInput)
	}

	stationID, ok, err := s.repo.StationForGate(ctx, gateID)
	if err != nil {
		return passage.Result{}, fmt.Errorf("resolve station for gate: %w", err)
	}
	if !ok {
		return passage.Result{}, fmt.Errorf("%w: gate %d", ErrNotFound, gateID)
	}

	vehicle, err := s.repo.GetVehicleByPlate(ctx, normalized)
	if err != nil {
		return passage.Result{}, fmt.Errorf("lookup vehicle: %w", err)
	}
	if vehicle == nil {
		vehicle = &passage.Vehicle{
			Plate:           plate,
			NormalizedPlate: normalized,
			BodyTypeID:      opts.BodyTypeID,
			Make:            opts.Make,
			Model:           opts.Model,
			Color:           opts.Color,
		}
		if err := s.repo.CreateVehicle(ctx, vehicle); err != nil {
			return passage.Result{}, fmt.Errorf("create vehicle: %w", err)
		}
	} else if vehicle.BodyTypeID == nil && opts.BodyTypeID != nil {
		if err := s.repo.SetVehicleBodyType(ctx, vehicle.ID, *opts.BodyTypeID); err != nil {
			return passage.Result{}, fmt.Errorf("set body type: %w", err)
		}
		vehicle.BodyTypeID = opts.BodyTypeID
	}

	if active, err := s.repo.ActivePassage(ctx, vehicle.ID); err != nil {
		return passage.Result{}, fmt.Errorf("lookup active passage: %w", err)
	} else if active != nil {
		return passage.Fail(fmt.Sprintf("vehicle %s already has active passage %s", normalized, active.Number)), nil
	}

	now := s.now()

	paymentKind := passage.PaymentCash
	var bundleID *int64
	if opts.AccountID != nil {
		bundle, err := s.repo.ActiveBundle(ctx, *opts.AccountID, now)
		if err != nil {
			return passage.Result{}, fmt.Errorf("lookup bundle: %w", err)
		}
		if bundle != nil {
			paymentKind = passage.PaymentBundle
			bundleID = &bundle.ID
		}
	}

	// Price snapshot; deferred to zero when the body type is still unknown
	// and backfilled at exit once classified.
	var baseAmount float64
	if vehicle.BodyTypeID != nil {
		price, found, err := s.repo.EffectivePrice(ctx, *vehicle.BodyTypeID, stationID, now)
		if err != nil {
			return passage.Result{}, fmt.Errorf("lookup price: %w", err)
		}
		if found {
			baseAmount = price
		}
	}

	p := &passage.Passage{
		VehicleID:     vehicle.ID,
		EntryTime:     now,
		EntryGateID:   gateID,
		EntryOperator: operatorID,
		BaseAmount:    baseAmount,
		Type:          passage.TypeToll,
		Status:        passage.StatusActive,
		PaymentKind:   paymentKind,
		BundleID:      bundleID,
		Make:          opts.Make,
		Model:         opts.Model,
		Color:         opts.Color,
		Notes:         opts.Notes,
	}

	for attempt := 0; ; attempt++ {
		p.Number = s.generateNumber(now)
		err = s.repo.CreatePassage(ctx, p)
		if errors.Is(err, repository.ErrPassageNumberTaken) && attempt < 2 {
			continue
		}
		break
	}
	if errors.Is(err, repository.ErrActivePassageExists) {
		// Lost a concurrent-entry race; the other request's passage stands.
		return passage.Fail(fmt.Sprintf("vehicle %s already has an active passage", normalized)), nil
	}
	if err != nil {
		return passage.Result{}, fmt.Errorf("create passage: %w", err)
	}

	if paymentKind == passage.PaymentBundle && bundleID != nil {
		if err := s.repo.IncrementBundleUsage(ctx, *bundleID); err != nil {
			s.log.Error().Err(err).Int64("bundle_id", *bundleID).Msg("failed to increment bundle usage")
		}
	}

	s.log.Info().
		Int64("passage_id", p.ID).
		Str("passage_number", p.Number).
		Str("plate", normalized).
		Int64("gate_id", gateID).
		Int64("operator_id", operatorID).
		Str("payment_kind", string(paymentKind)).
		Float64("base_amount", baseAmount).
		Msg("passage opened")

	return passage.Ok(EntrySummary{
		PassageID:     p.ID,
		PassageNumber: p.Number,
		VehicleID:     vehicle.ID,
		Plate:         normalized,
		EntryTime:     now,
		BaseAmount:    baseAmount,
		PaymentKind:   paymentKind,
	}), nil
}

// ProcessExit closes the plate's active passage and charges per the configured
// policy. A missing active passage is a normal negative result.
func (s *PassageService) ProcessExit(ctx context.Context, plate string, gateID, operatorID int64, opts passage.ExitOptions) (passage.Result, error) {
	vehicle, current, res, err := s.resolveActive(ctx, plate)
	if err != nil || !res.Success {
		return res, err
	}

	now := s.now()
	stationID, ok, err := s.repo.StationForGate(ctx, gateID)
	if err != nil {
		return passage.Result{}, fmt.Errorf("resolve station for gate: %w", err)
	}
	if !ok {
		return passage.Result{}, fmt.Errorf("%w: gate %d", ErrNotFound, gateID)
	}

	if err := s.backfillBaseAmount(ctx, vehicle, current, stationID, now); err != nil {
		return passage.Result{}, err
	}

	fare, ptype, err := s.computeFare(ctx, vehicle, current, now)
	if err != nil {
		return passage.Result{}, err
	}

	current.ExitTime = &now
	current.ExitGateID = &gateID
	current.ExitOperator = &operatorID
	current.TotalAmount = fare.Amount
	current.Type = ptype
	if opts.ReceiptNotes != "" {
		current.Notes = opts.ReceiptNotes
	}

	done, err := s.repo.CompletePassage(ctx, current)
	if err != nil {
		return passage.Result{}, fmt.Errorf("complete passage: %w", err)
	}
	if !done {
		return passage.Fail(fmt.Sprintf("passage %s already closed", current.Number)), nil
	}

	s.log.Info().
		Str("passage_number", current.Number).
		Str("plate", vehicle.NormalizedPlate).
		Float64("amount", fare.Amount).
		Bool("free_reentry", fare.IsFreeReentry).
		Str("type", string(ptype)).
		Int64("gate_id", gateID).
		Int64("operator_id", operatorID).
		Msg("passage closed")

	return passage.Ok(ExitSummary{
		PassageID:     current.ID,
		PassageNumber: current.Number,
		Plate:         vehicle.NormalizedPlate,
		EntryTime:     current.EntryTime,
		ExitTime:      now,
		Fare:          fare,
		Type:          ptype,
		ReceiptToken:  uuid.NewString(),
	}), nil
}

// PreviewExit computes what the plate would owe right now without persisting
// anything.
func (s *PassageService) PreviewExit(ctx context.Context, plate string) (passage.Result, error) {
	vehicle, current, res, err := s.resolveActive(ctx, plate)
	if err != nil || !res.Success {
		return res, err
	}

	now := s.now()
	if current.BaseAmount == 0 && vehicle.BodyTypeID != nil {
		if stationID, ok, err := s.repo.StationForGate(ctx, current.EntryGateID); err == nil && ok {
			if price, found, err := s.repo.EffectivePrice(ctx, *vehicle.BodyTypeID, stationID, now); err == nil && found {
				current.BaseAmount = price
			}
		}
	}

	fare, ptype, err := s.computeFare(ctx, vehicle, current, now)
	if err != nil {
		return passage.Result{}, err
	}
	return passage.Ok(ExitSummary{
		PassageID:     current.ID,
		PassageNumber: current.Number,
		Plate:         vehicle.NormalizedPlate,
		EntryTime:     current.EntryTime,
		ExitTime:      now,
		Fare:          fare,
		Type:          ptype,
	}), nil
}

func (s *PassageService) GetByNumber(ctx context.Context, number string) (*passage.Passage, error) {
	p, err := s.repo.GetPassageByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: passage %s", ErrNotFound, number)
	}
	return p, nil
}

func (s *PassageService) ListActive(ctx context.Context, limit, offset int) ([]passage.Passage, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListActivePassages(ctx, limit, offset)
}

func (s *PassageService) resolveActive(ctx context.Context, plate string) (*passage.Vehicle, *passage.Passage, passage.Result, error) {
	normalized := utils.NormalizePlate(plate)
	if normalized == "" {
		return nil, nil, passage.Result{}, fmt.Errorf("%w: plate is required", ErrInvalidInput)
	}
	vehicle, err := s.repo.GetVehicleByPlate(ctx, normalized)
	if err != nil {
		return nil, nil, passage.Result{}, fmt.Errorf("lookup vehicle: %w", err)
	}
	if vehicle == nil {
		return nil, nil, passage.Fail(fmt.Sprintf("no vehicle on record for plate %s", normalized)), nil
	}
	current, err := s.repo.ActivePassage(ctx, vehicle.ID)
	if err != nil {
		return nil, nil, passage.Result{}, fmt.Errorf("lookup active passage: %w", err)
	}
	if current == nil {
		return nil, nil, passage.Fail(fmt.Sprintf("no active passage for plate %s", normalized)), nil
	}
	return vehicle, current, passage.Result{Success: true}, nil
}

func (s *PassageService) backfillBaseAmount(ctx context.Context, vehicle *passage.Vehicle, current *passage.Passage, stationID int64, now time.Time) error {
	if current.BaseAmount != 0 || vehicle.BodyTypeID == nil {
		return nil
	}
	price, found, err := s.repo.EffectivePrice(ctx, *vehicle.BodyTypeID, stationID, now)
	if err != nil {
		return fmt.Errorf("backfill price: %w", err)
	}
	if found {
		current.BaseAmount = price
	}
	return nil
}

func (s *PassageService) computeFare(ctx context.Context, vehicle *passage.Vehicle, current *passage.Passage, now time.Time) (passage.Fare, passage.Type, error) {
	if vehicle.ExemptAt(now) {
		return passage.Fare{Amount: 0}, passage.TypeExempted, nil
	}
	if current.PaymentKind == passage.PaymentBundle {
		return passage.Fare{Amount: 0}, passage.TypeFree, nil
	}

	var history []passage.Passage
	if lookback := s.policy.Lookback(); lookback > 0 {
		var err error
		history, err = s.repo.PassagesSince(ctx, vehicle.ID, now.Add(-lookback))
		if err != nil {
			return passage.Fare{}, "", fmt.Errorf("load passage history: %w", err)
		}
	}

	fare := s.policy.Calculate(vehicle, current, history, now)
	ptype := passage.TypeToll
	if fare.Amount == 0 {
		ptype = passage.TypeFree
	}
	return fare, ptype, nil
}

func (s *PassageService) generateNumber(at time.Time) string {
	return fmt.Sprintf("P%s-%s", at.Format("20060102"), s.node.Generate().String())
}

// WithClock overrides the service clock, for tests.
func (s *PassageService) WithClock(now func() time.Time) *PassageService {
	s.now = now
	return s
}
