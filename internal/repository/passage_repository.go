package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"plaza-service/internal/domain/passage"
)

var (
	// ErrActivePassageExists reports that the storage layer rejected a second
	// active passage for the same vehicle.
	ErrActivePassageExists = errors.New("vehicle already has an active passage")
	// ErrPassageNumberTaken reports a passage number collision; callers
	// regenerate and retry.
	ErrPassageNumberTaken = errors.New("passage number already taken")
)

type PassageRepository struct {
	db *gorm.DB
}

func NewPassageRepository(db *gorm.DB) *PassageRepository {
	return &PassageRepository{db: db}
}

func (r *PassageRepository) GetVehicleByPlate(ctx context.Context, normalized string) (*passage.Vehicle, error) {
	var row Vehicle
	err := r.db.WithContext(ctx).Where("normalized_plate = ?", normalized).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v := toDomainVehicle(&row)
	return &v, nil
}

func (r *PassageRepository) CreateVehicle(ctx context.Context, v *passage.Vehicle) error {
	row := Vehicle{
		Plate:           v.Plate,
		NormalizedPlate: v.NormalizedPlate,
		BodyTypeID:      v.BodyTypeID,
		Registered:      v.Registered,
		CreatedAt:       time.Now(),
	}
	if v.Make != "" {
		row.Make = &v.Make
	}
	if v.Model != "" {
		row.Model = &v.Model
	}
	if v.Color != "" {
		row.Color = &v.Color
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost a create race; the winner's row is the vehicle.
			existing, lookupErr := r.GetVehicleByPlate(ctx, v.NormalizedPlate)
			if lookupErr == nil && existing != nil {
				*v = *existing
				return nil
			}
		}
		return err
	}
	v.ID = row.ID
	v.CreatedAt = row.CreatedAt
	return nil
}

func (r *PassageRepository) SetVehicleBodyType(ctx context.Context, vehicleID, bodyTypeID int64) error {
	return r.db.WithContext(ctx).
		Model(&Vehicle{}).
		Where("id = ?", vehicleID).
		Update("body_type_id", bodyTypeID).Error
}

// ActivePassage returns the vehicle's open passage, or nil when the vehicle is
// not inside.
func (r *PassageRepository) ActivePassage(ctx context.Context, vehicleID int64) (*passage.Passage, error) {
	var row Passage
	err := r.db.WithContext(ctx).
		Where("vehicle_id = ? AND exit_time IS NULL AND status = ?", vehicleID, string(passage.StatusActive)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p := toDomainPassage(&row)
	return &p, nil
}

func (r *PassageRepository) CreatePassage(ctx context.Context, p *passage.Passage) error {
	row := Passage{
		Number:        p.Number,
		VehicleID:     p.VehicleID,
		EntryTime:     p.EntryTime,
		EntryGateID:   p.EntryGateID,
		EntryOperator: p.EntryOperator,
		BaseAmount:    p.BaseAmount,
		Type:          string(p.Type),
		Status:        string(p.Status),
		PaymentKind:   string(p.PaymentKind),
		BundleID:      p.BundleID,
		CreatedAt:     time.Now(),
	}
	if p.Make != "" {
		row.Make = &p.Make
	}
	if p.Model != "" {
		row.Model = &p.Model
	}
	if p.Color != "" {
		row.Color = &p.Color
	}
	if p.Notes != "" {
		row.Notes = &p.Notes
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			taken, lookupErr := r.numberTaken(ctx, p.Number)
			if lookupErr == nil && taken {
				return ErrPassageNumberTaken
			}
			return ErrActivePassageExists
		}
		return err
	}
	p.ID = row.ID
	return nil
}

func (r *PassageRepository) numberTaken(ctx context.Context, number string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Passage{}).
		Where("number = ?", number).
		Count(&count).Error
	return count > 0, err
}

// CompletePassage finalizes the exit. The exit_time IS NULL guard makes the
// write a compare-and-swap: a second concurrent exit affects zero rows.
func (r *PassageRepository) CompletePassage(ctx context.Context, p *passage.Passage) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&Passage{}).
		Where("id = ? AND exit_time IS NULL", p.ID).
		Updates(map[string]interface{}{
			"exit_time":     p.ExitTime,
			"exit_gate_id":  p.ExitGateID,
			"exit_operator": p.ExitOperator,
			"base_amount":   p.BaseAmount,
			"total_amount":  p.TotalAmount,
			"type":          string(p.Type),
			"status":        string(passage.StatusCompleted),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// PassagesSince lists a vehicle's passages with entry_time >= since, oldest
// first. The fare engine walks these to find the rolling-window anchor.
func (r *PassageRepository) PassagesSince(ctx context.Context, vehicleID int64, since time.Time) ([]passage.Passage, error) {
	var rows []Passage
	err := r.db.WithContext(ctx).
		Where("vehicle_id = ? AND entry_time >= ?", vehicleID, since).
		Order("entry_time ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]passage.Passage, 0, len(rows))
	for i := range rows {
		out = append(out, toDomainPassage(&rows[i]))
	}
	return out, nil
}

func (r *PassageRepository) GetPassageByNumber(ctx context.Context, number string) (*passage.Passage, error) {
	var row Passage
	err := r.db.WithContext(ctx).Where("number = ?", number).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p := toDomainPassage(&row)
	return &p, nil
}

func (r *PassageRepository) ListActivePassages(ctx context.Context, limit, offset int) ([]passage.Passage, error) {
	var rows []Passage
	q := r.db.WithContext(ctx).
		Where("exit_time IS NULL AND status = ?", string(passage.StatusActive)).
		Order("entry_time ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]passage.Passage, 0, len(rows))
	for i := range rows {
		out = append(out, toDomainPassage(&rows[i]))
	}
	return out, nil
}

// EffectivePrice returns the base price for (body type, station) effective on
// the given date, or false when no price row covers it.
func (r *PassageRepository) EffectivePrice(ctx context.Context, bodyTypeID, stationID int64, at time.Time) (float64, bool, error) {
	var row BodyTypePrice
	err := r.db.WithContext(ctx).
		Where("body_type_id = ? AND station_id = ? AND is_active = ?", bodyTypeID, stationID, true).
		Where("effective_from <= ?", at).
		Where("(effective_to IS NULL OR effective_to >= ?)", at).
		Order("effective_from DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return row.Price, true, nil
}

// ActiveBundle returns the account's usable subscription: active, inside its
// validity window, with remaining allowance (NULL max_passages = unlimited).
func (r *PassageRepository) ActiveBundle(ctx context.Context, accountID int64, at time.Time) (*BundleSubscription, error) {
	var row BundleSubscription
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND active = ?", accountID, true).
		Where("starts_at <= ?", at).
		Where("(ends_at IS NULL OR ends_at >= ?)", at).
		Where("(max_passages IS NULL OR passages_used < max_passages)").
		Order("starts_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *PassageRepository) IncrementBundleUsage(ctx context.Context, bundleID int64) error {
	return r.db.WithContext(ctx).
		Model(&BundleSubscription{}).
		Where("id = ?", bundleID).
		Update("passages_used", gorm.Expr("passages_used + 1")).Error
}

// StationForGate resolves the owning station of a gate; false when the gate is
// unknown.
func (r *PassageRepository) StationForGate(ctx context.Context, gateID int64) (int64, bool, error) {
	var row Gate
	err := r.db.WithContext(ctx).First(&row, gateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return row.StationID, true, nil
}

func toDomainVehicle(row *Vehicle) passage.Vehicle {
	v := passage.Vehicle{
		ID:              row.ID,
		Plate:           row.Plate,
		NormalizedPlate: row.NormalizedPlate,
		BodyTypeID:      row.BodyTypeID,
		Registered:      row.Registered,
		Exempt:          row.Exempt,
		ExemptUntil:     row.ExemptUntil,
		PaidUntil:       row.PaidUntil,
		CreatedAt:       row.CreatedAt,
	}
	if row.Make != nil {
		v.Make = *row.Make
	}
	if row.Model != nil {
		v.Model = *row.Model
	}
	if row.Color != nil {
		v.Color = *row.Color
	}
	if row.ExemptReason != nil {
		v.ExemptReason = *row.ExemptReason
	}
	return v
}

func toDomainPassage(row *Passage) passage.Passage {
	p := passage.Passage{
		ID:            row.ID,
		Number:        row.Number,
		VehicleID:     row.VehicleID,
		EntryTime:     row.EntryTime,
		EntryGateID:   row.EntryGateID,
		EntryOperator: row.EntryOperator,
		ExitTime:      row.ExitTime,
		ExitGateID:    row.ExitGateID,
		ExitOperator:  row.ExitOperator,
		BaseAmount:    row.BaseAmount,
		TotalAmount:   row.TotalAmount,
		Type:          passage.Type(row.Type),
		Status:        passage.Status(row.Status),
		PaymentKind:   passage.PaymentKind(row.PaymentKind),
		BundleID:      row.BundleID,
	}
	if row.Make != nil {
		p.Make = *row.Make
	}
	if row.Model != nil {
		p.Model = *row.Model
	}
	if row.Color != nil {
		p.Color = *row.Color
	}
	if row.Notes != nil {
		p.Notes = *row.Notes
	}
	return p
}
