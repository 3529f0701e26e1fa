package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"plaza-service/internal/domain/detection"
)

type DetectionRepository struct {
	db *gorm.DB
}

func NewDetectionRepository(db *gorm.DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// ErrDuplicateDetection reports that an event with the same provider detection
// id is already stored.
var ErrDuplicateDetection = errors.New("duplicate detection id")

func (r *DetectionRepository) ExistsByDetectionID(ctx context.Context, detectionID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&DetectionEvent{}).
		Where("detection_id = ?", detectionID).
		Count(&count).Error
	return count > 0, err
}

func (r *DetectionRepository) Create(ctx context.Context, ev *detection.Event) error {
	row := DetectionEvent{
		DetectionID:     ev.DetectionID,
		GateID:          ev.GateID,
		Plate:           ev.Plate,
		NormalizedPlate: ev.NormalizedPlate,
		Direction:       string(ev.Direction),
		DetectedAt:      ev.DetectedAt,
		Status:          string(detection.StatusPending),
		CreatedAt:       time.Now(),
	}
	if ev.Confidence != 0 {
		row.Confidence = &ev.Confidence
	}
	if ev.Vehicle.Make != "" {
		row.VehicleMake = &ev.Vehicle.Make
	}
	if ev.Vehicle.Model != "" {
		row.VehicleModel = &ev.Vehicle.Model
	}
	if ev.Vehicle.Color != "" {
		row.VehicleColor = &ev.Vehicle.Color
	}
	if ev.SnapshotURL != "" {
		row.SnapshotURL = &ev.SnapshotURL
	}
	if len(ev.RawPayload) > 0 {
		row.RawPayload = ev.RawPayload
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateDetection
		}
		return err
	}

	ev.ID = row.ID
	ev.Status = detection.StatusPending
	return nil
}

func (r *DetectionRepository) GetByID(ctx context.Context, id int64) (*detection.Event, error) {
	var row DetectionEvent
	err := r.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ev := toDomainEvent(&row)
	return &ev, nil
}

// ListPending returns unprocessed events oldest first. Detection timestamps can
// collide, so id is the stable tie-breaker.
func (r *DetectionRepository) ListPending(ctx context.Context, limit int) ([]detection.Event, error) {
	var rows []DetectionEvent
	q := r.db.WithContext(ctx).
		Where("status = ?", string(detection.StatusPending)).
		Order("detected_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	events := make([]detection.Event, 0, len(rows))
	for i := range rows {
		events = append(events, toDomainEvent(&rows[i]))
	}
	return events, nil
}

func (r *DetectionRepository) UpdateStatus(ctx context.Context, id int64, status detection.Status, notes string) error {
	updates := map[string]interface{}{"status": string(status)}
	if notes != "" {
		updates["notes"] = notes
	}
	if status == detection.StatusProcessed || status == detection.StatusFailed {
		now := time.Now()
		updates["processed_at"] = now
	}
	return r.db.WithContext(ctx).
		Model(&DetectionEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// EarliestGateWatermark returns the default fetch bound: each active gate's
// newest stored detection timestamp, and of those the oldest, so a gate whose
// camera lags behind the rest still falls inside the requested window. Nil
// when some active gate has no stored events yet; the caller then fetches
// everything and dedup drops the overlap.
func (r *DetectionRepository) EarliestGateWatermark(ctx context.Context) (*time.Time, error) {
	var gateIDs []int64
	if err := r.db.WithContext(ctx).
		Model(&Gate{}).
		Where("active = ?", true).
		Pluck("id", &gateIDs).Error; err != nil {
		return nil, err
	}

	var earliest *time.Time
	for _, gateID := range gateIDs {
		var row DetectionEvent
		err := r.db.WithContext(ctx).
			Where("gate_id = ?", gateID).
			Order("detected_at DESC").
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if earliest == nil || row.DetectedAt.Before(*earliest) {
			at := row.DetectedAt
			earliest = &at
		}
	}
	return earliest, nil
}

// QueueItems lists pending events of one status FIFO by (detected_at, id),
// denormalized with gate and vehicle/passage context. A non-nil stationIDs
// restricts visibility to those stations; an empty non-nil slice yields an
// empty queue.
func (r *DetectionRepository) QueueItems(ctx context.Context, status detection.Status, stationIDs []int64) ([]detection.QueueItem, error) {
	if stationIDs != nil && len(stationIDs) == 0 {
		return []detection.QueueItem{}, nil
	}

	q := r.db.WithContext(ctx).
		Table("detection_events").
		Select(`detection_events.id AS event_id,
			detection_events.detection_id,
			detection_events.plate,
			detection_events.normalized_plate,
			detection_events.direction,
			detection_events.detected_at,
			detection_events.gate_id,
			detection_events.snapshot_url,
			detection_events.vehicle_make,
			detection_events.vehicle_model,
			detection_events.vehicle_color,
			gates.name AS gate_name,
			gates.station_id`).
		Joins("JOIN gates ON gates.id = detection_events.gate_id").
		Where("detection_events.status = ?", string(status)).
		Order("detection_events.detected_at ASC, detection_events.id ASC")
	if stationIDs != nil {
		q = q.Where("gates.station_id IN ?", stationIDs)
	}

	var rows []struct {
		EventID         int64
		DetectionID     string
		Plate           string
		NormalizedPlate string
		Direction       string
		DetectedAt      time.Time
		GateID          int64
		SnapshotURL     *string
		VehicleMake     *string
		VehicleModel    *string
		VehicleColor    *string
		GateName        string
		StationID       int64
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}

	items := make([]detection.QueueItem, 0, len(rows))
	for _, row := range rows {
		item := detection.QueueItem{
			EventID:         row.EventID,
			DetectionID:     row.DetectionID,
			Plate:           row.Plate,
			NormalizedPlate: row.NormalizedPlate,
			Direction:       detection.Direction(row.Direction),
			DetectedAt:      row.DetectedAt,
			GateID:          row.GateID,
			GateName:        row.GateName,
			StationID:       row.StationID,
		}
		if row.SnapshotURL != nil {
			item.SnapshotURL = *row.SnapshotURL
		}
		if row.VehicleMake != nil {
			item.VehicleGuess.Make = *row.VehicleMake
		}
		if row.VehicleModel != nil {
			item.VehicleGuess.Model = *row.VehicleModel
		}
		if row.VehicleColor != nil {
			item.VehicleGuess.Color = *row.VehicleColor
		}
		if status == detection.StatusPendingExit {
			r.attachPassageContext(ctx, &item)
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *DetectionRepository) attachPassageContext(ctx context.Context, item *detection.QueueItem) {
	var row struct {
		Number     string
		EntryTime  time.Time
		BaseAmount float64
	}
	err := r.db.WithContext(ctx).
		Table("passages").
		Select("passages.number, passages.entry_time, passages.base_amount").
		Joins("JOIN vehicles ON vehicles.id = passages.vehicle_id").
		Where("vehicles.normalized_plate = ? AND passages.exit_time IS NULL AND passages.status = ?",
			item.NormalizedPlate, "active").
		Scan(&row).Error
	if err != nil || row.Number == "" {
		return
	}
	item.PassageNumber = row.Number
	item.EnteredAt = &row.EntryTime
	item.BaseAmount = &row.BaseAmount
}

func (r *DetectionRepository) Stats(ctx context.Context) (detection.Stats, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&DetectionEvent{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return detection.Stats{}, err
	}

	var stats detection.Stats
	for _, row := range rows {
		switch detection.Status(row.Status) {
		case detection.StatusPending:
			stats.Pending = row.Count
		case detection.StatusPendingVehicleType:
			stats.PendingVehicleType = row.Count
		case detection.StatusPendingExit:
			stats.PendingExit = row.Count
		case detection.StatusProcessed:
			stats.Processed = row.Count
		case detection.StatusFailed:
			stats.Failed = row.Count
		}
	}
	return stats, nil
}

// DeleteOlderThan removes terminal events past the retention window. Pending
// queue items are never aged out.
func (r *DetectionRepository) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res := r.db.WithContext(ctx).
		Where("detected_at < ? AND status IN ?", cutoff,
			[]string{string(detection.StatusProcessed), string(detection.StatusFailed)}).
		Delete(&DetectionEvent{})
	return res.RowsAffected, res.Error
}

func toDomainEvent(row *DetectionEvent) detection.Event {
	ev := detection.Event{
		ID:              row.ID,
		NormalizedPlate: row.NormalizedPlate,
		Status:          detection.Status(row.Status),
		ProcessedAt:     row.ProcessedAt,
	}
	ev.DetectionID = row.DetectionID
	ev.GateID = row.GateID
	ev.Plate = row.Plate
	ev.Direction = detection.Direction(row.Direction)
	ev.DetectedAt = row.DetectedAt
	ev.RawPayload = row.RawPayload
	if row.Confidence != nil {
		ev.Confidence = *row.Confidence
	}
	if row.VehicleMake != nil {
		ev.Vehicle.Make = *row.VehicleMake
	}
	if row.VehicleModel != nil {
		ev.Vehicle.Model = *row.VehicleModel
	}
	if row.VehicleColor != nil {
		ev.Vehicle.Color = *row.VehicleColor
	}
	if row.SnapshotURL != nil {
		ev.SnapshotURL = *row.SnapshotURL
	}
	if row.Notes != nil {
		ev.Notes = *row.Notes
	}
	return ev
}
