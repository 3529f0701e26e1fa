package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"plaza-service/internal/domain/gate"
)

type GateRepository struct {
	db *gorm.DB
}

func NewGateRepository(db *gorm.DB) *GateRepository {
	return &GateRepository{db: db}
}

// ActiveAssignments lists the operator's active station assignments, stations
// themselves included only when active.
func (r *GateRepository) ActiveAssignments(ctx context.Context, operatorID int64) ([]gate.Assignment, error) {
	var rows []OperatorAssignment
	err := r.db.WithContext(ctx).
		Joins("JOIN stations ON stations.id = operator_assignments.station_id AND stations.active = ?", true).
		Where("operator_assignments.operator_id = ? AND operator_assignments.active = ?", operatorID, true).
		Order("operator_assignments.station_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]gate.Assignment, 0, len(rows))
	for _, row := range rows {
		out = append(out, gate.Assignment{
			ID:            row.ID,
			OperatorID:    row.OperatorID,
			StationID:     row.StationID,
			Active:        row.Active,
			CurrentGateID: row.CurrentGateID,
			SelectedAt:    row.SelectedAt,
		})
	}
	return out, nil
}

func (r *GateRepository) GateByID(ctx context.Context, gateID int64) (*gate.Gate, error) {
	var row Gate
	err := r.db.WithContext(ctx).First(&row, gateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &gate.Gate{ID: row.ID, StationID: row.StationID, Name: row.Name, Active: row.Active}, nil
}

func (r *GateRepository) ActiveGatesForStations(ctx context.Context, stationIDs []int64) ([]gate.Gate, error) {
	if len(stationIDs) == 0 {
		return []gate.Gate{}, nil
	}
	var rows []Gate
	err := r.db.WithContext(ctx).
		Where("station_id IN ? AND active = ?", stationIDs, true).
		Order("station_id ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]gate.Gate, 0, len(rows))
	for _, row := range rows {
		out = append(out, gate.Gate{ID: row.ID, StationID: row.StationID, Name: row.Name, Active: row.Active})
	}
	return out, nil
}

// HeldGateIDs returns gates currently claimed by active operators other than
// excludeOperator within the given stations.
func (r *GateRepository) HeldGateIDs(ctx context.Context, stationIDs []int64, excludeOperator int64) (map[int64]bool, error) {
	if len(stationIDs) == 0 {
		return map[int64]bool{}, nil
	}
	var rows []OperatorAssignment
	err := r.db.WithContext(ctx).
		Where("station_id IN ? AND active = ? AND current_gate_id IS NOT NULL AND operator_id <> ?",
			stationIDs, true, excludeOperator).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	held := make(map[int64]bool, len(rows))
	for _, row := range rows {
		if row.CurrentGateID != nil {
			held[*row.CurrentGateID] = true
		}
	}
	return held, nil
}

// Claim conflicts. ErrGateHeld means another active operator has the gate;
// ErrOperatorOccupied means this operator already holds a different gate at
// the station and must deselect first.
var (
	ErrGateHeld         = errors.New("gate held by another operator")
	ErrOperatorOccupied = errors.New("operator already holds a different gate")
)

// ClaimGate atomically sets the operator's current gate. The conditional
// update plus the partial unique index on (station_id, current_gate_id) make
// check-then-set a single step: the index rejects the write when another
// active operator holds the gate (ErrGateHeld), and zero matched rows mean
// the operator's own assignment already points at a different gate
// (ErrOperatorOccupied). Callers verify the active assignment exists before
// claiming.
func (r *GateRepository) ClaimGate(ctx context.Context, operatorID, stationID, gateID int64, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&OperatorAssignment{}).
		Where("operator_id = ? AND station_id = ? AND active = ?", operatorID, stationID, true).
		Where("(current_gate_id IS NULL OR current_gate_id = ?)", gateID).
		Updates(map[string]interface{}{
			"current_gate_id": gateID,
			"selected_at":     at,
		})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ErrGateHeld
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOperatorOccupied
	}
	return nil
}

// ReleaseGates clears the operator's current gate across all assignments and
// reports how many were released.
func (r *GateRepository) ReleaseGates(ctx context.Context, operatorID int64) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&OperatorAssignment{}).
		Where("operator_id = ? AND current_gate_id IS NOT NULL", operatorID).
		Updates(map[string]interface{}{
			"current_gate_id": nil,
			"selected_at":     nil,
		})
	return res.RowsAffected, res.Error
}

// Holdings lists the operator's currently claimed gates ordered by station id.
func (r *GateRepository) Holdings(ctx context.Context, operatorID int64) ([]gate.Holding, error) {
	var rows []struct {
		StationID  int64
		GateID     int64
		GateName   string
		SelectedAt time.Time
	}
	err := r.db.WithContext(ctx).
		Table("operator_assignments").
		Select(`operator_assignments.station_id,
			operator_assignments.current_gate_id AS gate_id,
			gates.name AS gate_name,
			operator_assignments.selected_at`).
		Joins("JOIN gates ON gates.id = operator_assignments.current_gate_id").
		Where("operator_assignments.operator_id = ? AND operator_assignments.active = ? AND operator_assignments.current_gate_id IS NOT NULL",
			operatorID, true).
		Order("operator_assignments.station_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]gate.Holding, 0, len(rows))
	for _, row := range rows {
		out = append(out, gate.Holding{
			StationID:  row.StationID,
			GateID:     row.GateID,
			GateName:   row.GateName,
			SelectedAt: row.SelectedAt,
		})
	}
	return out, nil
}
