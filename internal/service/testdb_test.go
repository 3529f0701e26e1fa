package service

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"plaza-service/internal/repository"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&repository.Station{},
		&repository.Gate{},
		&repository.BodyType{},
		&repository.BodyTypePrice{},
		&repository.Vehicle{},
		&repository.Passage{},
		&repository.Account{},
		&repository.BundleSubscription{},
		&repository.DetectionEvent{},
		&repository.OperatorAssignment{},
	))

	// Partial unique indexes backing the two storage-level invariants; gorm
	// tags cannot express them.
	require.NoError(t, db.Exec(`CREATE UNIQUE INDEX ux_passages_active_vehicle
		ON passages(vehicle_id) WHERE exit_time IS NULL AND status = 'active'`).Error)
	require.NoError(t, db.Exec(`CREATE UNIQUE INDEX ux_operator_assignments_held_gate
		ON operator_assignments(station_id, current_gate_id)
		WHERE current_gate_id IS NOT NULL AND active`).Error)

	return db
}

type fixture struct {
	db         *gorm.DB
	detRepo    *repository.DetectionRepository
	passRepo   *repository.PassageRepository
	gateRepo   *repository.GateRepository
	passages   *PassageService
	detections *DetectionService
	gates      *GateService
}

func newFixture(t *testing.T, policy FarePolicy) *fixture {
	t.Helper()
	db := setupTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zerolog.Nop()
	detRepo := repository.NewDetectionRepository(db)
	passRepo := repository.NewPassageRepository(db)
	gateRepo := repository.NewGateRepository(db)
	passages := NewPassageService(passRepo, policy, node, log)
	detections := NewDetectionService(detRepo, passRepo, gateRepo, passages, log)
	gates := NewGateService(gateRepo, log)

	return &fixture{
		db:         db,
		detRepo:    detRepo,
		passRepo:   passRepo,
		gateRepo:   gateRepo,
		passages:   passages,
		detections: detections,
		gates:      gates,
	}
}

func (f *fixture) seedStation(t *testing.T, name string) int64 {
	t.Helper()
	st := repository.Station{Name: name, Active: true, CreatedAt: time.Now()}
	require.NoError(t, f.db.Create(&st).Error)
	return st.ID
}

func (f *fixture) seedGate(t *testing.T, stationID int64, name string) int64 {
	t.Helper()
	g := repository.Gate{StationID: stationID, Name: name, Active: true, CreatedAt: time.Now()}
	require.NoError(t, f.db.Create(&g).Error)
	return g.ID
}

func (f *fixture) seedBodyType(t *testing.T, name string) int64 {
	t.Helper()
	bt := repository.BodyType{Name: name, CreatedAt: time.Now()}
	require.NoError(t, f.db.Create(&bt).Error)
	return bt.ID
}

func (f *fixture) seedPrice(t *testing.T, bodyTypeID, stationID int64, price float64) {
	t.Helper()
	row := repository.BodyTypePrice{
		BodyTypeID:    bodyTypeID,
		StationID:     stationID,
		Price:         price,
		EffectiveFrom: time.Now().AddDate(-1, 0, 0),
		IsActive:      true,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, f.db.Create(&row).Error)
}

func (f *fixture) seedAssignment(t *testing.T, operatorID, stationID int64) {
	t.Helper()
	a := repository.OperatorAssignment{
		OperatorID: operatorID,
		StationID:  stationID,
		Active:     true,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, f.db.Create(&a).Error)
}

func (f *fixture) seedAccountWithBundle(t *testing.T, maxPassages *int) int64 {
	t.Helper()
	acc := repository.Account{Name: "fleet", Active: true, CreatedAt: time.Now()}
	require.NoError(t, f.db.Create(&acc).Error)
	sub := repository.BundleSubscription{
		AccountID:   acc.ID,
		Name:        "monthly",
		Active:      true,
		StartsAt:    time.Now().AddDate(0, -1, 0),
		MaxPassages: maxPassages,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, f.db.Create(&sub).Error)
	return acc.ID
}
