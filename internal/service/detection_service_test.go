package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plaza-service/internal/domain/detection"
	"plaza-service/internal/domain/passage"
	"plaza-service/internal/utils"
)

func storeDetection(t *testing.T, f *fixture, detectionID string, gateID int64, plate string, dir detection.Direction, at time.Time) *detection.Event {
	t.Helper()
	ev := &detection.Event{}
	ev.DetectionID = detectionID
	ev.GateID = gateID
	ev.Plate = plate
	ev.Direction = dir
	ev.DetectedAt = at
	ev.NormalizedPlate = utils.NormalizePlate(plate)
	require.NoError(t, f.detRepo.Create(context.Background(), ev))
	return ev
}

func TestUnknownPlateQueuesForClassification(t *testing.T) {
	f := newFixture(t, DailyWindowPolicy{})
	ctx := context.Background()
	stationID := f.seedStation(t, "north")
	gateID := f.seedGate(t, stationID, "N1")

	storeDetection(t, f, "d-1", gateID, "ABC123", detection.DirectionIn, time.Now())
	require.NoError(t, f.detections.ProcessNewEvents(ctx))

	items, err := f.detections.VehicleTypeQueue(ctx, 0, true)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ABC123", items[0].Plate)
	assert.Equal(t, stationID, items[0].StationID)
}

func TestKnownVehicleInboundAutoEntry(t *testing.T) {
	f := newFixture(t, DailyWindowPolicy{})
	ctx := context.Background()
	stationID := f.seedStation(t, "north")
	gateID := f.seedGate(t, stationID, "N1")
	btID := f.seedBodyType(t, "sedan")
	f.seedPrice(t, btID, stationID, 500)

	v := &passage.Vehicle{Plate: "KN10", NormalizedPlate: "KN10", BodyTypeID: &btID}
	require.NoError(t, f.passRepo.CreateVehicle(ctx, v))

	ev := storeDetection(t, f, "d-2", gateID, "KN10", detection.DirectionIn, time.Now())
	require.NoError(t, f.detections.ProcessNewEvents(ctx))

	stored, err := f.detRepo.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, detection.StatusProcessed, stored.Status)
	assert.Contains(t, stored.Notes, "passage")

	active, err := f.passRepo.ActivePassage(ctx, v.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, 500.0, active.BaseAmount)
}

func TestOutboundDetectionQueuesExit(t *testing.T) {
	f := newFixture(t, DailyWindowPolicy{})
	ctx := context.Background()
	stationID := f.seedStation(t, "north")
	gateID := f.seedGate(t, stationID, "N1")

	res, err := f.passages.ProcessEntry(ctx, "EX20", gateID, 7, passage.EntryOptions{})
	require.NoError(t, err)
	require.True(t, res.Success)

	ev := storeDetection(t, f, "d-3", gateID, "EX20", detection.DirectionOut, time.Now())
	require.NoError(t, f.detections.ProcessNewEvents(ctx))

	stored, err := f.detRepo.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, detection.StatusPendingExit, stored.Status)

	items, err := f.detections.ExitQueue(ctx, 0, true)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, res.Data.(EntrySummary).PassageNumber, items[0].PassageNumber)
	require.NotNil(t, items[0].EnteredAt)
}

func TestUnknownDirectionWithActivePassageQueuesExit(t *testing.T) {
	f := newFixture(t, DailyWindowPolicy{})
	ctx := context.Background()
	stationID := f.seedStation(t, "north")
	gateID := f.seedGate(t, stationID, "N1")

	res, err := f.passages.ProcessEntry(ctx, "UN30", gateID, 7, passage.EntryOptions{})
	require.NoError(t, err)
	require.True(t, res.Success)

	ev := storeDetection(t, f, "d-4", gateID, "UN30", detection.DirectionUnknown, time.Now())
	require.NoError(t, f.detections.ProcessNewEvents(ctx))

	stored, err := f.detRepo.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, detection.StatusPendingExit, stored.Status)
}

func TestEmptyPlateStaysPending(t *testing.T) {
	f := newFixture(t, DailyWindowPolicy{})
	ctx := context.Background()
	stationID := f.seedStation(t, "north")
	gateID := f.seedGate(t, stationID, "N1")

	ev := storeDetection(t, f, "d-5", gateID, "   ", detection.DirectionIn, time.Now())
	require.NoError(t, f.detections.ProcessNewEvents(ctx))

	stored, err := f.detRepo.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, detection.StatusPending, stored.Status)

	items, err := f.detections.VehicleTypeQueue(ctx, 0, true)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestQueueFIFOWithCollidingTimestamps(t *testing.T) {
	f := newFixture(t, DailyWindowPolicy{})
	ctx := context.Background()
	stationID := f.seedStation(t, "north")
	gateID := f.seedGate(t, stationID, "N1")

	t0 := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	t1 := time.Date(2026, 3, 10, 10, 5, 0, 0, time.UTC)

	// Stored newest-first to prove ordering comes from (detected_at, id),
	// not insertion order.
	storeDetection(t, f, "d-late", gateID, "CAR2", detection.DirectionIn, t1)
	storeDetection(t, f, "d-early", gateID, "CAR1", detection.DirectionIn, t0)
	storeDetection(t, f, "d-tie-a", gateID, "CAR3", detection.DirectionIn, t1)
	require.NoError(t, f.detections.ProcessNewEvents(ctx))

	items, err := f.detections.VehicleTypeQueue(ctx, 0, true)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "CAR1", items[0].Plate)
	// Same timestamp: lower id first, stable.
	assert.Equal(t, "CAR2", items[1].Plate)
	assert.Equal(t, "CAR3", items[2].Plate)
}

func TestQueueVisibilityRestrictedByStation(t *testing.T) {
	f := newFixture(t, DailyWindowPolicy{})
	ctx := context.Background()
	northID := f.seedStation(t, "north")
	southID := f.seedStation(t, "south")
	northGate := f.seedGate(t, northID, "N1")
	southGate := f.seedGate(t, southID, "S1")
	f.seedAssignment(t, 7, northID)

	storeDetection(t, f, "d-n", northGate, "NN1", detection.DirectionIn, time.Now())
	storeDetection(t, f, "d-s", southGate, "SS1", detection.DirectionIn, time.Now())
	require.NoError(t, f.detections.ProcessNewEvents(ctx))

	items, err := f.detections.VehicleTypeQueue(ctx, 7, false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "NN1", items[0].Plate)

	// Operator with no assignments sees an empty queue, not an error.
	items, err = f.detections.VehicleTypeQueue(ctx, 99, false)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestClassifyThenBillScenario(t *testing.T) {
	f := newFixture(t, DailyWindowPolicy{})
	ctx := context.Background()
	stationID := f.seedStation(t, "north")
	gateID := f.seedGate(t, stationID, "N1")
	btID := f.seedBodyType(t, "sedan")
	f.seedPrice(t, btID, stationID, 500)

	// Unknown plate arrives and queues for classification.
	entryEv := storeDetection(t, f, "d-c1", gateID, "ABC123", detection.DirectionIn, time.Now())
	require.NoError(t, f.detections.ProcessNewEvents(ctx))
	stored, err := f.detRepo.GetByID(ctx, entryEv.ID)
	require.NoError(t, err)
	require.Equal(t, detection.StatusPendingVehicleType, stored.Status)

	// Operator classifies; entry is auto-created with the effective price.
	res, err := f.detections.ClassifyVehicle(ctx, entryEv.ID, btID, 7)
	require.NoError(t, err)
	require.True(t, res.Success)

	vehicle, err := f.passRepo.GetVehicleByPlate(ctx, "ABC123")
	require.NoError(t, err)
	require.NotNil(t, vehicle)
	active, err := f.passRepo.ActivePassage(ctx, vehicle.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, 500.0, active.BaseAmount)

	// Later the exit detection arrives and queues for confirmation.
	exitEv := storeDetection(t, f, "d-c2", gateID, "ABC123", detection.DirectionOut, time.Now())
	require.NoError(t, f.detections.ProcessNewEvents(ctx))
	stored, err = f.detRepo.GetByID(ctx, exitEv.ID)
	require.NoError(t, err)
	require.Equal(t, detection.StatusPendingExit, stored.Status)

	// Operator confirms; passage closes billed.
	res, err = f.detections.ConfirmExit(ctx, exitEv.ID, 7, passage.ExitOptions{})
	require.NoError(t, err)
	require.True(t, res.Success)
	summary := res.Data.(ExitSummary)
	assert.Equal(t, 500.0, summary.Fare.Amount)

	stored, err = f.detRepo.GetByID(ctx, exitEv.ID)
	require.NoError(t, err)
	assert.Equal(t, detection.StatusProcessed, stored.Status)
	assert.Contains(t, stored.Notes, summary.PassageNumber)
}

func TestClassifyRejectsWrongState(t *testing.T) {
	f := newFixture(t, DailyWindowPolicy{})
	ctx := context.Background()
	stationID := f.seedStation(t, "north")
	gateID := f.seedGate(t, stationID, "N1")
	btID := f.seedBodyType(t, "sedan")

	ev := storeDetection(t, f, "d-w1", gateID, "WS1", detection.DirectionIn, time.Now())

	// Still pending, not pending_vehicle_type.
	_, err := f.detections.ClassifyVehicle(ctx, ev.ID, btID, 7)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.detections.ClassifyVehicle(ctx, 424242, btID, 7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInboundWhileInsideMarksFailed(t *testing.T) {
	f := newFixture(t, DailyWindowPolicy{})
	ctx := context.Background()
	stationID := f.seedStation(t, "north")
	gateID := f.seedGate(t, stationID, "N1")

	res, err := f.passages.ProcessEntry(ctx, "DBL1", gateID, 7, passage.EntryOptions{})
	require.NoError(t, err)
	require.True(t, res.Success)

	ev := storeDetection(t, f, "d-f1", gateID, "DBL1", detection.DirectionIn, time.Now())
	require.NoError(t, f.detections.ProcessNewEvents(ctx))

	stored, err := f.detRepo.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, detection.StatusFailed, stored.Status)
	assert.Contains(t, stored.Notes, "active passage")

	stats, err := f.detections.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestStatsCountsPerStatus(t *testing.T) {
	f := newFixture(t, DailyWindowPolicy{})
	ctx := context.Background()
	stationID := f.seedStation(t, "north")
	gateID := f.seedGate(t, stationID, "N1")

	for i := 0; i < 3; i++ {
		storeDetection(t, f, fmt.Sprintf("d-s%d", i), gateID, fmt.Sprintf("ST%d", i), detection.DirectionIn, time.Now())
	}
	require.NoError(t, f.detections.ProcessNewEvents(ctx))

	stats, err := f.detections.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.PendingVehicleType)
	assert.Equal(t, int64(0), stats.Pending)
}
