package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"plaza-service/internal/domain/passage"
)

var fareBase = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func stay(id int64, entry time.Time, exit *time.Time) passage.Passage {
	return passage.Passage{ID: id, VehicleID: 1, EntryTime: entry, ExitTime: exit, BaseAmount: 500}
}

func TestDailyWindowSingleUnit(t *testing.T) {
	policy := DailyWindowPolicy{}
	v := &passage.Vehicle{ID: 1}
	current := stay(1, fareBase, nil)

	ref := fareBase.Add(23*time.Hour + 59*time.Minute)
	fare := policy.Calculate(v, &current, []passage.Passage{current}, ref)
	assert.Equal(t, 1, fare.BillableUnits)
	assert.Equal(t, 500.0, fare.Amount)
	assert.False(t, fare.IsFreeReentry)
}

func TestDailyWindowSecondUnitPastBoundary(t *testing.T) {
	policy := DailyWindowPolicy{}
	v := &passage.Vehicle{ID: 1}
	current := stay(1, fareBase, nil)

	ref := fareBase.Add(24*time.Hour + time.Second)
	fare := policy.Calculate(v, &current, []passage.Passage{current}, ref)
	assert.Equal(t, 2, fare.BillableUnits)
	assert.Equal(t, 1000.0, fare.Amount)
}

func TestDailyWindowExactly24Hours(t *testing.T) {
	policy := DailyWindowPolicy{}
	v := &passage.Vehicle{ID: 1}
	current := stay(1, fareBase, nil)

	fare := policy.Calculate(v, &current, []passage.Passage{current}, fareBase.Add(24*time.Hour))
	assert.Equal(t, 1, fare.BillableUnits)
}

func TestDailyWindowPaidUntilCoversStay(t *testing.T) {
	policy := DailyWindowPolicy{}
	paidUntil := fareBase.Add(48 * time.Hour)
	v := &passage.Vehicle{ID: 1, PaidUntil: &paidUntil}
	current := stay(1, fareBase, nil)

	fare := policy.Calculate(v, &current, []passage.Passage{current}, fareBase.Add(30*time.Hour))
	assert.Equal(t, 0.0, fare.Amount)
	assert.True(t, fare.IsFreeReentry)
}

func TestDailyWindowFreeReentryAfterPaidExit(t *testing.T) {
	policy := DailyWindowPolicy{}
	v := &passage.Vehicle{ID: 1}

	firstExit := fareBase.Add(time.Hour) // 09:00
	first := stay(1, fareBase, &firstExit)
	current := stay(2, fareBase.Add(2*time.Hour), nil) // re-entered 10:00

	ref := fareBase.Add(3 * time.Hour) // 11:00
	fare := policy.Calculate(v, &current, []passage.Passage{first, current}, ref)
	assert.Equal(t, 0.0, fare.Amount)
	assert.True(t, fare.IsFreeReentry)
}

func TestDailyWindowPriorExitOutsideWindowCharges(t *testing.T) {
	policy := DailyWindowPolicy{}
	v := &passage.Vehicle{ID: 1}

	oldEntry := fareBase.Add(-30 * time.Hour)
	oldExit := fareBase.Add(-29 * time.Hour)
	old := stay(1, oldEntry, &oldExit)
	current := stay(2, fareBase, nil)

	// The old exit predates the rolling window, so it settles nothing.
	fare := policy.Calculate(v, &current, []passage.Passage{old, current}, fareBase.Add(2*time.Hour))
	assert.False(t, fare.IsFreeReentry)
	assert.Equal(t, 500.0, fare.Amount)
}

func TestDailyWindowChargeStartsAfterPaidUntil(t *testing.T) {
	policy := DailyWindowPolicy{}
	paidUntil := fareBase.Add(2 * time.Hour)
	v := &passage.Vehicle{ID: 1, PaidUntil: &paidUntil}
	current := stay(1, fareBase, nil)

	// paid_until expired before the exit, so charging starts there.
	ref := fareBase.Add(10 * time.Hour)
	fare := policy.Calculate(v, &current, []passage.Passage{current}, ref)
	assert.Equal(t, 1, fare.BillableUnits)
	assert.Equal(t, 500.0, fare.Amount)
}

func TestDailyWindowDeterministic(t *testing.T) {
	policy := DailyWindowPolicy{}
	v := &passage.Vehicle{ID: 1}
	current := stay(1, fareBase, nil)
	ref := fareBase.Add(5 * time.Hour)

	first := policy.Calculate(v, &current, []passage.Passage{current}, ref)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, policy.Calculate(v, &current, []passage.Passage{current}, ref))
	}
}

func TestHourlyTieredUnits(t *testing.T) {
	policy := HourlyTieredPolicy{}
	v := &passage.Vehicle{ID: 1}
	entry := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		exit  time.Time
		units int
	}{
		{"half hour charges minimum", entry.Add(30 * time.Minute), 1},
		{"ninety minutes still one hour", entry.Add(90 * time.Minute), 1},
		{"hundred minutes charges two", entry.Add(100 * time.Minute), 2},
		{"two hours charges two", entry.Add(2 * time.Hour), 2},
		{"three hours five minutes charges four", entry.Add(3*time.Hour + 5*time.Minute), 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			current := stay(1, entry, nil)
			fare := policy.Calculate(v, &current, nil, tc.exit)
			assert.Equal(t, tc.units, fare.BillableUnits)
			assert.Equal(t, 500.0*float64(tc.units), fare.Amount)
		})
	}
}

func TestHourlyTieredPaidUntil(t *testing.T) {
	policy := HourlyTieredPolicy{}
	entry := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	paidUntil := entry.Add(6 * time.Hour)
	v := &passage.Vehicle{ID: 1, PaidUntil: &paidUntil}
	current := stay(1, entry, nil)

	fare := policy.Calculate(v, &current, nil, entry.Add(3*time.Hour))
	assert.True(t, fare.IsFreeReentry)
	assert.Equal(t, 0.0, fare.Amount)
}

func TestPolicyFromName(t *testing.T) {
	daily, err := PolicyFromName("daily_window")
	assert.NoError(t, err)
	assert.Equal(t, "daily_window", daily.Name())

	hourly, err := PolicyFromName("hourly_tiered")
	assert.NoError(t, err)
	assert.Equal(t, "hourly_tiered", hourly.Name())

	_, err = PolicyFromName("surge")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
