package service

import (
	"fmt"
	"math"
	"time"

	"plaza-service/internal/domain/passage"
)

// FarePolicy decides what an exiting vehicle owes. Implementations are pure:
// same inputs produce the same fare, so a policy can be invoked for preview
// any number of times before the exit is finalized.
//
// history holds the vehicle's passages with entry_time inside the policy's
// lookback window, current one included, oldest first.
type FarePolicy interface {
	Name() string
	Lookback() time.Duration
	Calculate(vehicle *passage.Vehicle, current *passage.Passage, history []passage.Passage, ref time.Time) passage.Fare
}

func PolicyFromName(name string) (FarePolicy, error) {
	switch name {
	case "daily_window":
		return DailyWindowPolicy{}, nil
	case "hourly_tiered":
		return HourlyTieredPolicy{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown fare policy %q", ErrInvalidInput, name)
	}
}

// DailyWindowPolicy charges per rolling 24-hour cycle anchored at the
// vehicle's first entry within the 24 hours before the exit. A prior completed
// exit inside the same cycle has already settled the cycle's charge, so the
// current exit is free.
type DailyWindowPolicy struct{}

func (DailyWindowPolicy) Name() string { return "daily_window" }

func (DailyWindowPolicy) Lookback() time.Duration { return 24 * time.Hour }

func (DailyWindowPolicy) Calculate(vehicle *passage.Vehicle, current *passage.Passage, history []passage.Passage, ref time.Time) passage.Fare {
	if vehicle.PaidUntil != nil && !vehicle.PaidUntil.Before(ref) {
		return passage.Fare{Amount: 0, IsFreeReentry: true}
	}

	windowFloor := ref.Add(-24 * time.Hour)
	windowStart := current.EntryTime
	for _, p := range history {
		if !p.EntryTime.Before(windowFloor) {
			windowStart = p.EntryTime
			break
		}
	}

	for _, p := range history {
		if p.ID == current.ID || p.ExitTime == nil {
			continue
		}
		if !p.EntryTime.Before(windowStart) {
			return passage.Fare{Amount: 0, IsFreeReentry: true}
		}
	}

	chargeStart := windowStart
	if vehicle.PaidUntil != nil && vehicle.PaidUntil.After(chargeStart) {
		chargeStart = *vehicle.PaidUntil
	}
	hoursSpent := ref.Sub(chargeStart).Hours()
	units := 1
	if hoursSpent >= 24 {
		units = int(math.Ceil(hoursSpent / 24))
	}
	return passage.Fare{
		Amount:        current.BaseAmount * float64(units),
		BillableUnits: units,
	}
}

// HourlyTieredPolicy charges by the hour with a one-hour minimum: up to 1.5h
// counts as one hour, up to 2h as two, beyond that rounded up to the next full
// hour.
type HourlyTieredPolicy struct{}

func (HourlyTieredPolicy) Name() string { return "hourly_tiered" }

func (HourlyTieredPolicy) Lookback() time.Duration { return 0 }

func (HourlyTieredPolicy) Calculate(vehicle *passage.Vehicle, current *passage.Passage, history []passage.Passage, ref time.Time) passage.Fare {
	if vehicle.PaidUntil != nil && !vehicle.PaidUntil.Before(ref) {
		return passage.Fare{Amount: 0, IsFreeReentry: true}
	}

	chargeStart := current.EntryTime
	if vehicle.PaidUntil != nil && vehicle.PaidUntil.After(chargeStart) {
		chargeStart = *vehicle.PaidUntil
	}
	hours := ref.Sub(chargeStart).Hours()

	var units int
	switch {
	case hours <= 1.5:
		units = 1
	case hours <= 2:
		units = 2
	default:
		units = int(math.Ceil(hours))
	}
	return passage.Fare{
		Amount:        current.BaseAmount * float64(units),
		BillableUnits: units,
	}
}
