package detection

import (
	"time"

	"gorm.io/datatypes"
)

// Status tracks an event through the processing state machine.
type Status string

const (
	StatusPending            Status = "pending"
	StatusPendingVehicleType Status = "pending_vehicle_type"
	StatusPendingExit        Status = "pending_exit"
	StatusProcessed          Status = "processed"
	StatusFailed             Status = "failed"
)

type Direction string

const (
	DirectionIn      Direction = "in"
	DirectionOut     Direction = "out"
	DirectionUnknown Direction = "unknown"
)

// Normalize folds the direction strings different camera firmwares emit.
func (d Direction) Normalize() Direction {
	switch d {
	case DirectionIn, "forward", "approaching", "entry":
		return DirectionIn
	case DirectionOut, "reverse", "leaving", "exit":
		return DirectionOut
	default:
		return DirectionUnknown
	}
}

type VehicleGuess struct {
	Make  string `json:"make,omitempty"`
	Model string `json:"model,omitempty"`
	Color string `json:"color,omitempty"`
}

// EventPayload is what the detection source reports for one recognition.
type EventPayload struct {
	DetectionID string         `json:"detection_id"`
	GateID      int64          `json:"gate_id"`
	Plate       string         `json:"plate"`
	Confidence  float64        `json:"confidence"`
	Direction   Direction      `json:"direction"`
	DetectedAt  time.Time      `json:"detected_at"`
	Vehicle     VehicleGuess   `json:"vehicle"`
	SnapshotURL string         `json:"snapshot_url,omitempty"`
	RawPayload  datatypes.JSON `json:"raw_payload,omitempty"`
}

type Event struct {
	ID int64
	EventPayload
	NormalizedPlate string
	Status          Status
	Notes           string
	ProcessedAt     *time.Time
}

// FetchResult summarizes one ingestion run. SourceUnavailable means the
// detection source could not be reached at all; callers back off and retry
// instead of treating it as a hard failure.
type FetchResult struct {
	Fetched           int  `json:"fetched"`
	Stored            int  `json:"stored"`
	Skipped           int  `json:"skipped"`
	Errors            int  `json:"errors"`
	SourceUnavailable bool `json:"source_unavailable"`
}

// QueueItem is one pending event plus enough denormalized context for the
// operator UI to act without further lookups.
type QueueItem struct {
	EventID         int64        `json:"event_id"`
	DetectionID     string       `json:"detection_id"`
	Plate           string       `json:"plate"`
	NormalizedPlate string       `json:"normalized_plate"`
	Direction       Direction    `json:"direction"`
	DetectedAt      time.Time    `json:"detected_at"`
	GateID          int64        `json:"gate_id"`
	GateName        string       `json:"gate_name"`
	StationID       int64        `json:"station_id"`
	SnapshotURL     string       `json:"snapshot_url,omitempty"`
	VehicleGuess    VehicleGuess `json:"vehicle_guess"`

	// Set on exit-queue items.
	PassageNumber string     `json:"passage_number,omitempty"`
	EnteredAt     *time.Time `json:"entered_at,omitempty"`
	BaseAmount    *float64   `json:"base_amount,omitempty"`
}

// Stats counts events per status, failed ones included.
type Stats struct {
	Pending            int64 `json:"pending"`
	PendingVehicleType int64 `json:"pending_vehicle_type"`
	PendingExit        int64 `json:"pending_exit"`
	Processed          int64 `json:"processed"`
	Failed             int64 `json:"failed"`
}
