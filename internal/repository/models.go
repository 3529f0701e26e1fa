package repository

import (
	"time"

	"gorm.io/datatypes"
)

type Station struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Active    bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
}

type Gate struct {
	ID        int64  `gorm:"primaryKey"`
	StationID int64  `gorm:"not null;index"`
	Name      string `gorm:"not null"`
	Active    bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
}

type BodyType struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"not null;uniqueIndex"`
	CreatedAt time.Time
}

type BodyTypePrice struct {
	ID            int64   `gorm:"primaryKey"`
	BodyTypeID    int64   `gorm:"not null;index:idx_body_type_prices_lookup"`
	StationID     int64   `gorm:"not null;index:idx_body_type_prices_lookup"`
	Price         float64 `gorm:"not null"`
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
	IsActive      bool `gorm:"not null;default:true"`
	CreatedAt     time.Time
}

type Vehicle struct {
	ID              int64  `gorm:"primaryKey"`
	Plate           string `gorm:"not null"`
	NormalizedPlate string `gorm:"not null;uniqueIndex"`
	BodyTypeID      *int64
	Make            *string
	Model           *string
	Color           *string
	Registered      bool `gorm:"not null;default:false"`
	Exempt          bool `gorm:"not null;default:false"`
	ExemptReason    *string
	ExemptUntil     *time.Time
	PaidUntil       *time.Time
	CreatedAt       time.Time
}

type Passage struct {
	ID            int64  `gorm:"primaryKey"`
	Number        string `gorm:"not null;uniqueIndex"`
	VehicleID     int64  `gorm:"not null;index:idx_passages_vehicle_entry"`
	EntryTime     time.Time `gorm:"not null;index:idx_passages_vehicle_entry"`
	EntryGateID   int64     `gorm:"not null"`
	EntryOperator int64     `gorm:"not null"`
	ExitTime      *time.Time
	ExitGateID    *int64
	ExitOperator  *int64
	BaseAmount    float64 `gorm:"not null;default:0"`
	TotalAmount   float64 `gorm:"not null;default:0"`
	Type          string  `gorm:"not null;default:toll"`
	Status        string  `gorm:"not null;default:active"`
	PaymentKind   string  `gorm:"not null;default:cash"`
	BundleID      *int64
	Make          *string
	Model         *string
	Color         *string
	Notes         *string
	CreatedAt     time.Time
}

type Account struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Active    bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
}

type BundleSubscription struct {
	ID           int64  `gorm:"primaryKey"`
	AccountID    int64  `gorm:"not null;index"`
	Name         string `gorm:"not null"`
	Active       bool   `gorm:"not null;default:true"`
	StartsAt     time.Time `gorm:"not null"`
	EndsAt       *time.Time
	MaxPassages  *int
	PassagesUsed int `gorm:"not null;default:0"`
	CreatedAt    time.Time
}

type DetectionEvent struct {
	ID              int64  `gorm:"primaryKey"`
	DetectionID     string `gorm:"not null;uniqueIndex"`
	GateID          int64  `gorm:"not null"`
	Plate           string `gorm:"not null"`
	NormalizedPlate string `gorm:"not null"`
	Confidence      *float64
	Direction       string    `gorm:"not null;default:unknown"`
	DetectedAt      time.Time `gorm:"not null;index:idx_detection_events_queue,priority:2"`
	VehicleMake     *string
	VehicleModel    *string
	VehicleColor    *string
	SnapshotURL     *string
	RawPayload      datatypes.JSON
	Status          string `gorm:"not null;default:pending;index:idx_detection_events_queue,priority:1"`
	Notes           *string
	ProcessedAt     *time.Time
	CreatedAt       time.Time
}

type OperatorAssignment struct {
	ID            int64 `gorm:"primaryKey"`
	OperatorID    int64 `gorm:"not null;uniqueIndex:ux_operator_assignments_pair"`
	StationID     int64 `gorm:"not null;uniqueIndex:ux_operator_assignments_pair"`
	Active        bool  `gorm:"not null;default:true"`
	CurrentGateID *int64
	SelectedAt    *time.Time
	CreatedAt     time.Time
}
