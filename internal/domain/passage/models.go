package passage

import (
	"time"
)

type Type string

const (
	TypeToll     Type = "toll"
	TypeFree     Type = "free"
	TypeExempted Type = "exempted"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

type PaymentKind string

const (
	PaymentCash   PaymentKind = "cash"
	PaymentBundle PaymentKind = "bundle"
)

type Vehicle struct {
	ID              int64
	Plate           string
	NormalizedPlate string
	BodyTypeID      *int64
	Make            string
	Model           string
	Color           string
	Registered      bool
	Exempt          bool
	ExemptReason    string
	ExemptUntil     *time.Time
	PaidUntil       *time.Time
	CreatedAt       time.Time
}

// ExemptAt reports whether the vehicle's exemption covers the given moment.
// An exemption without expiry is open-ended.
func (v *Vehicle) ExemptAt(at time.Time) bool {
	if !v.Exempt {
		return false
	}
	return v.ExemptUntil == nil || !v.ExemptUntil.Before(at)
}

type Passage struct {
	ID             int64
	Number         string
	VehicleID      int64
	EntryTime      time.Time
	EntryGateID    int64
	EntryOperator  int64
	ExitTime       *time.Time
	ExitGateID     *int64
	ExitOperator   *int64
	BaseAmount     float64
	TotalAmount    float64
	Type           Type
	Status         Status
	PaymentKind    PaymentKind
	BundleID       *int64
	Make           string
	Model          string
	Color          string
	Notes          string
}

// EntryOptions enumerates the recognized optional attributes of an entry call.
// Unknown keys are rejected at the HTTP layer, not merged blindly.
type EntryOptions struct {
	AccountID  *int64 `json:"account_id,omitempty"`
	BodyTypeID *int64 `json:"body_type_id,omitempty"`
	Make       string `json:"make,omitempty"`
	Model      string `json:"model,omitempty"`
	Color      string `json:"color,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type ExitOptions struct {
	PaymentConfirmed bool   `json:"payment_confirmed"`
	ReceiptNotes     string `json:"receipt_notes,omitempty"`
}

// Result is a business outcome, not a transport error: Success=false with a
// Message is a normal reply (vehicle already inside, no active passage, ...).
type Result struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func Ok(data interface{}) Result {
	return Result{Success: true, Data: data}
}

func Fail(message string) Result {
	return Result{Success: false, Message: message}
}

// Fare is the output of the fare engine. BillableUnits is days or hours
// depending on the configured policy.
type Fare struct {
	Amount        float64 `json:"amount"`
	IsFreeReentry bool    `json:"is_free_reentry"`
	BillableUnits int     `json:"billable_units"`
}
