package gate

import "time"

type Station struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type Gate struct {
	ID        int64  `json:"id"`
	StationID int64  `json:"station_id"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
}

// Assignment links one operator to one station for a shift. CurrentGateID is
// nil while the operator has not claimed a gate.
type Assignment struct {
	ID            int64
	OperatorID    int64
	StationID     int64
	Active        bool
	CurrentGateID *int64
	SelectedAt    *time.Time
}

// SelectResult reports a claim attempt. Reason is set when Selected is false
// and tells the operator what blocked the claim.
type SelectResult struct {
	Selected bool   `json:"selected"`
	Reason   string `json:"reason,omitempty"`
}

// Holding is one (station, gate) pair an operator currently occupies.
type Holding struct {
	StationID  int64     `json:"station_id"`
	GateID     int64     `json:"gate_id"`
	GateName   string    `json:"gate_name"`
	SelectedAt time.Time `json:"selected_at"`
}
