package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS stations (
		id          BIGSERIAL PRIMARY KEY,
		name        TEXT NOT NULL,
		active      BOOLEAN NOT NULL DEFAULT true,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS gates (
		id          BIGSERIAL PRIMARY KEY,
		station_id  BIGINT NOT NULL REFERENCES stations(id),
		name        TEXT NOT NULL,
		active      BOOLEAN NOT NULL DEFAULT true,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS body_types (
		id          BIGSERIAL PRIMARY KEY,
		name        TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_body_types_name ON body_types(name);`,
	`CREATE TABLE IF NOT EXISTS body_type_prices (
		id              BIGSERIAL PRIMARY KEY,
		body_type_id    BIGINT NOT NULL REFERENCES body_types(id),
		station_id      BIGINT NOT NULL REFERENCES stations(id),
		price           NUMERIC(12,2) NOT NULL,
		effective_from  DATE NOT NULL,
		effective_to    DATE,
		is_active       BOOLEAN NOT NULL DEFAULT true,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_body_type_prices_lookup
		ON body_type_prices(body_type_id, station_id, effective_from);`,
	`CREATE TABLE IF NOT EXISTS vehicles (
		id               BIGSERIAL PRIMARY KEY,
		plate            TEXT NOT NULL,
		normalized_plate TEXT NOT NULL,
		body_type_id     BIGINT REFERENCES body_types(id),
		make             TEXT,
		model            TEXT,
		color            TEXT,
		registered       BOOLEAN NOT NULL DEFAULT false,
		exempt           BOOLEAN NOT NULL DEFAULT false,
		exempt_reason    TEXT,
		exempt_until     TIMESTAMPTZ,
		paid_until       TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_vehicles_normalized_plate ON vehicles(normalized_plate);`,
	`CREATE TABLE IF NOT EXISTS passages (
		id             BIGSERIAL PRIMARY KEY,
		number         TEXT NOT NULL,
		vehicle_id     BIGINT NOT NULL REFERENCES vehicles(id),
		entry_time     TIMESTAMPTZ NOT NULL,
		entry_gate_id  BIGINT NOT NULL REFERENCES gates(id),
		entry_operator BIGINT NOT NULL,
		exit_time      TIMESTAMPTZ,
		exit_gate_id   BIGINT REFERENCES gates(id),
		exit_operator  BIGINT,
		base_amount    NUMERIC(12,2) NOT NULL DEFAULT 0,
		total_amount   NUMERIC(12,2) NOT NULL DEFAULT 0,
		type           TEXT NOT NULL DEFAULT 'toll',
		status         TEXT NOT NULL DEFAULT 'active',
		payment_kind   TEXT NOT NULL DEFAULT 'cash',
		bundle_id      BIGINT,
		make           TEXT,
		model          TEXT,
		color          TEXT,
		notes          TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_passages_number ON passages(number);`,
	// One active stay per vehicle, enforced at the storage layer so concurrent
	// entries cannot race past the service-level check.
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_passages_active_vehicle
		ON passages(vehicle_id) WHERE exit_time IS NULL AND status = 'active';`,
	`CREATE INDEX IF NOT EXISTS idx_passages_vehicle_entry ON passages(vehicle_id, entry_time);`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id          BIGSERIAL PRIMARY KEY,
		name        TEXT NOT NULL,
		active      BOOLEAN NOT NULL DEFAULT true,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS bundle_subscriptions (
		id            BIGSERIAL PRIMARY KEY,
		account_id    BIGINT NOT NULL REFERENCES accounts(id),
		name          TEXT NOT NULL,
		active        BOOLEAN NOT NULL DEFAULT true,
		starts_at     TIMESTAMPTZ NOT NULL,
		ends_at       TIMESTAMPTZ,
		max_passages  INT,
		passages_used INT NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_bundle_subscriptions_account ON bundle_subscriptions(account_id);`,
	`CREATE TABLE IF NOT EXISTS detection_events (
		id               BIGSERIAL PRIMARY KEY,
		detection_id     TEXT NOT NULL,
		gate_id          BIGINT NOT NULL REFERENCES gates(id),
		plate            TEXT NOT NULL,
		normalized_plate TEXT NOT NULL,
		confidence       NUMERIC(5,2),
		direction        TEXT NOT NULL DEFAULT 'unknown',
		detected_at      TIMESTAMPTZ NOT NULL,
		vehicle_make     TEXT,
		vehicle_model    TEXT,
		vehicle_color    TEXT,
		snapshot_url     TEXT,
		raw_payload      JSONB,
		status           TEXT NOT NULL DEFAULT 'pending',
		notes            TEXT,
		processed_at     TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_detection_events_detection_id ON detection_events(detection_id);`,
	`CREATE INDEX IF NOT EXISTS idx_detection_events_queue ON detection_events(status, detected_at, id);`,
	`CREATE INDEX IF NOT EXISTS idx_detection_events_gate_time ON detection_events(gate_id, detected_at);`,
	`CREATE TABLE IF NOT EXISTS operator_assignments (
		id              BIGSERIAL PRIMARY KEY,
		operator_id     BIGINT NOT NULL,
		station_id      BIGINT NOT NULL REFERENCES stations(id),
		active          BOOLEAN NOT NULL DEFAULT true,
		current_gate_id BIGINT REFERENCES gates(id),
		selected_at     TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_operator_assignments_pair
		ON operator_assignments(operator_id, station_id);`,
	// Gate exclusivity: a gate is held by at most one active operator.
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_operator_assignments_held_gate
		ON operator_assignments(station_id, current_gate_id)
		WHERE current_gate_id IS NOT NULL AND active;`,
}

func RunMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
