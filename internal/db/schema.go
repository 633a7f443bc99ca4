package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS branches (
    id                 INTEGER PRIMARY KEY,
    name               TEXT NOT NULL,
    type               TEXT NOT NULL CHECK (type IN ('BRANCH', 'ADMIN_AFFAIRS', 'MAINTENANCE_CENTER')),
    active             INTEGER NOT NULL DEFAULT 1,
    parent_id          INTEGER REFERENCES branches(id),
    assigned_center_id INTEGER REFERENCES branches(id),
    created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    username      TEXT NOT NULL,
    display_name  TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('admin', 'center_manager', 'manager', 'user')),
    branch_id     INTEGER REFERENCES branches(id),
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
    ON users(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS machines (
    serial_number TEXT PRIMARY KEY,
    branch_id     INTEGER NOT NULL REFERENCES branches(id),
    status        TEXT NOT NULL,
    description   TEXT,
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sims (
    serial_number TEXT PRIMARY KEY,
    branch_id     INTEGER NOT NULL REFERENCES branches(id),
    status        TEXT NOT NULL,
    description   TEXT,
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS spare_parts (
    branch_id      INTEGER NOT NULL REFERENCES branches(id),
    item_type_code TEXT NOT NULL,
    quantity       INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
    in_transit     INTEGER NOT NULL DEFAULT 0 CHECK (in_transit >= 0),
    PRIMARY KEY (branch_id, item_type_code)
);

CREATE TABLE IF NOT EXISTS transfer_orders (
    id               INTEGER PRIMARY KEY,
    order_number     TEXT NOT NULL UNIQUE,
    from_branch_id   INTEGER NOT NULL REFERENCES branches(id),
    to_branch_id     INTEGER NOT NULL REFERENCES branches(id),
    type             TEXT NOT NULL CHECK (type IN ('MACHINE', 'SIM', 'MAINTENANCE', 'SEND_TO_CENTER', 'SPARE_PART')),
    status           TEXT NOT NULL DEFAULT 'PENDING' CHECK (status IN ('PENDING', 'RECEIVED', 'REJECTED', 'CANCELLED')),
    waybill_number   TEXT,
    driver_name      TEXT,
    driver_phone     TEXT,
    notes            TEXT,
    rejection_reason TEXT,
    created_by       INTEGER NOT NULL,
    created_by_name  TEXT NOT NULL DEFAULT '',
    received_by      INTEGER,
    received_by_name TEXT,
    created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    received_at      DATETIME,
    CHECK (from_branch_id <> to_branch_id)
);

CREATE INDEX IF NOT EXISTS idx_transfer_orders_status ON transfer_orders(status);

CREATE TABLE IF NOT EXISTS transfer_order_items (
    id                INTEGER PRIMARY KEY,
    transfer_order_id INTEGER NOT NULL REFERENCES transfer_orders(id) ON DELETE CASCADE,
    asset_kind        TEXT NOT NULL CHECK (asset_kind IN ('machine', 'sim', 'spare_part')),
    serial_number     TEXT,
    item_type_code    TEXT,
    quantity          INTEGER NOT NULL DEFAULT 1 CHECK (quantity > 0),
    prior_status      TEXT,
    notes             TEXT,
    is_received       INTEGER NOT NULL DEFAULT 0,
    received_at       DATETIME
);

CREATE INDEX IF NOT EXISTS idx_transfer_order_items_serial ON transfer_order_items(serial_number);
CREATE INDEX IF NOT EXISTS idx_transfer_order_items_order ON transfer_order_items(transfer_order_id);

CREATE TABLE IF NOT EXISTS order_counters (
    day TEXT PRIMARY KEY,
    seq INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);
`

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
