package db

import (
	"context"
	"errors"
	"testing"
)

func TestEnsureSchemaIdempotent(t *testing.T) {
	database := NewTestDB(t)

	if err := EnsureSchema(database); err != nil {
		t.Fatalf("second EnsureSchema: %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	database := NewTestDB(t)
	ctx := context.Background()

	if _, err := database.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES ('k', 'v')`); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := database.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES ('k', 'v')`)
	if err == nil {
		t.Fatal("expected constraint error")
	}
	if !IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = false, want true", err)
	}
	if IsBusy(err) {
		t.Errorf("IsBusy(%v) = true, want false", err)
	}
}

func TestIsBusyIgnoresForeignErrors(t *testing.T) {
	if IsBusy(nil) {
		t.Error("IsBusy(nil) = true")
	}
	if IsBusy(errors.New("database is locked")) {
		t.Error("plain errors must not be classified as busy")
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	database := NewTestDB(t)

	_, err := database.Exec(`INSERT INTO machines (serial_number, branch_id, status) VALUES ('SN1', 999, 'NEW')`)
	if err == nil {
		t.Fatal("expected foreign key violation for unknown branch")
	}
}
