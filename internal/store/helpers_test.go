package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/erazemk/custody/internal/model"
)

func mustBranch(t *testing.T, database DBTX, name string, branchType model.BranchType, parentID *int64) *model.Branch {
	t.Helper()
	b, err := CreateBranch(context.Background(), database, name, branchType, parentID, nil)
	if err != nil {
		t.Fatalf("CreateBranch(%s): %v", name, err)
	}
	return b
}

func mustAsset(t *testing.T, database *sql.DB, kind model.AssetKind, serial string, branchID int64, status string) *model.Asset {
	t.Helper()
	a, err := CreateAsset(context.Background(), database, kind, serial, branchID, status, "")
	if err != nil {
		t.Fatalf("CreateAsset(%s): %v", serial, err)
	}
	return a
}
