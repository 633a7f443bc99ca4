package transfer

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/custody/internal/db"
	"github.com/erazemk/custody/internal/model"
	"github.com/erazemk/custody/internal/store"
)

var testDay = time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)

// fixture is a small organization:
//
//	Uprava (ADMIN_AFFAIRS)       Uprava Maribor (ADMIN_AFFAIRS)
//	Servis LJ (MAINTENANCE_CENTER)  Servis MB (MAINTENANCE_CENTER)
//	Regija Center (BRANCH)
//	├── Poslovalnica 1 (BRANCH, serviced by Servis LJ)
//	└── Poslovalnica 2 (BRANCH)
//	Regija Vzhod (BRANCH)
type fixture struct {
	db  *sql.DB
	svc *Service

	admin, admin2, center, center2 *model.Branch
	region, b1, b2, east           *model.Branch

	root, clerk1, clerk2, centerMgr *model.User
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithClock(t, func() time.Time { return testDay })
}

func newFixtureWithClock(t *testing.T, clock func() time.Time) *fixture {
	t.Helper()

	f := &fixture{db: db.NewTestDB(t)}

	f.admin = f.branch(t, "Uprava", model.BranchTypeAdminAffairs, nil, nil)
	f.admin2 = f.branch(t, "Uprava Maribor", model.BranchTypeAdminAffairs, nil, nil)
	f.center = f.branch(t, "Servis LJ", model.BranchTypeMaintenanceCenter, nil, nil)
	f.center2 = f.branch(t, "Servis MB", model.BranchTypeMaintenanceCenter, nil, nil)
	f.region = f.branch(t, "Regija Center", model.BranchTypeBranch, nil, nil)
	f.b1 = f.branch(t, "Poslovalnica 1", model.BranchTypeBranch, &f.region.ID, &f.center.ID)
	f.b2 = f.branch(t, "Poslovalnica 2", model.BranchTypeBranch, &f.region.ID, nil)
	f.east = f.branch(t, "Regija Vzhod", model.BranchTypeBranch, nil, nil)

	f.root = &model.User{ID: 1, Username: "admin", DisplayName: "Administrator", Role: model.RoleAdmin}
	f.clerk1 = &model.User{ID: 2, Username: "ana", DisplayName: "Ana Novak", Role: model.RoleUser, BranchID: &f.b1.ID}
	f.clerk2 = &model.User{ID: 3, Username: "bojan", DisplayName: "Bojan Kranjc", Role: model.RoleManager, BranchID: &f.b2.ID}
	f.centerMgr = &model.User{ID: 4, Username: "cvetka", Role: model.RoleCenterManager, BranchID: &f.center.ID}

	engine, err := NewEngine(DefaultPolicy())
	require.NoError(t, err)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f.svc, err = NewService(ServiceDeps{DB: f.db, Engine: engine, IDs: node, Clock: clock})
	require.NoError(t, err)

	return f
}

func (f *fixture) branch(t *testing.T, name string, branchType model.BranchType, parentID, centerID *int64) *model.Branch {
	t.Helper()
	b, err := store.CreateBranch(context.Background(), f.db, name, branchType, parentID, centerID)
	require.NoError(t, err)
	return b
}

func (f *fixture) machine(t *testing.T, serial string, branchID int64, status string) {
	t.Helper()
	_, err := store.CreateAsset(context.Background(), f.db, model.AssetKindMachine, serial, branchID, status, "")
	require.NoError(t, err)
}

func (f *fixture) sim(t *testing.T, serial string, branchID int64) {
	t.Helper()
	_, err := store.CreateAsset(context.Background(), f.db, model.AssetKindSIM, serial, branchID, model.SIMStatusActive, "")
	require.NoError(t, err)
}

func (f *fixture) asset(t *testing.T, kind model.AssetKind, serial string) *model.Asset {
	t.Helper()
	a, err := store.GetAsset(context.Background(), f.db, kind, serial)
	require.NoError(t, err)
	require.NotNil(t, a, "asset %s", serial)
	return a
}

func (f *fixture) stock(t *testing.T, branchID int64, code string) *model.Stock {
	t.Helper()
	s, err := store.GetStock(context.Background(), f.db, branchID, code)
	require.NoError(t, err)
	require.NotNil(t, s, "stock %s at %d", code, branchID)
	return s
}

func machineRequest(from, to int64, orderType model.OrderType, serials ...string) model.TransferRequest {
	req := model.TransferRequest{FromBranchID: from, ToBranchID: to, Type: orderType}
	for _, s := range serials {
		req.Items = append(req.Items, model.SerializedItem{SerialNumber: s})
	}
	return req
}

func requireCode(t *testing.T, err error, code Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, CodeOf(err), "error: %v", err)
}

func rules(res Result) []Rule {
	var out []Rule
	for _, v := range res.Violations {
		out = append(out, v.Rule)
	}
	return out
}
