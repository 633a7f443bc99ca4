package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/erazemk/custody/internal/auth"
	"github.com/erazemk/custody/internal/db"
	"github.com/erazemk/custody/internal/model"
	"github.com/erazemk/custody/internal/store"
	"github.com/erazemk/custody/internal/transfer"
)

const testJWTSecret = "test-secret"

type testEnv struct {
	server *httptest.Server
	admin  string // admin token

	region, b1, b2 *model.Branch
	clerk          *model.User // user at b1
	manager        *model.User // manager at b2
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	database := db.NewTestDB(t)

	engine, err := transfer.NewEngine(transfer.DefaultPolicy())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	svc, err := transfer.NewService(transfer.ServiceDeps{DB: database, Engine: engine, IDs: node})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	server := httptest.NewServer(NewRouter(Deps{DB: database, Transfers: svc, JWTSecret: testJWTSecret}))
	t.Cleanup(server.Close)

	env := &testEnv{server: server}
	env.region = mustBranch(t, database, "Regija", nil)
	env.b1 = mustBranch(t, database, "Poslovalnica 1", &env.region.ID)
	env.b2 = mustBranch(t, database, "Poslovalnica 2", &env.region.ID)

	mustUser(t, database, "admin", model.RoleAdmin, nil)
	env.clerk = mustUser(t, database, "ana", model.RoleUser, &env.b1.ID)
	env.manager = mustUser(t, database, "bojan", model.RoleManager, &env.b2.ID)

	if _, err := store.CreateAsset(ctx, database, model.AssetKindMachine, "SN001", env.b1.ID, model.MachineStatusStandby, ""); err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}

	env.admin = login(t, server, "admin")
	return env
}

func mustBranch(t *testing.T, database *sql.DB, name string, parentID *int64) *model.Branch {
	t.Helper()
	b, err := store.CreateBranch(context.Background(), database, name, model.BranchTypeBranch, parentID, nil)
	if err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	return b
}

func mustUser(t *testing.T, database *sql.DB, username, role string, branchID *int64) *model.User {
	t.Helper()
	hash, err := auth.HashPassword("password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u, err := store.CreateUser(context.Background(), database, username, strings.ToUpper(username), hash, role, branchID)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func login(t *testing.T, server *httptest.Server, username string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": "password"})
	resp, err := http.Post(server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed: %d", resp.StatusCode)
	}

	var loginResp loginResponse
	json.NewDecoder(resp.Body).Decode(&loginResp)
	if loginResp.Token == "" {
		t.Fatal("empty token from login")
	}
	return loginResp.Token
}

// do sends an authenticated request and decodes the response into out when
// out is non-nil.
func do(t *testing.T, method, url, token string, body, out any) *http.Response {
	t.Helper()
	var data []byte
	if body != nil {
		data, _ = json.Marshal(body)
	}

	req, err := http.NewRequest(method, url, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s: %v", method, url, err)
		}
	}
	return resp
}

func TestLoginEndpoint(t *testing.T) {
	env := setupTestServer(t)

	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrong"})
	resp, _ := http.Post(env.server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	var me model.User
	do(t, "GET", env.server.URL+"/api/auth/me", env.admin, nil, &me)
	if me.Username != "admin" || me.Role != model.RoleAdmin {
		t.Errorf("unexpected identity: %+v", me)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	env := setupTestServer(t)
	token := login(t, env.server, "ana")

	resp := do(t, "POST", env.server.URL+"/api/auth/logout", token, nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp = do(t, "GET", env.server.URL+"/api/auth/me", token, nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", resp.StatusCode)
	}

	// A fresh login still works.
	resp = do(t, "GET", env.server.URL+"/api/auth/me", login(t, env.server, "ana"), nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for new token, got %d", resp.StatusCode)
	}
}

func TestUnauthenticatedAccess(t *testing.T) {
	env := setupTestServer(t)

	var e errorResponse
	resp := do(t, "GET", env.server.URL+"/api/transfer-orders", "", nil, &e)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
	if e.Error.Code != codeUnauthorized || e.Error.Timestamp.IsZero() {
		t.Errorf("unexpected error envelope: %+v", e)
	}
}

func TestRoleBasedAccess(t *testing.T) {
	env := setupTestServer(t)
	clerk := login(t, env.server, "ana")
	manager := login(t, env.server, "bojan")

	resp := do(t, "POST", env.server.URL+"/api/branches", clerk, map[string]string{"name": "X", "type": "BRANCH"}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("user creating branch: expected 403, got %d", resp.StatusCode)
	}

	resp = do(t, "GET", env.server.URL+"/api/users", manager, nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("manager listing users: expected 403, got %d", resp.StatusCode)
	}

	var users []model.User
	resp = do(t, "GET", env.server.URL+"/api/users", env.admin, nil, &users)
	if resp.StatusCode != http.StatusOK || len(users) != 3 {
		t.Errorf("admin listing users: status %d, %d users", resp.StatusCode, len(users))
	}
}

func TestDeletedUserTokenRejected(t *testing.T) {
	env := setupTestServer(t)
	clerk := login(t, env.server, "ana")

	resp := do(t, "DELETE", env.server.URL+"/api/users/"+itoa(env.clerk.ID), env.admin, nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp = do(t, "GET", env.server.URL+"/api/auth/me", clerk, nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for deleted user, got %d", resp.StatusCode)
	}
}

func TestCreateUserValidation(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing password", map[string]any{"username": "cene", "role": "admin"}, http.StatusBadRequest},
		{"unknown role", map[string]any{"username": "cene", "password": "password", "role": "owner"}, http.StatusBadRequest},
		{"branch required", map[string]any{"username": "cene", "password": "password", "role": "user"}, http.StatusBadRequest},
		{"short password", map[string]any{"username": "cene", "password": "short", "role": "admin"}, http.StatusBadRequest},
		{"ok", map[string]any{"username": "cene", "password": "password", "role": "user", "branchId": env.b1.ID}, http.StatusCreated},
		{"duplicate", map[string]any{"username": "cene", "password": "password", "role": "admin"}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, "POST", env.server.URL+"/api/users", env.admin, tt.body, nil)
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestTransferOrderAPIFlow(t *testing.T) {
	env := setupTestServer(t)
	clerk := login(t, env.server, "ana")
	manager := login(t, env.server, "bojan")
	url := env.server.URL + "/api/transfer-orders"

	body := map[string]any{
		"fromBranchId":  env.b1.ID,
		"toBranchId":    env.b2.ID,
		"type":          model.OrderTypeMachine,
		"items":         []map[string]string{{"serialNumber": "SN001"}},
		"waybillNumber": "WB-1",
	}

	var order model.TransferOrder
	resp := do(t, "POST", url, clerk, body, &order)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	if !strings.HasPrefix(order.OrderNumber, "TO-") || order.Status != model.OrderStatusPending {
		t.Errorf("unexpected order: %+v", order)
	}
	if order.CreatedByName != "ANA" || len(order.Items) != 1 {
		t.Errorf("unexpected order lines or creator: %+v", order)
	}

	// The same machine cannot go out twice.
	var e errorResponse
	resp = do(t, "POST", url, clerk, body, &e)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("second create: expected 400, got %d", resp.StatusCode)
	}
	if e.Error.Code != string(transfer.CodeValidation) || len(e.Errors) == 0 || len(e.Violations) == 0 {
		t.Errorf("unexpected error envelope: %+v", e)
	}

	var serials []string
	do(t, "GET", url+"/pending-serials?branchId="+itoa(env.b1.ID), clerk, nil, &serials)
	if len(serials) != 1 || serials[0] != "SN001" {
		t.Errorf("expected [SN001] pending, got %v", serials)
	}

	// The registry refuses manual changes to a locked machine.
	resp = do(t, "PUT", env.server.URL+"/api/machines/SN001/status", env.admin, map[string]string{"status": model.MachineStatusStandby}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("manual status change: expected 403, got %d", resp.StatusCode)
	}

	id := itoa(order.ID)

	// The clerk works at the source branch, not the destination.
	resp = do(t, "POST", url+"/"+id+"/receive", clerk, nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("receive by source clerk: expected 403, got %d", resp.StatusCode)
	}

	// A body identity other than the caller's is refused.
	resp = do(t, "POST", url+"/"+id+"/receive", manager, map[string]any{"receivedBy": env.clerk.ID}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("spoofed receivedBy: expected 403, got %d", resp.StatusCode)
	}

	var received model.TransferOrder
	resp = do(t, "POST", url+"/"+id+"/receive", manager, map[string]any{"receivedBy": env.manager.ID}, &received)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("receive: expected 200, got %d", resp.StatusCode)
	}
	if received.Status != model.OrderStatusReceived || received.ReceivedByName != "BOJAN" {
		t.Errorf("unexpected received order: %+v", received)
	}

	var machine model.Asset
	do(t, "GET", env.server.URL+"/api/machines/SN001", clerk, nil, &machine)
	if machine.BranchID != env.b2.ID || machine.Status != model.MachineStatusNew {
		t.Errorf("machine not delivered: %+v", machine)
	}

	resp = do(t, "POST", url+"/"+id+"/cancel", env.admin, nil, &e)
	if resp.StatusCode != http.StatusConflict || e.Error.Code != string(transfer.CodeInvalidState) {
		t.Errorf("cancel after receipt: expected 409 INVALID_STATE_TRANSITION, got %d %s", resp.StatusCode, e.Error.Code)
	}

	var orders []model.TransferOrder
	do(t, "GET", url+"?status=RECEIVED&branchId="+itoa(env.b2.ID), manager, nil, &orders)
	if len(orders) != 1 {
		t.Errorf("expected 1 received order, got %d", len(orders))
	}
}

func TestRejectRequiresReason(t *testing.T) {
	env := setupTestServer(t)
	clerk := login(t, env.server, "ana")
	manager := login(t, env.server, "bojan")
	url := env.server.URL + "/api/transfer-orders"

	var order model.TransferOrder
	do(t, "POST", url, clerk, map[string]any{
		"fromBranchId": env.b1.ID,
		"toBranchId":   env.b2.ID,
		"type":         model.OrderTypeMachine,
		"items":        []map[string]string{{"serialNumber": "SN001"}},
	}, &order)

	resp := do(t, "POST", url+"/"+itoa(order.ID)+"/reject", manager, map[string]string{"rejectionReason": "  "}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank reason: expected 400, got %d", resp.StatusCode)
	}

	var rejected model.TransferOrder
	resp = do(t, "POST", url+"/"+itoa(order.ID)+"/reject", manager, map[string]string{"rejectionReason": "damaged"}, &rejected)
	if resp.StatusCode != http.StatusOK || rejected.Status != model.OrderStatusRejected {
		t.Fatalf("reject: status %d, order %+v", resp.StatusCode, rejected)
	}

	var machine model.Asset
	do(t, "GET", env.server.URL+"/api/machines/SN001", clerk, nil, &machine)
	if machine.BranchID != env.b1.ID || machine.Status != model.MachineStatusStandby {
		t.Errorf("machine not restored: %+v", machine)
	}
}

func TestValidateEndpoint(t *testing.T) {
	env := setupTestServer(t)
	clerk := login(t, env.server, "ana")

	var res transfer.Result
	resp := do(t, "POST", env.server.URL+"/api/transfer-orders/validate", clerk, map[string]any{
		"fromBranchId": env.b1.ID,
		"toBranchId":   env.b1.ID,
		"type":         model.OrderTypeMachine,
		"items":        []map[string]string{{"serialNumber": "SN001"}},
	}, &res)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if res.Valid || len(res.Errors) == 0 {
		t.Errorf("expected invalid result, got %+v", res)
	}

	// Validation locks nothing.
	var machine model.Asset
	do(t, "GET", env.server.URL+"/api/machines/SN001", clerk, nil, &machine)
	if machine.Status != model.MachineStatusStandby {
		t.Errorf("validate changed the machine: %+v", machine)
	}
}

func TestTransferOrderNotFound(t *testing.T) {
	env := setupTestServer(t)

	var e errorResponse
	resp := do(t, "GET", env.server.URL+"/api/transfer-orders/999", env.admin, nil, &e)
	if resp.StatusCode != http.StatusNotFound || e.Error.Code != string(transfer.CodeNotFound) {
		t.Errorf("expected 404 NOT_FOUND, got %d %s", resp.StatusCode, e.Error.Code)
	}

	resp = do(t, "GET", env.server.URL+"/api/transfer-orders/abc", env.admin, nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed id, got %d", resp.StatusCode)
	}
}

func TestContentionIsRetryable(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, zap.NewNop(), &transfer.Error{Op: "create transfer order", Code: transfer.CodeContention, Message: "storage is busy, retry the request"})

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("expected Retry-After 1, got %q", got)
	}
	var e errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&e); err != nil {
		t.Fatal(err)
	}
	if e.Error.Code != string(transfer.CodeContention) {
		t.Errorf("expected CONTENTION, got %s", e.Error.Code)
	}
}

func TestRegistryGuard(t *testing.T) {
	env := setupTestServer(t)
	url := env.server.URL + "/api/sims"

	resp := do(t, "POST", url, env.admin, map[string]any{"serialNumber": "89386", "branchId": env.b1.ID, "status": model.SIMStatusInTransit}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("create in transit: expected 403, got %d", resp.StatusCode)
	}

	var sim model.Asset
	resp = do(t, "POST", url, env.admin, map[string]any{"serialNumber": "89386", "branchId": env.b1.ID}, &sim)
	if resp.StatusCode != http.StatusCreated || sim.Status != model.SIMStatusActive {
		t.Fatalf("create: status %d, sim %+v", resp.StatusCode, sim)
	}

	resp = do(t, "PUT", url+"/89386/status", env.admin, map[string]string{"status": "BROKEN"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown status: expected 400, got %d", resp.StatusCode)
	}

	resp = do(t, "PUT", url+"/89386/status", env.admin, map[string]string{"status": model.SIMStatusDeactivated}, &sim)
	if resp.StatusCode != http.StatusOK || sim.Status != model.SIMStatusDeactivated {
		t.Errorf("deactivate: status %d, sim %+v", resp.StatusCode, sim)
	}

	resp = do(t, "PUT", url+"/00000/status", env.admin, map[string]string{"status": model.SIMStatusActive}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown sim: expected 404, got %d", resp.StatusCode)
	}
}

func TestSparePartStock(t *testing.T) {
	env := setupTestServer(t)
	url := env.server.URL + "/api/spare-parts/stock"

	resp := do(t, "POST", url, env.admin, map[string]any{"branchId": env.b1.ID, "itemTypeCode": "PAPER", "quantity": 0}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("zero quantity: expected 400, got %d", resp.StatusCode)
	}

	do(t, "POST", url, env.admin, map[string]any{"branchId": env.b1.ID, "itemTypeCode": "PAPER", "quantity": 5}, nil)

	var stock []model.Stock
	do(t, "GET", url+"?branchId="+itoa(env.b1.ID), env.admin, nil, &stock)
	if len(stock) != 1 || stock[0].Quantity != 5 {
		t.Errorf("unexpected stock: %+v", stock)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
