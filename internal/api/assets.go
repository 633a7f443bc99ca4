package api

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/erazemk/custody/internal/model"
	"github.com/erazemk/custody/internal/registry"
	"github.com/erazemk/custody/internal/store"
)

// AssetsHandler serves the machine and SIM registries and spare-part stock.
// Every manual write goes through the registry guard.
type AssetsHandler struct {
	DB  *sql.DB
	Log *zap.Logger
}

type createAssetRequest struct {
	SerialNumber string `json:"serialNumber" validate:"required,max=64"`
	BranchID     int64  `json:"branchId" validate:"required"`
	Status       string `json:"status"`
	Description  string `json:"description" validate:"max=256"`
}

type setStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type addStockRequest struct {
	BranchID     int64  `json:"branchId" validate:"required"`
	ItemTypeCode string `json:"itemTypeCode" validate:"required,max=64"`
	Quantity     int    `json:"quantity" validate:"required,min=1"`
}

func (h *AssetsHandler) guard() *registry.Guard {
	return registry.NewGuard(h.DB, h.Log)
}

// List handles GET /api/{machines|sims}?branchId=&status=.
func (h *AssetsHandler) List(kind model.AssetKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		branchID, err := queryID(r, "branchId")
		if err != nil {
			jsonError(w, http.StatusBadRequest, codeBadRequest, "invalid branchId")
			return
		}
		assets, err := store.ListAssets(r.Context(), h.DB, kind, branchID, r.URL.Query().Get("status"))
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		if assets == nil {
			assets = []model.Asset{}
		}
		jsonResponse(w, http.StatusOK, assets)
	}
}

// Create handles POST /api/{machines|sims}. The status defaults to the
// first available status of the kind.
func (h *AssetsHandler) Create(kind model.AssetKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAssetRequest
		if err := decodeJSON(r, &req); err != nil {
			jsonError(w, http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}
		if req.Status == "" {
			req.Status = kind.AvailableStatuses()[0]
		}

		b, err := store.GetBranch(r.Context(), h.DB, req.BranchID)
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		if b == nil {
			jsonError(w, http.StatusBadRequest, codeBadRequest, "branch does not exist")
			return
		}

		a, err := h.guard().CreateAsset(r.Context(), kind, req.SerialNumber, req.BranchID, req.Status,
			req.Description, GetUser(r.Context()).Username)
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		jsonResponse(w, http.StatusCreated, a)
	}
}

// Get handles GET /api/{machines|sims}/{serial}.
func (h *AssetsHandler) Get(kind model.AssetKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := store.GetAsset(r.Context(), h.DB, kind, chi.URLParam(r, "serial"))
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		if a == nil {
			writeError(w, h.Log, registry.ErrAssetNotFound)
			return
		}
		jsonResponse(w, http.StatusOK, a)
	}
}

// SetStatus handles PUT /api/{machines|sims}/{serial}/status.
func (h *AssetsHandler) SetStatus(kind model.AssetKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setStatusRequest
		if err := decodeJSON(r, &req); err != nil {
			jsonError(w, http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}

		a, err := h.guard().SetStatus(r.Context(), kind, chi.URLParam(r, "serial"), req.Status, GetUser(r.Context()).Username)
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		jsonResponse(w, http.StatusOK, a)
	}
}

// AddStock handles POST /api/spare-parts/stock.
func (h *AssetsHandler) AddStock(w http.ResponseWriter, r *http.Request) {
	var req addStockRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	if err := store.AddStock(r.Context(), h.DB, req.BranchID, req.ItemTypeCode, req.Quantity); err != nil {
		writeError(w, h.Log, err)
		return
	}
	s, err := store.GetStock(r.Context(), h.DB, req.BranchID, req.ItemTypeCode)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	h.Log.Info("stock added",
		zap.String("user", GetUser(r.Context()).Username),
		zap.Int64("branch_id", req.BranchID),
		zap.String("item_type_code", req.ItemTypeCode),
		zap.Int("quantity", req.Quantity),
	)
	jsonResponse(w, http.StatusCreated, s)
}

// ListStock handles GET /api/spare-parts/stock?branchId=.
func (h *AssetsHandler) ListStock(w http.ResponseWriter, r *http.Request) {
	branchID, err := queryID(r, "branchId")
	if err != nil || branchID == 0 {
		jsonError(w, http.StatusBadRequest, codeBadRequest, "branchId is required")
		return
	}
	stock, err := store.ListStock(r.Context(), h.DB, branchID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if stock == nil {
		stock = []model.Stock{}
	}
	jsonResponse(w, http.StatusOK, stock)
}
