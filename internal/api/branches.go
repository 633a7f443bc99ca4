package api

import (
	"database/sql"
	"net/http"

	"go.uber.org/zap"

	"github.com/erazemk/custody/internal/model"
	"github.com/erazemk/custody/internal/store"
)

// BranchesHandler serves the branch directory.
type BranchesHandler struct {
	DB  *sql.DB
	Log *zap.Logger
}

type createBranchRequest struct {
	Name             string           `json:"name" validate:"required,max=128"`
	Type             model.BranchType `json:"type" validate:"required,oneof=BRANCH ADMIN_AFFAIRS MAINTENANCE_CENTER"`
	ParentID         *int64           `json:"parentId"`
	AssignedCenterID *int64           `json:"assignedCenterId"`
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

// List handles GET /api/branches?type=.
func (h *BranchesHandler) List(w http.ResponseWriter, r *http.Request) {
	branches, err := store.ListBranches(r.Context(), h.DB, model.BranchType(r.URL.Query().Get("type")))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if branches == nil {
		branches = []model.Branch{}
	}
	jsonResponse(w, http.StatusOK, branches)
}

// Create handles POST /api/branches.
func (h *BranchesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBranchRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	if req.AssignedCenterID != nil {
		center, err := store.GetBranch(r.Context(), h.DB, *req.AssignedCenterID)
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		if center == nil || center.Type != model.BranchTypeMaintenanceCenter {
			jsonError(w, http.StatusBadRequest, codeBadRequest, "assignedCenterId must name a maintenance center")
			return
		}
	}

	b, err := store.CreateBranch(r.Context(), h.DB, req.Name, req.Type, req.ParentID, req.AssignedCenterID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	h.Log.Info("branch created",
		zap.String("user", GetUser(r.Context()).Username),
		zap.Int64("branch_id", b.ID),
		zap.String("type", string(b.Type)),
	)
	jsonResponse(w, http.StatusCreated, b)
}

// Get handles GET /api/branches/{id}.
func (h *BranchesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, codeBadRequest, "invalid branch id")
		return
	}

	b, err := store.GetBranch(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if b == nil {
		jsonError(w, http.StatusNotFound, codeNotFound, "branch not found")
		return
	}
	jsonResponse(w, http.StatusOK, b)
}

// SetActive handles PUT /api/branches/{id}/active.
func (h *BranchesHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, codeBadRequest, "invalid branch id")
		return
	}

	var req setActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	if err := store.SetBranchActive(r.Context(), h.DB, id, req.Active); err != nil {
		writeError(w, h.Log, err)
		return
	}
	b, err := store.GetBranch(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if b == nil {
		jsonError(w, http.StatusNotFound, codeNotFound, "branch not found")
		return
	}

	h.Log.Info("branch activity changed",
		zap.String("user", GetUser(r.Context()).Username),
		zap.Int64("branch_id", id),
		zap.Bool("active", req.Active),
	)
	jsonResponse(w, http.StatusOK, b)
}
