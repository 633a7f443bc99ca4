package api

import (
	"database/sql"
	"net/http"

	"go.uber.org/zap"

	"github.com/erazemk/custody/internal/auth"
	"github.com/erazemk/custody/internal/model"
	"github.com/erazemk/custody/internal/store"
)

// UsersHandler handles user management endpoints (admin only).
type UsersHandler struct {
	DB  *sql.DB
	Log *zap.Logger
}

type createUserRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=64"`
	DisplayName string `json:"displayName" validate:"max=128"`
	Password    string `json:"password" validate:"required"`
	Role        string `json:"role" validate:"required,oneof=admin center_manager manager user"`
	BranchID    *int64 `json:"branchId"`
}

// List handles GET /api/users.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := store.ListUsers(r.Context(), h.DB)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	jsonResponse(w, http.StatusOK, users)
}

// Create handles POST /api/users. Everyone but an admin works at a branch.
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	if req.Role != model.RoleAdmin && req.BranchID == nil {
		jsonError(w, http.StatusBadRequest, codeBadRequest, "branchId is required for role "+req.Role)
		return
	}
	if req.BranchID != nil {
		b, err := store.GetBranch(r.Context(), h.DB, *req.BranchID)
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		if b == nil {
			jsonError(w, http.StatusBadRequest, codeBadRequest, "branch does not exist")
			return
		}
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		jsonError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	user, err := store.CreateUser(r.Context(), h.DB, req.Username, req.DisplayName, hash, req.Role, req.BranchID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	h.Log.Info("user created",
		zap.String("user", GetUser(r.Context()).Username),
		zap.String("new_user", user.Username),
		zap.String("role", user.Role),
	)
	jsonResponse(w, http.StatusCreated, user)
}

// Get handles GET /api/users/{id}.
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, codeBadRequest, "invalid user id")
		return
	}

	user, err := store.GetUser(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if user == nil {
		jsonError(w, http.StatusNotFound, codeNotFound, "user not found")
		return
	}
	jsonResponse(w, http.StatusOK, user)
}

// Delete handles DELETE /api/users/{id}.
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, codeBadRequest, "invalid user id")
		return
	}

	actor := GetUser(r.Context())
	if actor.ID == id {
		jsonError(w, http.StatusBadRequest, codeBadRequest, "cannot delete yourself")
		return
	}

	if err := store.DeleteUser(r.Context(), h.DB, id); err != nil {
		writeError(w, h.Log, err)
		return
	}

	h.Log.Info("user deleted", zap.String("user", actor.Username), zap.Int64("deleted_user_id", id))
	w.WriteHeader(http.StatusNoContent)
}
