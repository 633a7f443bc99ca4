package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/erazemk/custody/internal/model"
	"github.com/erazemk/custody/internal/store"
	"github.com/erazemk/custody/internal/transfer"
)

// TransfersHandler exposes the transfer order workflow.
type TransfersHandler struct {
	Service *transfer.Service
	Log     *zap.Logger
}

type transferItemRequest struct {
	SerialNumber string `json:"serialNumber" validate:"max=64"`
	ItemTypeCode string `json:"itemTypeCode" validate:"max=64"`
	Quantity     int    `json:"quantity"`
	Notes        string `json:"notes" validate:"max=256"`
}

type createTransferRequest struct {
	FromBranchID  int64                 `json:"fromBranchId"`
	ToBranchID    int64                 `json:"toBranchId"`
	Type          model.OrderType       `json:"type"`
	Items         []transferItemRequest `json:"items" validate:"dive"`
	WaybillNumber string                `json:"waybillNumber" validate:"max=64"`
	DriverName    string                `json:"driverName" validate:"max=128"`
	DriverPhone   string                `json:"driverPhone" validate:"max=32"`
	Notes         string                `json:"notes" validate:"max=1024"`
}

// toRequest converts the body into a transfer request. Spare-part orders
// carry bulk lines, every other type serialized ones.
func (c createTransferRequest) toRequest() model.TransferRequest {
	req := model.TransferRequest{
		FromBranchID:  c.FromBranchID,
		ToBranchID:    c.ToBranchID,
		Type:          c.Type,
		WaybillNumber: c.WaybillNumber,
		DriverName:    c.DriverName,
		DriverPhone:   c.DriverPhone,
		Notes:         c.Notes,
	}
	bulk := c.Type.AssetKind() == model.AssetKindSparePart
	for _, it := range c.Items {
		if bulk {
			req.Items = append(req.Items, model.BulkItem{ItemTypeCode: it.ItemTypeCode, Quantity: it.Quantity, Notes: it.Notes})
		} else {
			req.Items = append(req.Items, model.SerializedItem{SerialNumber: it.SerialNumber, Notes: it.Notes})
		}
	}
	return req
}

type receiveRequest struct {
	ReceivedBy     *int64   `json:"receivedBy"`
	ReceivedByName string   `json:"receivedByName" validate:"max=128"`
	ReceivedItems  []string `json:"receivedItems" validate:"dive,required,max=64"`
}

type rejectRequest struct {
	RejectionReason string `json:"rejectionReason" validate:"max=1024"`
	ReceivedBy      *int64 `json:"receivedBy"`
	ReceivedByName  string `json:"receivedByName" validate:"max=128"`
}

// actingAs rejects a body identity that disagrees with the token.
func actingAs(w http.ResponseWriter, user *model.User, claimed *int64) bool {
	if claimed != nil && *claimed != user.ID {
		jsonError(w, http.StatusForbidden, codeForbidden, "receivedBy must match the authenticated user")
		return false
	}
	return true
}

// Create handles POST /api/transfer-orders.
func (h *TransfersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	order, err := h.Service.CreateTransferOrder(r.Context(), req.toRequest(), GetUser(r.Context()))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	jsonResponse(w, http.StatusCreated, order)
}

// Validate handles POST /api/transfer-orders/validate. It runs every check
// without locking anything and always answers 200 with the result.
func (h *TransfersHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	res, err := h.Service.Validate(r.Context(), req.toRequest(), GetUser(r.Context()))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if res.Errors == nil {
		res.Errors = []string{}
	}
	if res.Warnings == nil {
		res.Warnings = []string{}
	}
	jsonResponse(w, http.StatusOK, res)
}

// List handles GET /api/transfer-orders?status=&branchId=&type=.
func (h *TransfersHandler) List(w http.ResponseWriter, r *http.Request) {
	branchID, err := queryID(r, "branchId")
	if err != nil {
		jsonError(w, http.StatusBadRequest, codeBadRequest, "invalid branchId")
		return
	}
	q := r.URL.Query()
	orders, err := h.Service.ListTransferOrders(r.Context(), store.TransferFilter{
		Status:   model.OrderStatus(q.Get("status")),
		Type:     model.OrderType(q.Get("type")),
		BranchID: branchID,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if orders == nil {
		orders = []model.TransferOrder{}
	}
	jsonResponse(w, http.StatusOK, orders)
}

// PendingSerials handles GET /api/transfer-orders/pending-serials?branchId=&type=.
func (h *TransfersHandler) PendingSerials(w http.ResponseWriter, r *http.Request) {
	branchID, err := queryID(r, "branchId")
	if err != nil {
		jsonError(w, http.StatusBadRequest, codeBadRequest, "invalid branchId")
		return
	}
	serials, err := h.Service.PendingSerials(r.Context(), branchID, model.OrderType(r.URL.Query().Get("type")))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if serials == nil {
		serials = []string{}
	}
	jsonResponse(w, http.StatusOK, serials)
}

// Get handles GET /api/transfer-orders/{id}.
func (h *TransfersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, codeBadRequest, "invalid transfer order id")
		return
	}
	order, err := h.Service.GetTransferOrder(r.Context(), id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	jsonResponse(w, http.StatusOK, order)
}

// Receive handles POST /api/transfer-orders/{id}/receive.
func (h *TransfersHandler) Receive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, codeBadRequest, "invalid transfer order id")
		return
	}
	var req receiveRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	user := GetUser(r.Context())
	if !actingAs(w, user, req.ReceivedBy) {
		return
	}

	order, err := h.Service.ReceiveTransferOrder(r.Context(), id, transfer.ReceiveInput{ReceivedItems: req.ReceivedItems}, user)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	jsonResponse(w, http.StatusOK, order)
}

// Reject handles POST /api/transfer-orders/{id}/reject.
func (h *TransfersHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, codeBadRequest, "invalid transfer order id")
		return
	}
	var req rejectRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	user := GetUser(r.Context())
	if !actingAs(w, user, req.ReceivedBy) {
		return
	}

	order, err := h.Service.RejectTransferOrder(r.Context(), id, req.RejectionReason, user)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	jsonResponse(w, http.StatusOK, order)
}

// Cancel handles POST /api/transfer-orders/{id}/cancel.
func (h *TransfersHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, codeBadRequest, "invalid transfer order id")
		return
	}
	order, err := h.Service.CancelTransferOrder(r.Context(), id, GetUser(r.Context()))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	jsonResponse(w, http.StatusOK, order)
}
