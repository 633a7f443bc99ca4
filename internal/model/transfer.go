package model

import "time"

// OrderType determines which assets an order carries and which branch
// pairs may exchange it.
type OrderType string

// Order types.
const (
	OrderTypeMachine      OrderType = "MACHINE"
	OrderTypeSIM          OrderType = "SIM"
	OrderTypeMaintenance  OrderType = "MAINTENANCE"
	OrderTypeSendToCenter OrderType = "SEND_TO_CENTER"
	OrderTypeSparePart    OrderType = "SPARE_PART"
)

// OrderTypes lists every order type.
var OrderTypes = []OrderType{
	OrderTypeMachine, OrderTypeSIM, OrderTypeMaintenance, OrderTypeSendToCenter, OrderTypeSparePart,
}

// AssetKind returns the registry the order's lines refer to, or "" for an
// unknown type.
func (t OrderType) AssetKind() AssetKind {
	switch t {
	case OrderTypeMachine, OrderTypeMaintenance, OrderTypeSendToCenter:
		return AssetKindMachine
	case OrderTypeSIM:
		return AssetKindSIM
	case OrderTypeSparePart:
		return AssetKindSparePart
	}
	return ""
}

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	return t.AssetKind() != ""
}

// ReceivedStatus is the status a serialized asset takes when it arrives
// at the destination of an order of this type.
func (t OrderType) ReceivedStatus() string {
	switch t {
	case OrderTypeMaintenance, OrderTypeSendToCenter:
		return MachineStatusReceivedAtCenter
	case OrderTypeMachine:
		return MachineStatusNew
	case OrderTypeSIM:
		return SIMStatusActive
	}
	return ""
}

// OrderStatus is the lifecycle state of a transfer order.
type OrderStatus string

// Order statuses. Everything except PENDING is terminal.
const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusReceived  OrderStatus = "RECEIVED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusReceived || s == OrderStatusRejected || s == OrderStatusCancelled
}

// TransferOrder moves custody of a set of assets from one branch to another.
type TransferOrder struct {
	ID              int64       `json:"id"`
	OrderNumber     string      `json:"orderNumber"`
	FromBranchID    int64       `json:"fromBranchId"`
	ToBranchID      int64       `json:"toBranchId"`
	Type            OrderType   `json:"type"`
	Status          OrderStatus `json:"status"`
	WaybillNumber   string      `json:"waybillNumber,omitempty"`
	DriverName      string      `json:"driverName,omitempty"`
	DriverPhone     string      `json:"driverPhone,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	RejectionReason string      `json:"rejectionReason,omitempty"`
	CreatedBy       int64       `json:"createdBy"`
	CreatedByName   string      `json:"createdByName"`
	ReceivedBy      *int64      `json:"receivedBy,omitempty"`
	ReceivedByName  string      `json:"receivedByName,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
	ReceivedAt      *time.Time  `json:"receivedAt,omitempty"`

	Items []TransferOrderItem `json:"items,omitempty"`
}

// TransferOrderItem is one line of a transfer order. Serialized lines carry
// a serial number, bulk lines an item type code and quantity.
type TransferOrderItem struct {
	ID              int64      `json:"id"`
	TransferOrderID int64      `json:"transferOrderId"`
	AssetKind       AssetKind  `json:"assetKind"`
	SerialNumber    string     `json:"serialNumber,omitempty"`
	ItemTypeCode    string     `json:"itemTypeCode,omitempty"`
	Quantity        int        `json:"quantity"`
	PriorStatus     string     `json:"priorStatus,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	IsReceived      bool       `json:"isReceived"`
	ReceivedAt      *time.Time `json:"receivedAt,omitempty"`
}

// Outstanding returns the lines not yet received.
func (o *TransferOrder) Outstanding() []TransferOrderItem {
	var out []TransferOrderItem
	for _, it := range o.Items {
		if !it.IsReceived {
			out = append(out, it)
		}
	}
	return out
}

// ItemRequest is a requested order line: either a SerializedItem or a
// BulkItem.
type ItemRequest interface {
	itemRequest()
}

// SerializedItem requests one individually tracked asset.
type SerializedItem struct {
	SerialNumber string
	Notes        string
}

// BulkItem requests a quantity of a spare-part item type.
type BulkItem struct {
	ItemTypeCode string
	Quantity     int
	Notes        string
}

func (SerializedItem) itemRequest() {}
func (BulkItem) itemRequest()       {}

// TransferRequest is a proposed transfer order before it is persisted.
type TransferRequest struct {
	FromBranchID  int64
	ToBranchID    int64
	Type          OrderType
	Items         []ItemRequest
	WaybillNumber string
	DriverName    string
	DriverPhone   string
	Notes         string
}

// Serials returns the serial numbers of the serialized lines in request order.
func (r TransferRequest) Serials() []string {
	var serials []string
	for _, it := range r.Items {
		if s, ok := it.(SerializedItem); ok {
			serials = append(serials, s.SerialNumber)
		}
	}
	return serials
}
