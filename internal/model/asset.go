package model

import (
	"slices"
	"time"
)

// AssetKind identifies which registry an asset lives in.
type AssetKind string

// Asset kinds.
const (
	AssetKindMachine   AssetKind = "machine"
	AssetKindSIM       AssetKind = "sim"
	AssetKindSparePart AssetKind = "spare_part"
)

// Machine statuses.
const (
	MachineStatusNew              = "NEW"
	MachineStatusStandby          = "STANDBY"
	MachineStatusInTransit        = "IN_TRANSIT"
	MachineStatusAssigned         = "ASSIGNED"
	MachineStatusSold             = "SOLD"
	MachineStatusUnderMaintenance = "UNDER_MAINTENANCE"
	MachineStatusReceivedAtCenter = "RECEIVED_AT_CENTER"
)

// SIM statuses.
const (
	SIMStatusActive      = "ACTIVE"
	SIMStatusInTransit   = "IN_TRANSIT"
	SIMStatusAssigned    = "ASSIGNED"
	SIMStatusDeactivated = "DEACTIVATED"
)

// Serialized reports whether assets of this kind are tracked one by one.
func (k AssetKind) Serialized() bool {
	return k == AssetKindMachine || k == AssetKindSIM
}

// Statuses returns every status an asset of this kind may carry.
func (k AssetKind) Statuses() []string {
	switch k {
	case AssetKindMachine:
		return []string{
			MachineStatusNew, MachineStatusStandby, MachineStatusInTransit, MachineStatusAssigned,
			MachineStatusSold, MachineStatusUnderMaintenance, MachineStatusReceivedAtCenter,
		}
	case AssetKindSIM:
		return []string{SIMStatusActive, SIMStatusInTransit, SIMStatusAssigned, SIMStatusDeactivated}
	}
	return nil
}

// AvailableStatuses returns the statuses from which an asset may be sent.
func (k AssetKind) AvailableStatuses() []string {
	switch k {
	case AssetKindMachine:
		return []string{MachineStatusNew, MachineStatusStandby}
	case AssetKindSIM:
		return []string{SIMStatusActive}
	}
	return nil
}

// TransitStatus returns the single locked status used while an asset is
// part of a pending transfer.
func (k AssetKind) TransitStatus() string {
	switch k {
	case AssetKindMachine:
		return MachineStatusInTransit
	case AssetKindSIM:
		return SIMStatusInTransit
	}
	return ""
}

// IsAvailable reports whether status is in the kind's available set.
func (k AssetKind) IsAvailable(status string) bool {
	return slices.Contains(k.AvailableStatuses(), status)
}

// ValidStatus reports whether status belongs to the kind.
func (k AssetKind) ValidStatus(status string) bool {
	return slices.Contains(k.Statuses(), status)
}

// Asset is a serialized asset (machine or SIM card) in the registry.
type Asset struct {
	Kind         AssetKind `json:"kind"`
	SerialNumber string    `json:"serialNumber"`
	BranchID     int64     `json:"branchId"`
	Status       string    `json:"status"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Stock is the spare-part quantity of one item type held by a branch.
// InTransit counts units reserved by pending transfer orders.
type Stock struct {
	BranchID     int64  `json:"branchId"`
	ItemTypeCode string `json:"itemTypeCode"`
	Quantity     int    `json:"quantity"`
	InTransit    int    `json:"inTransit"`
}
