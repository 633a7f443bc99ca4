package model

import "time"

// BranchType classifies a branch within the organization.
type BranchType string

// Branch types.
const (
	BranchTypeBranch            BranchType = "BRANCH"
	BranchTypeAdminAffairs      BranchType = "ADMIN_AFFAIRS"
	BranchTypeMaintenanceCenter BranchType = "MAINTENANCE_CENTER"
)

// Valid reports whether t is a known branch type.
func (t BranchType) Valid() bool {
	switch t {
	case BranchTypeBranch, BranchTypeAdminAffairs, BranchTypeMaintenanceCenter:
		return true
	}
	return false
}

// Branch is a node of the organizational hierarchy that can hold assets.
type Branch struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	Type             BranchType `json:"type"`
	Active           bool       `json:"active"`
	ParentID         *int64     `json:"parentId,omitempty"`
	AssignedCenterID *int64     `json:"assignedCenterId,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}
