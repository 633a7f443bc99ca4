package transfer

import (
	"fmt"
	"slices"

	"github.com/erazemk/custody/internal/model"
)

// Constraint is an extra condition a binding rule places on the branch pair.
type Constraint string

// Binding rule constraints.
const (
	ConstraintNone           Constraint = ""
	ConstraintAssignedCenter Constraint = "assigned_center"
	ConstraintSameTree       Constraint = "same_tree"
)

// BindingRule allows transfers from one branch type to another. An empty
// Types list allows every order type.
type BindingRule struct {
	Name       string            `mapstructure:"name"`
	From       model.BranchType  `mapstructure:"from"`
	To         model.BranchType  `mapstructure:"to"`
	Types      []model.OrderType `mapstructure:"types"`
	Constraint Constraint        `mapstructure:"constraint"`
}

func (r BindingRule) allows(t model.OrderType) bool {
	if !t.Valid() {
		return false
	}
	return len(r.Types) == 0 || slices.Contains(r.Types, t)
}

// Policy is the rule table the engine enforces. It is loaded once at
// startup and copied into the engine, so later changes to the caller's
// value have no effect.
type Policy struct {
	// GlobalRoles may transfer from any branch.
	GlobalRoles []string `mapstructure:"global_roles"`
	// CenterRoles may transfer from their own branch and every branch
	// their maintenance center services.
	CenterRoles []string `mapstructure:"center_roles"`
	// Rules is the binding law. Branch-type pairs without a rule are
	// rejected.
	Rules []BindingRule `mapstructure:"rules"`
	// LowStockThreshold triggers a warning when a spare-part transfer
	// leaves this many units or fewer at the source.
	LowStockThreshold int `mapstructure:"low_stock_threshold"`
	// Locale selects the language of violation messages.
	Locale string `mapstructure:"locale"`
}

// DefaultPolicy returns the standard binding law.
func DefaultPolicy() Policy {
	return Policy{
		GlobalRoles: []string{model.RoleAdmin},
		CenterRoles: []string{model.RoleCenterManager},
		Rules: []BindingRule{
			{
				Name:  "BRANCH_TO_ADMIN_AFFAIRS",
				From:  model.BranchTypeBranch,
				To:    model.BranchTypeAdminAffairs,
				Types: []model.OrderType{model.OrderTypeMachine, model.OrderTypeSIM},
			},
			{
				Name: "ADMIN_AFFAIRS_TO_BRANCH",
				From: model.BranchTypeAdminAffairs,
				To:   model.BranchTypeBranch,
			},
			{
				Name:       "BRANCH_TO_MAINTENANCE_CENTER",
				From:       model.BranchTypeBranch,
				To:         model.BranchTypeMaintenanceCenter,
				// Any machine-carrying type may go to the center; all arrive as RECEIVED_AT_CENTER.
				Types:      []model.OrderType{model.OrderTypeMachine, model.OrderTypeMaintenance, model.OrderTypeSendToCenter},
				Constraint: ConstraintAssignedCenter,
			},
			{
				Name:       "BRANCH_TO_BRANCH",
				From:       model.BranchTypeBranch,
				To:         model.BranchTypeBranch,
				Constraint: ConstraintSameTree,
			},
		},
		LowStockThreshold: 2,
		Locale:            "en",
	}
}

// Validate checks the policy for unknown types and conflicting rules.
func (p Policy) Validate() error {
	seen := make(map[[2]model.BranchType]string)
	for i, r := range p.Rules {
		if r.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		if !r.From.Valid() || !r.To.Valid() {
			return fmt.Errorf("rule %s: unknown branch type in %s -> %s", r.Name, r.From, r.To)
		}
		for _, t := range r.Types {
			if !t.Valid() {
				return fmt.Errorf("rule %s: unknown order type %s", r.Name, t)
			}
		}
		switch r.Constraint {
		case ConstraintNone, ConstraintAssignedCenter, ConstraintSameTree:
		default:
			return fmt.Errorf("rule %s: unknown constraint %q", r.Name, r.Constraint)
		}
		key := [2]model.BranchType{r.From, r.To}
		if other, ok := seen[key]; ok {
			return fmt.Errorf("rules %s and %s both cover %s -> %s", other, r.Name, r.From, r.To)
		}
		seen[key] = r.Name
	}
	if p.LowStockThreshold < 0 {
		return fmt.Errorf("low stock threshold must not be negative")
	}
	return nil
}

func (p Policy) clone() Policy {
	c := p
	c.GlobalRoles = slices.Clone(p.GlobalRoles)
	c.CenterRoles = slices.Clone(p.CenterRoles)
	c.Rules = make([]BindingRule, len(p.Rules))
	for i, r := range p.Rules {
		r.Types = slices.Clone(r.Types)
		c.Rules[i] = r
	}
	return c
}
