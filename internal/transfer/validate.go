package transfer

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"golang.org/x/text/message"

	"github.com/erazemk/custody/internal/i18n"
	"github.com/erazemk/custody/internal/model"
)

// Directory is the read-only view of the branch directory and asset
// registry the engine needs. store.Reader implements it over a pool or an
// open transaction.
type Directory interface {
	Branch(ctx context.Context, id int64) (*model.Branch, error)
	SameTree(ctx context.Context, a, b int64) (bool, error)
	ServicedBranches(ctx context.Context, centerID int64) ([]int64, error)
	Asset(ctx context.Context, kind model.AssetKind, serial string) (*model.Asset, error)
	Stock(ctx context.Context, branchID int64, itemTypeCode string) (*model.Stock, error)
	PendingSerials(ctx context.Context, kind model.AssetKind, serials []string, excludeOrderID int64) (map[string]string, error)
}

// Result is the outcome of a validation pass. Errors holds the rendered
// message of every violation.
type Result struct {
	Valid      bool        `json:"valid"`
	Errors     []string    `json:"errors"`
	Warnings   []string    `json:"warnings"`
	Violations []Violation `json:"violations,omitempty"`
}

func newResult() Result {
	return Result{Valid: true, Errors: []string{}, Warnings: []string{}}
}

func (r *Result) fail(rule Rule, subject, msg string) {
	r.Valid = false
	r.Errors = append(r.Errors, msg)
	r.Violations = append(r.Violations, Violation{Rule: rule, Subject: subject, Message: msg})
}

func (r *Result) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

func (r *Result) merge(other Result) {
	r.Valid = r.Valid && other.Valid
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
	r.Violations = append(r.Violations, other.Violations...)
}

type branchPair struct {
	from, to model.BranchType
}

// Engine decides whether a proposed transfer is admissible. It never
// writes and is safe for concurrent use.
type Engine struct {
	policy  Policy
	rules   map[branchPair]BindingRule
	printer *message.Printer
}

// NewEngine builds an engine enforcing a copy of p.
func NewEngine(p Policy) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transfer policy: %w", err)
	}
	p = p.clone()

	rules := make(map[branchPair]BindingRule, len(p.Rules))
	for _, r := range p.Rules {
		rules[branchPair{r.From, r.To}] = r
	}

	return &Engine{
		policy:  p,
		rules:   rules,
		printer: i18n.NewPrinter(p.Locale),
	}, nil
}

func (e *Engine) sprintf(key string, args ...any) string {
	return e.printer.Sprintf(key, args...)
}

// ValidateTransferOrder runs the item, branch and user checks and
// aggregates every failure and warning.
func (e *Engine) ValidateTransferOrder(ctx context.Context, dir Directory, req model.TransferRequest, user *model.User) (Result, error) {
	res := newResult()

	items, err := e.ValidateItems(ctx, dir, req, 0)
	if err != nil {
		return Result{}, err
	}
	res.merge(items)

	branches, err := e.ValidateBranches(ctx, dir, req)
	if err != nil {
		return Result{}, err
	}
	res.merge(branches)

	perm, err := e.ValidateUserPermission(ctx, dir, req, user)
	if err != nil {
		return Result{}, err
	}
	res.merge(perm)

	return res, nil
}

// ValidateItems checks that every requested line resolves to an eligible
// asset or stock row at the source branch. Serial numbers held by an
// unreceived line of any PENDING order other than excludeOrderID are
// rejected, whichever branch that order belongs to.
func (e *Engine) ValidateItems(ctx context.Context, dir Directory, req model.TransferRequest, excludeOrderID int64) (Result, error) {
	res := newResult()

	if len(req.Items) == 0 {
		res.fail(RuleNoItems, "", e.sprintf(i18n.NoItems))
		return res, nil
	}

	kind := req.Type.AssetKind()
	if kind == "" {
		res.fail(RuleInvalidOrderType, string(req.Type), e.sprintf(i18n.UnknownOrderType, req.Type))
		return res, nil
	}

	if kind.Serialized() {
		return e.validateSerialized(ctx, dir, req, kind, excludeOrderID, res)
	}
	return e.validateBulk(ctx, dir, req, res)
}

func (e *Engine) validateSerialized(ctx context.Context, dir Directory, req model.TransferRequest, kind model.AssetKind, excludeOrderID int64, res Result) (Result, error) {
	seen := make(map[string]bool)
	var eligible []string

	for i, item := range req.Items {
		s, ok := item.(model.SerializedItem)
		if !ok {
			res.fail(RuleItemKindMismatch, strconv.Itoa(i+1), e.sprintf(i18n.ItemKindMismatch, i+1, req.Type))
			continue
		}
		if seen[s.SerialNumber] {
			res.fail(RuleItemDuplicate, s.SerialNumber, e.sprintf(i18n.ItemDuplicate, s.SerialNumber))
			continue
		}
		seen[s.SerialNumber] = true

		asset, err := dir.Asset(ctx, kind, s.SerialNumber)
		if err != nil {
			return Result{}, err
		}
		if asset == nil {
			res.fail(RuleItemNotFound, s.SerialNumber, e.sprintf(i18n.ItemNotFound, s.SerialNumber))
			continue
		}
		if asset.BranchID != req.FromBranchID {
			res.fail(RuleItemWrongBranch, s.SerialNumber,
				e.sprintf(i18n.ItemWrongBranch, s.SerialNumber, idString(asset.BranchID), idString(req.FromBranchID)))
		}
		if !kind.IsAvailable(asset.Status) {
			res.fail(RuleItemLocked, s.SerialNumber, e.sprintf(i18n.ItemLocked, s.SerialNumber, asset.Status))
		}
		eligible = append(eligible, s.SerialNumber)
	}

	pending, err := dir.PendingSerials(ctx, kind, eligible, excludeOrderID)
	if err != nil {
		return Result{}, err
	}
	for _, serial := range eligible {
		if number, ok := pending[serial]; ok {
			res.fail(RuleItemAlreadyPending, serial, e.sprintf(i18n.ItemAlreadyPending, serial, number))
		}
	}

	return res, nil
}

func (e *Engine) validateBulk(ctx context.Context, dir Directory, req model.TransferRequest, res Result) (Result, error) {
	seen := make(map[string]bool)

	for i, item := range req.Items {
		b, ok := item.(model.BulkItem)
		if !ok {
			res.fail(RuleItemKindMismatch, strconv.Itoa(i+1), e.sprintf(i18n.ItemKindMismatch, i+1, req.Type))
			continue
		}
		if seen[b.ItemTypeCode] {
			res.fail(RuleItemDuplicate, b.ItemTypeCode, e.sprintf(i18n.ItemDuplicate, b.ItemTypeCode))
			continue
		}
		seen[b.ItemTypeCode] = true

		if b.Quantity <= 0 {
			res.fail(RuleInvalidQuantity, b.ItemTypeCode, e.sprintf(i18n.InvalidQuantity, b.ItemTypeCode))
			continue
		}

		stock, err := dir.Stock(ctx, req.FromBranchID, b.ItemTypeCode)
		if err != nil {
			return Result{}, err
		}
		if stock == nil {
			res.fail(RuleItemNotFound, b.ItemTypeCode, e.sprintf(i18n.StockNotFound, idString(req.FromBranchID), b.ItemTypeCode))
			continue
		}
		if stock.Quantity < b.Quantity {
			res.fail(RuleInsufficientStock, b.ItemTypeCode,
				e.sprintf(i18n.InsufficientStock, b.ItemTypeCode, b.Quantity, stock.Quantity, idString(req.FromBranchID)))
			continue
		}
		if remaining := stock.Quantity - b.Quantity; remaining <= e.policy.LowStockThreshold {
			res.warn(e.sprintf(i18n.LowStock, b.ItemTypeCode, remaining, idString(req.FromBranchID)))
		}
	}

	return res, nil
}

// ValidateBranches checks that both branches exist, are active and differ,
// then applies the binding law to the branch pair and order type.
func (e *Engine) ValidateBranches(ctx context.Context, dir Directory, req model.TransferRequest) (Result, error) {
	res := newResult()

	if req.FromBranchID == req.ToBranchID {
		res.fail(RuleSameBranch, idString(req.FromBranchID), e.sprintf(i18n.SameBranch))
		return res, nil
	}

	from, err := e.activeBranch(ctx, dir, req.FromBranchID, &res)
	if err != nil {
		return Result{}, err
	}
	to, err := e.activeBranch(ctx, dir, req.ToBranchID, &res)
	if err != nil {
		return Result{}, err
	}
	if from == nil || to == nil {
		return res, nil
	}

	rule, ok := e.rules[branchPair{from.Type, to.Type}]
	if !ok {
		res.fail(RuleBranchPairNotAllowed, from.Name+" -> "+to.Name,
			e.sprintf(i18n.BranchPairNotAllowed, req.Type, from.Type, to.Type))
		return res, nil
	}
	if !rule.allows(req.Type) {
		res.fail(RuleBranchPairNotAllowed, rule.Name, e.sprintf(i18n.RuleTypeNotAllowed, rule.Name, req.Type))
		return res, nil
	}

	switch rule.Constraint {
	case ConstraintAssignedCenter:
		if from.AssignedCenterID == nil || *from.AssignedCenterID != to.ID {
			res.fail(RuleBranchPairNotAllowed, rule.Name, e.sprintf(i18n.NotAssignedCenter, rule.Name, to.Name, from.Name))
		}
	case ConstraintSameTree:
		same, err := dir.SameTree(ctx, from.ID, to.ID)
		if err != nil {
			return Result{}, err
		}
		if !same {
			res.fail(RuleBranchPairNotAllowed, rule.Name, e.sprintf(i18n.NotSameTree, rule.Name, from.Name, to.Name))
		}
	}

	return res, nil
}

// activeBranch loads a branch, recording a violation if it is missing or
// inactive. Inactive branches are still returned so the binding law can be
// reported too.
func (e *Engine) activeBranch(ctx context.Context, dir Directory, id int64, res *Result) (*model.Branch, error) {
	b, err := dir.Branch(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		res.fail(RuleBranchNotFound, idString(id), e.sprintf(i18n.BranchNotFound, idString(id)))
		return nil, nil
	}
	if !b.Active {
		res.fail(RuleBranchInactive, b.Name, e.sprintf(i18n.BranchInactive, b.Name))
	}
	return b, nil
}

// ValidateUserPermission checks that user may send from the source branch.
func (e *Engine) ValidateUserPermission(ctx context.Context, dir Directory, req model.TransferRequest, user *model.User) (Result, error) {
	res := newResult()

	ok, err := e.Authorized(ctx, dir, user, req.FromBranchID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		username := ""
		if user != nil {
			username = user.Username
		}
		res.fail(RuleNotAuthorized, idString(req.FromBranchID),
			e.sprintf(i18n.NotAuthorized, username, idString(req.FromBranchID)))
	}
	return res, nil
}

// Authorized reports whether user may act for branchID: global roles
// everywhere, center roles at their center and the branches it services,
// everyone else only at their own branch.
func (e *Engine) Authorized(ctx context.Context, dir Directory, user *model.User, branchID int64) (bool, error) {
	if user == nil {
		return false, nil
	}
	if slices.Contains(e.policy.GlobalRoles, user.Role) {
		return true, nil
	}
	if user.BranchID == nil {
		return false, nil
	}
	if *user.BranchID == branchID {
		return true, nil
	}
	if !slices.Contains(e.policy.CenterRoles, user.Role) {
		return false, nil
	}

	serviced, err := dir.ServicedBranches(ctx, *user.BranchID)
	if err != nil {
		return false, err
	}
	return slices.Contains(serviced, branchID), nil
}

// IsGlobal reports whether role has global scope.
func (e *Engine) IsGlobal(role string) bool {
	return slices.Contains(e.policy.GlobalRoles, role)
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
