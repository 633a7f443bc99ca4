package store

import (
	"context"

	"github.com/erazemk/custody/internal/model"
)

// Reader exposes the read-only branch directory and asset registry
// lookups over a DBTX, so the same checks can run on the pool or inside an
// open transaction.
type Reader struct {
	q DBTX
}

// NewReader returns a Reader bound to q.
func NewReader(q DBTX) *Reader {
	return &Reader{q: q}
}

// Branch returns a branch by ID, or nil.
func (r *Reader) Branch(ctx context.Context, id int64) (*model.Branch, error) {
	return GetBranch(ctx, r.q, id)
}

// SameTree reports whether two branches hang below the same root.
func (r *Reader) SameTree(ctx context.Context, a, b int64) (bool, error) {
	return SameTree(ctx, r.q, a, b)
}

// ServicedBranches returns the branches assigned to a maintenance center.
func (r *Reader) ServicedBranches(ctx context.Context, centerID int64) ([]int64, error) {
	return ServicedBranches(ctx, r.q, centerID)
}

// Asset returns a serialized asset, or nil.
func (r *Reader) Asset(ctx context.Context, kind model.AssetKind, serial string) (*model.Asset, error) {
	return GetAsset(ctx, r.q, kind, serial)
}

// Stock returns the spare-part stock of one item type at a branch, or nil.
func (r *Reader) Stock(ctx context.Context, branchID int64, itemTypeCode string) (*model.Stock, error) {
	return GetStock(ctx, r.q, branchID, itemTypeCode)
}

// PendingSerials maps serials of kind held by other pending orders to
// those orders' numbers.
func (r *Reader) PendingSerials(ctx context.Context, kind model.AssetKind, serials []string, excludeOrderID int64) (map[string]string, error) {
	return PendingSerials(ctx, r.q, kind, serials, excludeOrderID)
}
