// Package registry is the write path for direct asset registry changes made
// outside the transfer workflow.
package registry

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/erazemk/custody/internal/model"
	"github.com/erazemk/custody/internal/store"
)

var (
	// ErrTransitStatusReserved is returned for any manual attempt to put an
	// asset into its kind's in-transit status.
	ErrTransitStatusReserved = errors.New("in-transit status can only be set by a transfer order")
	// ErrAssetInTransit is returned for manual changes to an asset that is
	// locked by a pending transfer order.
	ErrAssetInTransit = errors.New("asset is locked by a pending transfer order")
	// ErrUnknownStatus is returned for a status outside the kind's set.
	ErrUnknownStatus = errors.New("unknown status")
	// ErrUnsupportedKind is returned for kinds not tracked one by one.
	ErrUnsupportedKind = errors.New("asset kind is not serialized")
	// ErrAssetNotFound is returned when the serial number is unknown.
	ErrAssetNotFound = errors.New("asset not found")
)

// Guard fronts every manual asset write. Only the transfer service may
// move assets into or out of the in-transit status.
type Guard struct {
	q   store.DBTX
	log *zap.Logger
}

// NewGuard returns a Guard writing through q.
func NewGuard(q store.DBTX, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{q: q, log: logger.Named("registry")}
}

func (g *Guard) check(kind model.AssetKind, serial, status, actor string) error {
	if !kind.Serialized() {
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	if status == kind.TransitStatus() {
		g.log.Warn("refused manual in-transit status",
			zap.String("kind", string(kind)), zap.String("serial", serial), zap.String("actor", actor))
		return ErrTransitStatusReserved
	}
	if !kind.ValidStatus(status) {
		return fmt.Errorf("%w %q for %s", ErrUnknownStatus, status, kind)
	}
	return nil
}

// CreateAsset registers a new serialized asset. New assets may not start
// out in transit.
func (g *Guard) CreateAsset(ctx context.Context, kind model.AssetKind, serial string, branchID int64, status, description, actor string) (*model.Asset, error) {
	if err := g.check(kind, serial, status, actor); err != nil {
		return nil, err
	}
	return store.CreateAsset(ctx, g.q, kind, serial, branchID, status, description)
}

// SetStatus changes an asset's status by hand.
func (g *Guard) SetStatus(ctx context.Context, kind model.AssetKind, serial, status, actor string) (*model.Asset, error) {
	if err := g.check(kind, serial, status, actor); err != nil {
		return nil, err
	}

	asset, err := store.GetAsset(ctx, g.q, kind, serial)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, ErrAssetNotFound
	}
	if asset.Status == kind.TransitStatus() {
		return nil, ErrAssetInTransit
	}

	// The store refuses transit rows too, covering a lock taken since the read.
	ok, err := store.SetAssetStatus(ctx, g.q, kind, serial, status)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAssetInTransit
	}

	g.log.Info("asset status changed",
		zap.String("kind", string(kind)),
		zap.String("serial", serial),
		zap.String("from", asset.Status),
		zap.String("to", status),
		zap.String("actor", actor),
	)
	return store.GetAsset(ctx, g.q, kind, serial)
}
