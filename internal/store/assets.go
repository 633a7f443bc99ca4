package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/custody/internal/model"
)

const assetColumns = `serial_number, branch_id, status, description, created_at, updated_at`

// assetTable maps a serialized asset kind to its table. Only these fixed
// names are ever interpolated into SQL.
func assetTable(kind model.AssetKind) (string, error) {
	switch kind {
	case model.AssetKindMachine:
		return "machines", nil
	case model.AssetKindSIM:
		return "sims", nil
	}
	return "", fmt.Errorf("asset kind %q is not serialized", kind)
}

// CreateAsset registers a serialized asset at a branch.
func CreateAsset(ctx context.Context, q DBTX, kind model.AssetKind, serial string, branchID int64, status, description string) (*model.Asset, error) {
	table, err := assetTable(kind)
	if err != nil {
		return nil, err
	}
	if !kind.ValidStatus(status) {
		return nil, fmt.Errorf("invalid %s status %q", kind, status)
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO `+table+` (serial_number, branch_id, status, description) VALUES (?, ?, ?, ?)`,
		serial, branchID, status, description,
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", kind, err)
	}

	return GetAsset(ctx, q, kind, serial)
}

// GetAsset returns a serialized asset by serial number.
func GetAsset(ctx context.Context, q DBTX, kind model.AssetKind, serial string) (*model.Asset, error) {
	table, err := assetTable(kind)
	if err != nil {
		return nil, err
	}

	a, err := scanAsset(kind, q.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM `+table+` WHERE serial_number = ?`, serial,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", kind, err)
	}
	return a, nil
}

// ListAssets returns serialized assets, optionally filtered by branch and status.
func ListAssets(ctx context.Context, q DBTX, kind model.AssetKind, branchID int64, status string) ([]model.Asset, error) {
	table, err := assetTable(kind)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + assetColumns + ` FROM ` + table + ` WHERE 1=1`
	var args []any
	if branchID > 0 {
		query += ` AND branch_id = ?`
		args = append(args, branchID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY serial_number`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", table, err)
	}
	defer rows.Close()

	var assets []model.Asset
	for rows.Next() {
		a, err := scanAsset(kind, rows)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", kind, err)
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

// CompareAndSetAssetStatus sets an asset's status only if it still sits at
// branchID with one of the expected statuses. It reports whether the row
// was updated; false means another writer got there first.
func CompareAndSetAssetStatus(ctx context.Context, q DBTX, kind model.AssetKind, serial string, branchID int64, expected []string, status string) (bool, error) {
	table, err := assetTable(kind)
	if err != nil {
		return false, err
	}
	if len(expected) == 0 {
		return false, fmt.Errorf("no expected status for %s %s", kind, serial)
	}

	args := []any{status, serial, branchID}
	for _, s := range expected {
		args = append(args, s)
	}

	result, err := q.ExecContext(ctx,
		`UPDATE `+table+` SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE serial_number = ? AND branch_id = ? AND status IN (`+placeholders(len(expected))+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("updating %s status: %w", kind, err)
	}
	return affectedOne(result)
}

// MoveAsset relocates an asset to toBranch with a new status, provided it is
// still in fromStatus.
func MoveAsset(ctx context.Context, q DBTX, kind model.AssetKind, serial, fromStatus, toStatus string, toBranch int64) (bool, error) {
	table, err := assetTable(kind)
	if err != nil {
		return false, err
	}

	result, err := q.ExecContext(ctx,
		`UPDATE `+table+` SET status = ?, branch_id = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE serial_number = ? AND status = ?`,
		toStatus, toBranch, serial, fromStatus,
	)
	if err != nil {
		return false, fmt.Errorf("moving %s: %w", kind, err)
	}
	return affectedOne(result)
}

// SetAssetStatus writes a status directly, refusing to touch an asset that
// is currently in its kind's transit status. Callers outside the transfer
// workflow must go through the registry guard.
func SetAssetStatus(ctx context.Context, q DBTX, kind model.AssetKind, serial, status string) (bool, error) {
	table, err := assetTable(kind)
	if err != nil {
		return false, err
	}

	result, err := q.ExecContext(ctx,
		`UPDATE `+table+` SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE serial_number = ? AND status <> ?`,
		status, serial, kind.TransitStatus(),
	)
	if err != nil {
		return false, fmt.Errorf("setting %s status: %w", kind, err)
	}
	return affectedOne(result)
}

// AddStock adds spare-part units to a branch.
func AddStock(ctx context.Context, q DBTX, branchID int64, itemTypeCode string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO spare_parts (branch_id, item_type_code, quantity) VALUES (?, ?, ?)
		 ON CONFLICT (branch_id, item_type_code) DO UPDATE SET quantity = quantity + excluded.quantity`,
		branchID, itemTypeCode, quantity,
	)
	if err != nil {
		return fmt.Errorf("adding stock: %w", err)
	}
	return nil
}

// GetStock returns the spare-part stock of one item type at a branch.
func GetStock(ctx context.Context, q DBTX, branchID int64, itemTypeCode string) (*model.Stock, error) {
	s := &model.Stock{}
	err := q.QueryRowContext(ctx,
		`SELECT branch_id, item_type_code, quantity, in_transit
		 FROM spare_parts WHERE branch_id = ? AND item_type_code = ?`,
		branchID, itemTypeCode,
	).Scan(&s.BranchID, &s.ItemTypeCode, &s.Quantity, &s.InTransit)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting stock: %w", err)
	}
	return s, nil
}

// ListStock returns the spare-part stock held by a branch.
func ListStock(ctx context.Context, q DBTX, branchID int64) ([]model.Stock, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT branch_id, item_type_code, quantity, in_transit
		 FROM spare_parts WHERE branch_id = ? ORDER BY item_type_code`, branchID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing stock: %w", err)
	}
	defer rows.Close()

	var stock []model.Stock
	for rows.Next() {
		var s model.Stock
		if err := rows.Scan(&s.BranchID, &s.ItemTypeCode, &s.Quantity, &s.InTransit); err != nil {
			return nil, fmt.Errorf("scanning stock: %w", err)
		}
		stock = append(stock, s)
	}
	return stock, rows.Err()
}

// ReserveStock moves units from available to in-transit, provided enough
// are available.
func ReserveStock(ctx context.Context, q DBTX, branchID int64, itemTypeCode string, quantity int) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE spare_parts SET quantity = quantity - ?, in_transit = in_transit + ?
		 WHERE branch_id = ? AND item_type_code = ? AND quantity >= ?`,
		quantity, quantity, branchID, itemTypeCode, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("reserving stock: %w", err)
	}
	return affectedOne(result)
}

// ReleaseStock returns in-transit units to the branch's available quantity.
func ReleaseStock(ctx context.Context, q DBTX, branchID int64, itemTypeCode string, quantity int) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE spare_parts SET quantity = quantity + ?, in_transit = in_transit - ?
		 WHERE branch_id = ? AND item_type_code = ? AND in_transit >= ?`,
		quantity, quantity, branchID, itemTypeCode, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("releasing stock: %w", err)
	}
	return affectedOne(result)
}

// DeliverStock removes in-transit units from the source branch and adds
// them to the destination's available quantity.
func DeliverStock(ctx context.Context, q DBTX, fromBranch, toBranch int64, itemTypeCode string, quantity int) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE spare_parts SET in_transit = in_transit - ?
		 WHERE branch_id = ? AND item_type_code = ? AND in_transit >= ?`,
		quantity, fromBranch, itemTypeCode, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("releasing delivered stock: %w", err)
	}
	ok, err := affectedOne(result)
	if err != nil || !ok {
		return ok, err
	}

	if err := AddStock(ctx, q, toBranch, itemTypeCode, quantity); err != nil {
		return false, err
	}
	return true, nil
}

func scanAsset(kind model.AssetKind, row rowScanner) (*model.Asset, error) {
	a := &model.Asset{Kind: kind}
	var description sql.NullString
	if err := row.Scan(&a.SerialNumber, &a.BranchID, &a.Status, &description, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Description = description.String
	return a, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func affectedOne(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}
	return n > 0, nil
}
