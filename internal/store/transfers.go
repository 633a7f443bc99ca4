package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/custody/internal/model"
)

const orderColumns = `o.id, o.order_number, o.from_branch_id, o.to_branch_id, o.type, o.status,
	o.waybill_number, o.driver_name, o.driver_phone, o.notes, o.rejection_reason,
	o.created_by, o.created_by_name, o.received_by, o.received_by_name,
	o.created_at, o.updated_at, o.received_at`

const itemColumns = `id, transfer_order_id, asset_kind, serial_number, item_type_code, quantity,
	prior_status, notes, is_received, received_at`

// TransferFilter narrows ListTransferOrders. Zero values match everything.
type TransferFilter struct {
	Status   model.OrderStatus
	Type     model.OrderType
	BranchID int64 // matches either side of the transfer
}

// FinishParams carries the fields written when an order reaches a terminal
// status.
type FinishParams struct {
	ReceivedBy      *int64
	ReceivedByName  string
	RejectionReason string
	At              time.Time
}

// InsertTransferOrder inserts the order row. The caller supplies the ID and
// order number; a duplicate order number surfaces as a unique violation.
func InsertTransferOrder(ctx context.Context, q DBTX, o *model.TransferOrder) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO transfer_orders (id, order_number, from_branch_id, to_branch_id, type, status,
		     waybill_number, driver_name, driver_phone, notes, created_by, created_by_name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.OrderNumber, o.FromBranchID, o.ToBranchID, o.Type, o.Status,
		nullString(o.WaybillNumber), nullString(o.DriverName), nullString(o.DriverPhone), nullString(o.Notes),
		o.CreatedBy, o.CreatedByName, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting transfer order: %w", err)
	}
	return nil
}

// InsertTransferOrderItem inserts one order line and sets its ID.
func InsertTransferOrderItem(ctx context.Context, q DBTX, it *model.TransferOrderItem) error {
	result, err := q.ExecContext(ctx,
		`INSERT INTO transfer_order_items (transfer_order_id, asset_kind, serial_number, item_type_code,
		     quantity, prior_status, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		it.TransferOrderID, it.AssetKind, nullString(it.SerialNumber), nullString(it.ItemTypeCode),
		it.Quantity, nullString(it.PriorStatus), nullString(it.Notes),
	)
	if err != nil {
		return fmt.Errorf("inserting transfer order item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting transfer order item id: %w", err)
	}
	it.ID = id
	return nil
}

// GetTransferOrder returns an order with its lines, or nil if it does not exist.
func GetTransferOrder(ctx context.Context, q DBTX, id int64) (*model.TransferOrder, error) {
	o, err := scanOrder(q.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM transfer_orders o WHERE o.id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting transfer order: %w", err)
	}

	items, err := listOrderItems(ctx, q, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

// ListTransferOrders returns orders without their lines, newest first.
func ListTransferOrders(ctx context.Context, q DBTX, f TransferFilter) ([]model.TransferOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM transfer_orders o WHERE 1=1`
	var args []any

	if f.Status != "" {
		query += ` AND o.status = ?`
		args = append(args, f.Status)
	}
	if f.Type != "" {
		query += ` AND o.type = ?`
		args = append(args, f.Type)
	}
	if f.BranchID > 0 {
		query += ` AND (o.from_branch_id = ? OR o.to_branch_id = ?)`
		args = append(args, f.BranchID, f.BranchID)
	}
	query += ` ORDER BY o.created_at DESC, o.id DESC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transfer orders: %w", err)
	}
	defer rows.Close()

	var orders []model.TransferOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transfer order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// PendingSerials returns, for each given serial number of kind that is an
// unreceived line of a PENDING order other than excludeOrderID, the number
// of that order. All branches are scanned. Machines and SIMs may share
// serial numbers, so only lines of the same kind match.
func PendingSerials(ctx context.Context, q DBTX, kind model.AssetKind, serials []string, excludeOrderID int64) (map[string]string, error) {
	found := make(map[string]string)
	if len(serials) == 0 {
		return found, nil
	}

	args := []any{model.OrderStatusPending, excludeOrderID, kind}
	for _, s := range serials {
		args = append(args, s)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT i.serial_number, o.order_number
		 FROM transfer_order_items i
		 JOIN transfer_orders o ON o.id = i.transfer_order_id
		 WHERE o.status = ? AND o.id <> ? AND i.is_received = 0 AND i.asset_kind = ?
		   AND i.serial_number IN (`+placeholders(len(serials))+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("checking pending serials: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var serial, number string
		if err := rows.Scan(&serial, &number); err != nil {
			return nil, fmt.Errorf("scanning pending serial: %w", err)
		}
		found[serial] = number
	}
	return found, rows.Err()
}

// ListPendingSerials returns serial numbers locked in pending orders,
// optionally restricted to a source branch and order type.
func ListPendingSerials(ctx context.Context, q DBTX, branchID int64, orderType model.OrderType) ([]string, error) {
	query := `SELECT DISTINCT i.serial_number
	          FROM transfer_order_items i
	          JOIN transfer_orders o ON o.id = i.transfer_order_id
	          WHERE o.status = ? AND i.is_received = 0 AND i.serial_number IS NOT NULL`
	args := []any{model.OrderStatusPending}

	if branchID > 0 {
		query += ` AND o.from_branch_id = ?`
		args = append(args, branchID)
	}
	if orderType != "" {
		query += ` AND o.type = ?`
		args = append(args, orderType)
	}
	query += ` ORDER BY i.serial_number`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing pending serials: %w", err)
	}
	defer rows.Close()

	var serials []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning pending serial: %w", err)
		}
		serials = append(serials, s)
	}
	return serials, rows.Err()
}

// ClaimPendingOrder touches a PENDING order so the surrounding transaction
// holds its row. It reports false if the order is missing or no longer
// PENDING.
func ClaimPendingOrder(ctx context.Context, q DBTX, id int64, at time.Time) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE transfer_orders SET updated_at = ? WHERE id = ? AND status = ?`,
		at, id, model.OrderStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("claiming transfer order: %w", err)
	}
	return affectedOne(result)
}

// FinishTransferOrder moves a PENDING order to a terminal status. It
// reports false if the order was not PENDING.
func FinishTransferOrder(ctx context.Context, q DBTX, id int64, status model.OrderStatus, p FinishParams) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("status %q is not terminal", status)
	}

	var receivedAt any
	if status == model.OrderStatusReceived {
		receivedAt = p.At
	}

	result, err := q.ExecContext(ctx,
		`UPDATE transfer_orders
		 SET status = ?, received_by = ?, received_by_name = ?, rejection_reason = ?,
		     received_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status, p.ReceivedBy, nullString(p.ReceivedByName), nullString(p.RejectionReason),
		receivedAt, p.At, id, model.OrderStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("finishing transfer order: %w", err)
	}
	return affectedOne(result)
}

// MarkItemReceived flags a line as received unless it already is.
func MarkItemReceived(ctx context.Context, q DBTX, itemID int64, at time.Time) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE transfer_order_items SET is_received = 1, received_at = ? WHERE id = ? AND is_received = 0`,
		at, itemID,
	)
	if err != nil {
		return false, fmt.Errorf("marking item received: %w", err)
	}
	return affectedOne(result)
}

func listOrderItems(ctx context.Context, q DBTX, orderID int64) ([]model.TransferOrderItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM transfer_order_items WHERE transfer_order_id = ? ORDER BY id`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing transfer order items: %w", err)
	}
	defer rows.Close()

	var items []model.TransferOrderItem
	for rows.Next() {
		var it model.TransferOrderItem
		var serial, code, prior, notes sql.NullString
		if err := rows.Scan(&it.ID, &it.TransferOrderID, &it.AssetKind, &serial, &code, &it.Quantity,
			&prior, &notes, &it.IsReceived, &it.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scanning transfer order item: %w", err)
		}
		it.SerialNumber = serial.String
		it.ItemTypeCode = code.String
		it.PriorStatus = prior.String
		it.Notes = notes.String
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanOrder(row rowScanner) (*model.TransferOrder, error) {
	o := &model.TransferOrder{}
	var waybill, driver, phone, notes, reason, receivedByName sql.NullString
	if err := row.Scan(&o.ID, &o.OrderNumber, &o.FromBranchID, &o.ToBranchID, &o.Type, &o.Status,
		&waybill, &driver, &phone, &notes, &reason,
		&o.CreatedBy, &o.CreatedByName, &o.ReceivedBy, &receivedByName,
		&o.CreatedAt, &o.UpdatedAt, &o.ReceivedAt); err != nil {
		return nil, err
	}
	o.WaybillNumber = waybill.String
	o.DriverName = driver.String
	o.DriverPhone = phone.String
	o.Notes = notes.String
	o.RejectionReason = reason.String
	o.ReceivedByName = receivedByName.String
	return o, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
