package transfer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/erazemk/custody/internal/i18n"
	"github.com/erazemk/custody/internal/model"
	"github.com/erazemk/custody/internal/store"
)

// ReceiveInput selects the lines confirmed at the destination. Each entry
// is a line ID or a serial number; an empty list receives every
// outstanding line.
type ReceiveInput struct {
	ReceivedItems []string
}

// ReceiveTransferOrder confirms arrival of some or all outstanding lines.
// Received assets move to the destination branch. Once no outstanding
// lines remain the order becomes RECEIVED; until then it stays PENDING.
func (s *Service) ReceiveTransferOrder(ctx context.Context, id int64, in ReceiveInput, user *model.User) (result *model.TransferOrder, err error) {
	const op = "receive transfer order"

	ctx, span := tracer.Start(ctx, "transfer.receive", trace.WithAttributes(attribute.Int64("transfer.order_id", id)))
	defer func() { endSpan(span, err) }()

	if user == nil {
		return nil, newError(op, CodeForbidden, "authentication required")
	}

	var received int
	err = store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		order, err := s.claim(ctx, tx, op, id)
		if err != nil {
			return err
		}
		if err := s.authorizeDestination(ctx, tx, op, order, user); err != nil {
			return err
		}

		lines, err := s.resolveLines(op, order, in.ReceivedItems)
		if err != nil {
			return err
		}

		now := s.now()
		for _, line := range lines {
			ok, err := store.MarkItemReceived(ctx, tx, line.ID, now)
			if err != nil {
				return err
			}
			if !ok {
				return s.violation(op, RuleItemAlreadyReceived, lineKey(line),
					s.engine.sprintf(i18n.ItemAlreadyReceived, lineKey(line)))
			}
			if err := s.deliver(ctx, tx, order, line); err != nil {
				return err
			}
		}
		received = len(lines)

		if len(order.Outstanding()) == len(lines) {
			ok, err := store.FinishTransferOrder(ctx, tx, id, model.OrderStatusReceived, store.FinishParams{
				ReceivedBy:     &user.ID,
				ReceivedByName: displayName(user),
				At:             now,
			})
			if err != nil {
				return err
			}
			if !ok {
				return s.invalidState(op, order)
			}
		}

		result, err = store.GetTransferOrder(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, s.fail(op, err)
	}

	s.log.Info("transfer order received",
		zap.Int64("order_id", result.ID),
		zap.String("order_number", result.OrderNumber),
		zap.String("status", string(result.Status)),
		zap.Int("lines", received),
		zap.Int("outstanding", len(result.Outstanding())),
		zap.String("received_by", user.Username),
	)
	return result, nil
}

// RejectTransferOrder refuses the outstanding lines at the destination.
// Every locked asset returns to its source branch in the status it had
// before the order.
func (s *Service) RejectTransferOrder(ctx context.Context, id int64, reason string, user *model.User) (result *model.TransferOrder, err error) {
	const op = "reject transfer order"

	ctx, span := tracer.Start(ctx, "transfer.reject", trace.WithAttributes(attribute.Int64("transfer.order_id", id)))
	defer func() { endSpan(span, err) }()

	if user == nil {
		return nil, newError(op, CodeForbidden, "authentication required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, s.violation(op, RuleReasonRequired, "", s.engine.sprintf(i18n.ReasonRequired))
	}

	err = store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		order, err := s.claim(ctx, tx, op, id)
		if err != nil {
			return err
		}
		if err := s.authorizeDestination(ctx, tx, op, order, user); err != nil {
			return err
		}
		if err := s.compensate(ctx, tx, order); err != nil {
			return err
		}

		ok, err := store.FinishTransferOrder(ctx, tx, id, model.OrderStatusRejected, store.FinishParams{
			ReceivedBy:      &user.ID,
			ReceivedByName:  displayName(user),
			RejectionReason: reason,
			At:              s.now(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return s.invalidState(op, order)
		}

		result, err = store.GetTransferOrder(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, s.fail(op, err)
	}

	s.log.Info("transfer order rejected",
		zap.Int64("order_id", result.ID),
		zap.String("order_number", result.OrderNumber),
		zap.String("reason", reason),
		zap.String("rejected_by", user.Username),
	)
	return result, nil
}

// CancelTransferOrder withdraws a PENDING order before the destination has
// received anything. Only the creator or a global role may cancel.
func (s *Service) CancelTransferOrder(ctx context.Context, id int64, user *model.User) (result *model.TransferOrder, err error) {
	const op = "cancel transfer order"

	ctx, span := tracer.Start(ctx, "transfer.cancel", trace.WithAttributes(attribute.Int64("transfer.order_id", id)))
	defer func() { endSpan(span, err) }()

	if user == nil {
		return nil, newError(op, CodeForbidden, "authentication required")
	}

	err = store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		order, err := s.claim(ctx, tx, op, id)
		if err != nil {
			return err
		}
		if order.CreatedBy != user.ID && !s.engine.IsGlobal(user.Role) {
			return newError(op, CodeForbidden, s.engine.sprintf(i18n.CancelNotAllowed, order.OrderNumber))
		}
		if len(order.Outstanding()) != len(order.Items) {
			return newError(op, CodeInvalidState, s.engine.sprintf(i18n.ReceivedItemsBlock, order.OrderNumber))
		}
		if err := s.compensate(ctx, tx, order); err != nil {
			return err
		}

		ok, err := store.FinishTransferOrder(ctx, tx, id, model.OrderStatusCancelled, store.FinishParams{At: s.now()})
		if err != nil {
			return err
		}
		if !ok {
			return s.invalidState(op, order)
		}

		result, err = store.GetTransferOrder(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, s.fail(op, err)
	}

	s.log.Info("transfer order cancelled",
		zap.Int64("order_id", result.ID),
		zap.String("order_number", result.OrderNumber),
		zap.String("cancelled_by", user.Username),
	)
	return result, nil
}

// claim loads a PENDING order and touches its row inside tx. Missing orders
// are NOT_FOUND, anything past PENDING is INVALID_STATE_TRANSITION.
func (s *Service) claim(ctx context.Context, tx *sql.Tx, op string, id int64) (*model.TransferOrder, error) {
	order, err := store.GetTransferOrder(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, newError(op, CodeNotFound, fmt.Sprintf("transfer order %d not found", id))
	}
	if order.Status != model.OrderStatusPending {
		return nil, s.invalidState(op, order)
	}

	ok, err := store.ClaimPendingOrder(ctx, tx, id, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.invalidState(op, order)
	}
	return order, nil
}

func (s *Service) invalidState(op string, order *model.TransferOrder) *Error {
	return newError(op, CodeInvalidState, s.engine.sprintf(i18n.InvalidTransition, order.OrderNumber, order.Status))
}

func (s *Service) authorizeDestination(ctx context.Context, tx *sql.Tx, op string, order *model.TransferOrder, user *model.User) error {
	ok, err := s.engine.Authorized(ctx, store.NewReader(tx), user, order.ToBranchID)
	if err != nil {
		return err
	}
	if !ok {
		return newError(op, CodeForbidden, s.engine.sprintf(i18n.NotAuthorized, user.Username, idString(order.ToBranchID)))
	}
	return nil
}

// resolveLines maps the requested keys onto outstanding lines of order.
func (s *Service) resolveLines(op string, order *model.TransferOrder, keys []string) ([]model.TransferOrderItem, error) {
	if len(keys) == 0 {
		return order.Outstanding(), nil
	}

	res := newResult()
	picked := make(map[int64]bool)
	var lines []model.TransferOrderItem

	for _, key := range keys {
		key = strings.TrimSpace(key)
		line, ok := findLine(order, key)
		switch {
		case !ok:
			res.fail(RuleItemNotFound, key, s.engine.sprintf(i18n.ItemNotInOrder, key, order.OrderNumber))
		case line.IsReceived:
			res.fail(RuleItemAlreadyReceived, key, s.engine.sprintf(i18n.ItemAlreadyReceived, key))
		case !picked[line.ID]:
			picked[line.ID] = true
			lines = append(lines, line)
		}
	}

	if !res.Valid {
		return nil, validationError(op, res)
	}
	return lines, nil
}

func findLine(order *model.TransferOrder, key string) (model.TransferOrderItem, bool) {
	for _, it := range order.Items {
		if idString(it.ID) == key || (it.SerialNumber != "" && it.SerialNumber == key) ||
			(it.ItemTypeCode != "" && it.ItemTypeCode == key) {
			return it, true
		}
	}
	return model.TransferOrderItem{}, false
}

func lineKey(line model.TransferOrderItem) string {
	if line.SerialNumber != "" {
		return line.SerialNumber
	}
	if line.ItemTypeCode != "" {
		return line.ItemTypeCode
	}
	return idString(line.ID)
}

// deliver hands one line's asset over to the destination branch.
func (s *Service) deliver(ctx context.Context, tx *sql.Tx, order *model.TransferOrder, line model.TransferOrderItem) error {
	if line.AssetKind.Serialized() {
		ok, err := store.MoveAsset(ctx, tx, line.AssetKind, line.SerialNumber,
			line.AssetKind.TransitStatus(), order.Type.ReceivedStatus(), order.ToBranchID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s %s is no longer in transit", line.AssetKind, line.SerialNumber)
		}
		return nil
	}

	ok, err := store.DeliverStock(ctx, tx, order.FromBranchID, order.ToBranchID, line.ItemTypeCode, line.Quantity)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("stock of %s at branch %d is not reserved", line.ItemTypeCode, order.FromBranchID)
	}
	return nil
}

// compensate reverts every outstanding line of order: serialized assets go
// back to the source branch in their prior status, reserved stock is
// released. Reject and cancel both go through here.
func (s *Service) compensate(ctx context.Context, tx *sql.Tx, order *model.TransferOrder) error {
	for _, line := range order.Outstanding() {
		if !line.AssetKind.Serialized() {
			ok, err := store.ReleaseStock(ctx, tx, order.FromBranchID, line.ItemTypeCode, line.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("stock of %s at branch %d is not reserved", line.ItemTypeCode, order.FromBranchID)
			}
			continue
		}

		prior := line.PriorStatus
		if !line.AssetKind.IsAvailable(prior) {
			prior = line.AssetKind.AvailableStatuses()[0]
		}
		ok, err := store.MoveAsset(ctx, tx, line.AssetKind, line.SerialNumber,
			line.AssetKind.TransitStatus(), prior, order.FromBranchID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s %s is no longer in transit", line.AssetKind, line.SerialNumber)
		}
	}
	return nil
}
