// Package transfer implements custody transfer orders: admissibility
// checks, transactional creation with asset locking, and the
// receive/reject/cancel lifecycle.
package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/erazemk/custody/internal/db"
	"github.com/erazemk/custody/internal/i18n"
	"github.com/erazemk/custody/internal/model"
	"github.com/erazemk/custody/internal/store"
)

const maxNumberAttempts = 5

var tracer = otel.Tracer("github.com/erazemk/custody/internal/transfer")

// IDGenerator hands out order IDs. *snowflake.Node satisfies it.
type IDGenerator interface {
	Generate() snowflake.ID
}

// ServiceDeps wires a Service. Clock and Logger are optional.
type ServiceDeps struct {
	DB     *sql.DB
	Engine *Engine
	IDs    IDGenerator
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service creates transfer orders and drives them through their lifecycle.
// All writes happen inside a single database transaction per call.
type Service struct {
	db     *sql.DB
	engine *Engine
	ids    IDGenerator
	now    func() time.Time
	log    *zap.Logger
}

// NewService validates deps and returns a Service.
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.DB == nil {
		return nil, errors.New("transfer: database is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("transfer: engine is required")
	}
	if deps.IDs == nil {
		return nil, errors.New("transfer: id generator is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		db:     deps.DB,
		engine: deps.Engine,
		ids:    deps.IDs,
		now:    clock,
		log:    logger.Named("transfer"),
	}, nil
}

// Engine returns the validation engine the service enforces.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Validate runs the full admissibility check without writing anything.
func (s *Service) Validate(ctx context.Context, req model.TransferRequest, user *model.User) (Result, error) {
	res, err := s.engine.ValidateTransferOrder(ctx, store.NewReader(s.db), req, user)
	if err != nil {
		return Result{}, s.fail("validate transfer order", err)
	}
	return res, nil
}

// CreateTransferOrder validates req, then persists a PENDING order and
// locks every source asset in one transaction. Either the order exists
// with all of its assets locked, or nothing was written.
func (s *Service) CreateTransferOrder(ctx context.Context, req model.TransferRequest, user *model.User) (order *model.TransferOrder, err error) {
	const op = "create transfer order"

	ctx, span := tracer.Start(ctx, "transfer.create", trace.WithAttributes(
		attribute.Int64("transfer.from_branch", req.FromBranchID),
		attribute.Int64("transfer.to_branch", req.ToBranchID),
		attribute.String("transfer.type", string(req.Type)),
		attribute.Int("transfer.items", len(req.Items)),
	))
	defer func() { endSpan(span, err) }()

	if user == nil {
		return nil, newError(op, CodeForbidden, "authentication required")
	}

	res, err := s.engine.ValidateTransferOrder(ctx, store.NewReader(s.db), req, user)
	if err != nil {
		return nil, s.fail(op, err)
	}
	if !res.Valid {
		return nil, validationError(op, res)
	}

	now := s.now()
	order = &model.TransferOrder{
		ID:            s.ids.Generate().Int64(),
		FromBranchID:  req.FromBranchID,
		ToBranchID:    req.ToBranchID,
		Type:          req.Type,
		Status:        model.OrderStatusPending,
		WaybillNumber: req.WaybillNumber,
		DriverName:    req.DriverName,
		DriverPhone:   req.DriverPhone,
		Notes:         req.Notes,
		CreatedBy:     user.ID,
		CreatedByName: displayName(user),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		// Item availability may have changed since the first pass.
		recheck, err := s.engine.ValidateItems(ctx, store.NewReader(tx), req, 0)
		if err != nil {
			return err
		}
		if !recheck.Valid {
			return validationError(op, recheck)
		}

		if err := s.insertWithNumber(ctx, tx, order); err != nil {
			return err
		}

		for _, item := range req.Items {
			line, err := s.lockItem(ctx, tx, order, item)
			if err != nil {
				return err
			}
			if err := store.InsertTransferOrderItem(ctx, tx, line); err != nil {
				return err
			}
			order.Items = append(order.Items, *line)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(op, err)
	}

	span.SetAttributes(attribute.String("transfer.order_number", order.OrderNumber))
	s.log.Info("transfer order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("from_branch", order.FromBranchID),
		zap.Int64("to_branch", order.ToBranchID),
		zap.String("type", string(order.Type)),
		zap.Int("items", len(order.Items)),
		zap.Strings("serials", req.Serials()),
		zap.String("created_by", user.Username),
	)
	for _, w := range res.Warnings {
		s.log.Warn("transfer order warning", zap.String("order_number", order.OrderNumber), zap.String("warning", w))
	}
	return order, nil
}

// insertWithNumber allocates the next per-day order number and inserts the
// order row, allocating again if the number is already taken.
func (s *Service) insertWithNumber(ctx context.Context, tx *sql.Tx, order *model.TransferOrder) error {
	day := order.CreatedAt.Format("20060102")

	for attempt := 1; ; attempt++ {
		seq, err := store.NextOrderSequence(ctx, tx, day)
		if err != nil {
			return err
		}
		order.OrderNumber = fmt.Sprintf("TO-%s-%03d", day, seq)

		err = store.InsertTransferOrder(ctx, tx, order)
		if err == nil {
			return nil
		}
		if !db.IsUniqueViolation(err) || attempt == maxNumberAttempts {
			return err
		}
		s.log.Warn("order number taken, allocating another", zap.String("order_number", order.OrderNumber))
	}
}

// lockItem takes the source-side asset out of circulation: serialized
// assets move to their transit status, spare parts are reserved. Losing
// the compare-and-swap aborts the whole order.
func (s *Service) lockItem(ctx context.Context, tx *sql.Tx, order *model.TransferOrder, item model.ItemRequest) (*model.TransferOrderItem, error) {
	const op = "create transfer order"
	kind := order.Type.AssetKind()

	switch it := item.(type) {
	case model.SerializedItem:
		asset, err := store.GetAsset(ctx, tx, kind, it.SerialNumber)
		if err != nil {
			return nil, err
		}
		if asset == nil {
			return nil, s.violation(op, RuleItemNotFound, it.SerialNumber, s.engine.sprintf(i18n.ItemNotFound, it.SerialNumber))
		}

		ok, err := store.CompareAndSetAssetStatus(ctx, tx, kind, it.SerialNumber, order.FromBranchID,
			kind.AvailableStatuses(), kind.TransitStatus())
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, s.violation(op, RuleItemLocked, it.SerialNumber,
				s.engine.sprintf(i18n.ItemLocked, it.SerialNumber, asset.Status))
		}

		return &model.TransferOrderItem{
			TransferOrderID: order.ID,
			AssetKind:       kind,
			SerialNumber:    it.SerialNumber,
			Quantity:        1,
			PriorStatus:     asset.Status,
			Notes:           it.Notes,
		}, nil

	case model.BulkItem:
		ok, err := store.ReserveStock(ctx, tx, order.FromBranchID, it.ItemTypeCode, it.Quantity)
		if err != nil {
			return nil, err
		}
		if !ok {
			available := 0
			if stock, err := store.GetStock(ctx, tx, order.FromBranchID, it.ItemTypeCode); err == nil && stock != nil {
				available = stock.Quantity
			}
			return nil, s.violation(op, RuleInsufficientStock, it.ItemTypeCode,
				s.engine.sprintf(i18n.InsufficientStock, it.ItemTypeCode, it.Quantity, available, idString(order.FromBranchID)))
		}

		return &model.TransferOrderItem{
			TransferOrderID: order.ID,
			AssetKind:       kind,
			ItemTypeCode:    it.ItemTypeCode,
			Quantity:        it.Quantity,
			Notes:           it.Notes,
		}, nil
	}

	return nil, fmt.Errorf("unsupported item request %T", item)
}

func (s *Service) violation(op string, rule Rule, subject, msg string) *Error {
	res := newResult()
	res.fail(rule, subject, msg)
	return validationError(op, res)
}

// GetTransferOrder returns an order with its lines.
func (s *Service) GetTransferOrder(ctx context.Context, id int64) (*model.TransferOrder, error) {
	const op = "get transfer order"

	order, err := store.GetTransferOrder(ctx, s.db, id)
	if err != nil {
		return nil, s.fail(op, err)
	}
	if order == nil {
		return nil, newError(op, CodeNotFound, fmt.Sprintf("transfer order %d not found", id))
	}
	return order, nil
}

// ListTransferOrders returns orders matching f, newest first.
func (s *Service) ListTransferOrders(ctx context.Context, f store.TransferFilter) ([]model.TransferOrder, error) {
	orders, err := store.ListTransferOrders(ctx, s.db, f)
	if err != nil {
		return nil, s.fail("list transfer orders", err)
	}
	if orders == nil {
		orders = []model.TransferOrder{}
	}
	return orders, nil
}

// PendingSerials lists serial numbers currently locked in pending orders,
// optionally narrowed to a source branch and order type.
func (s *Service) PendingSerials(ctx context.Context, branchID int64, orderType model.OrderType) ([]string, error) {
	serials, err := store.ListPendingSerials(ctx, s.db, branchID, orderType)
	if err != nil {
		return nil, s.fail("list pending serials", err)
	}
	if serials == nil {
		serials = []string{}
	}
	return serials, nil
}

// fail converts err into the error returned to callers: typed errors pass
// through, lock timeouts become CONTENTION.
func (s *Service) fail(op string, err error) error {
	var te *Error
	if errors.As(err, &te) {
		if te.Op == "" {
			te.Op = op
		}
		return te
	}
	if db.IsBusy(err) {
		s.log.Warn("storage contention", zap.String("op", op), zap.Error(err))
		return &Error{
			Op:      op,
			Code:    CodeContention,
			Message: "storage is busy, retry the request",
			Err:     err,
		}
	}
	s.log.Error("transfer operation failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(CodeOf(err)))
	}
	span.End()
}

func displayName(u *model.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
