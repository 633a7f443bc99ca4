package transfer

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erazemk/custody/internal/model"
	"github.com/erazemk/custody/internal/store"
)

func TestPartialReceiptKeepsOrderPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, s := range []string{"SN1", "SN2", "SN3"} {
		f.machine(t, s, f.b1.ID, model.MachineStatusStandby)
	}

	order, err := f.svc.CreateTransferOrder(ctx, machineRequest(f.b1.ID, f.b2.ID, model.OrderTypeMachine, "SN1", "SN2", "SN3"), f.clerk1)
	require.NoError(t, err)
	require.Equal(t, "TO-20260101-001", order.OrderNumber)

	// Lines may be named by serial number or by line ID.
	got, err := f.svc.ReceiveTransferOrder(ctx, order.ID, ReceiveInput{
		ReceivedItems: []string{"SN1", fmt.Sprint(order.Items[1].ID)},
	}, f.clerk2)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusPending, got.Status)
	require.Nil(t, got.ReceivedAt)
	require.True(t, got.Items[0].IsReceived)
	require.True(t, got.Items[1].IsReceived)
	require.False(t, got.Items[2].IsReceived)

	for _, s := range []string{"SN1", "SN2"} {
		a := f.asset(t, model.AssetKindMachine, s)
		require.Equal(t, f.b2.ID, a.BranchID)
		require.Equal(t, model.MachineStatusNew, a.Status)
	}
	sn3 := f.asset(t, model.AssetKindMachine, "SN3")
	require.Equal(t, f.b1.ID, sn3.BranchID)
	require.Equal(t, model.MachineStatusInTransit, sn3.Status)

	serials, err := f.svc.PendingSerials(ctx, 0, "")
	require.NoError(t, err)
	require.Equal(t, []string{"SN3"}, serials)

	// Receiving the last outstanding line completes the order.
	got, err = f.svc.ReceiveTransferOrder(ctx, order.ID, ReceiveInput{}, f.clerk2)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusReceived, got.Status)
	require.NotNil(t, got.ReceivedAt)
	require.NotNil(t, got.ReceivedBy)
	require.Equal(t, f.clerk2.ID, *got.ReceivedBy)
	require.Equal(t, "Bojan Kranjc", got.ReceivedByName)
	require.Empty(t, got.Outstanding())
	require.Equal(t, f.b2.ID, f.asset(t, model.AssetKindMachine, "SN3").BranchID)
}

func TestReceiveRejectsUnknownAndReceivedLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.machine(t, "SN1", f.b1.ID, model.MachineStatusNew)
	f.machine(t, "SN2", f.b1.ID, model.MachineStatusNew)

	order, err := f.svc.CreateTransferOrder(ctx, machineRequest(f.b1.ID, f.b2.ID, model.OrderTypeMachine, "SN1", "SN2"), f.clerk1)
	require.NoError(t, err)

	_, err = f.svc.ReceiveTransferOrder(ctx, order.ID, ReceiveInput{ReceivedItems: []string{"SN1", "SN9"}}, f.clerk2)
	requireCode(t, err, CodeValidation)
	require.True(t, HasRule(err, RuleItemNotFound))
	// The valid half of the request was rolled back too.
	require.Equal(t, model.MachineStatusInTransit, f.asset(t, model.AssetKindMachine, "SN1").Status)

	_, err = f.svc.ReceiveTransferOrder(ctx, order.ID, ReceiveInput{ReceivedItems: []string{"SN1"}}, f.clerk2)
	require.NoError(t, err)
	_, err = f.svc.ReceiveTransferOrder(ctx, order.ID, ReceiveInput{ReceivedItems: []string{"SN1"}}, f.clerk2)
	requireCode(t, err, CodeValidation)
	require.True(t, HasRule(err, RuleItemAlreadyReceived))
}

func TestReceiveRequiresDestinationAuthority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.machine(t, "SN1", f.b1.ID, model.MachineStatusNew)

	order, err := f.svc.CreateTransferOrder(ctx, machineRequest(f.b1.ID, f.b2.ID, model.OrderTypeMachine, "SN1"), f.clerk1)
	require.NoError(t, err)

	_, err = f.svc.ReceiveTransferOrder(ctx, order.ID, ReceiveInput{}, f.clerk1)
	requireCode(t, err, CodeForbidden)
	_, err = f.svc.RejectTransferOrder(ctx, order.ID, "wrong branch", f.clerk1)
	requireCode(t, err, CodeForbidden)

	got, err := f.svc.ReceiveTransferOrder(ctx, order.ID, ReceiveInput{}, f.root)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusReceived, got.Status)
}

func TestTerminalStatesAreFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, s := range []string{"R", "J", "C"} {
		f.machine(t, s, f.b1.ID, model.MachineStatusNew)
	}

	create := func(serial string) *model.TransferOrder {
		order, err := f.svc.CreateTransferOrder(ctx, machineRequest(f.b1.ID, f.b2.ID, model.OrderTypeMachine, serial), f.clerk1)
		require.NoError(t, err)
		return order
	}
	received, rejected, cancelled := create("R"), create("J"), create("C")

	_, err := f.svc.ReceiveTransferOrder(ctx, received.ID, ReceiveInput{}, f.clerk2)
	require.NoError(t, err)
	_, err = f.svc.RejectTransferOrder(ctx, rejected.ID, "damaged", f.clerk2)
	require.NoError(t, err)
	_, err = f.svc.CancelTransferOrder(ctx, cancelled.ID, f.clerk1)
	require.NoError(t, err)

	for _, order := range []*model.TransferOrder{received, rejected, cancelled} {
		_, err = f.svc.ReceiveTransferOrder(ctx, order.ID, ReceiveInput{}, f.clerk2)
		requireCode(t, err, CodeInvalidState)
		_, err = f.svc.RejectTransferOrder(ctx, order.ID, "again", f.clerk2)
		requireCode(t, err, CodeInvalidState)
		_, err = f.svc.CancelTransferOrder(ctx, order.ID, f.clerk1)
		requireCode(t, err, CodeInvalidState)
	}

	// No asset was touched by the repeated calls.
	r := f.asset(t, model.AssetKindMachine, "R")
	require.Equal(t, f.b2.ID, r.BranchID)
	require.Equal(t, model.MachineStatusNew, r.Status)
	for _, s := range []string{"J", "C"} {
		a := f.asset(t, model.AssetKindMachine, s)
		require.Equal(t, f.b1.ID, a.BranchID)
		require.Equal(t, model.MachineStatusNew, a.Status)
	}

	var e *Error
	_, err = f.svc.CancelTransferOrder(ctx, received.ID, f.clerk1)
	require.ErrorAs(t, err, &e)
	require.False(t, e.Retryable())
	require.Contains(t, e.Message, received.OrderNumber)
}

func TestRejectRestoresPriorStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.machine(t, "SN-STANDBY", f.b1.ID, model.MachineStatusStandby)
	f.machine(t, "SN-NEW", f.b1.ID, model.MachineStatusNew)

	order, err := f.svc.CreateTransferOrder(ctx, machineRequest(f.b1.ID, f.b2.ID, model.OrderTypeMachine, "SN-STANDBY", "SN-NEW"), f.clerk1)
	require.NoError(t, err)

	got, err := f.svc.RejectTransferOrder(ctx, order.ID, "  not expected  ", f.clerk2)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusRejected, got.Status)
	require.Equal(t, "not expected", got.RejectionReason)
	require.Equal(t, f.clerk2.ID, *got.ReceivedBy)
	require.Nil(t, got.ReceivedAt)

	require.Equal(t, model.MachineStatusStandby, f.asset(t, model.AssetKindMachine, "SN-STANDBY").Status)
	require.Equal(t, model.MachineStatusNew, f.asset(t, model.AssetKindMachine, "SN-NEW").Status)

	// Both serials are immediately eligible again.
	again, err := f.svc.CreateTransferOrder(ctx, machineRequest(f.b1.ID, f.admin.ID, model.OrderTypeMachine, "SN-STANDBY", "SN-NEW"), f.clerk1)
	require.NoError(t, err)
	require.Equal(t, "TO-20260101-002", again.OrderNumber)
}

func TestRejectAfterPartialReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sim(t, "SIM1", f.b1.ID)
	f.sim(t, "SIM2", f.b1.ID)

	order, err := f.svc.CreateTransferOrder(ctx, machineRequest(f.b1.ID, f.b2.ID, model.OrderTypeSIM, "SIM1", "SIM2"), f.clerk1)
	require.NoError(t, err)
	require.Equal(t, model.SIMStatusInTransit, f.asset(t, model.AssetKindSIM, "SIM1").Status)

	_, err = f.svc.ReceiveTransferOrder(ctx, order.ID, ReceiveInput{ReceivedItems: []string{"SIM1"}}, f.clerk2)
	require.NoError(t, err)

	got, err := f.svc.RejectTransferOrder(ctx, order.ID, "second card missing", f.clerk2)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusRejected, got.Status)

	sim1 := f.asset(t, model.AssetKindSIM, "SIM1")
	require.Equal(t, f.b2.ID, sim1.BranchID)
	require.Equal(t, model.SIMStatusActive, sim1.Status)
	sim2 := f.asset(t, model.AssetKindSIM, "SIM2")
	require.Equal(t, f.b1.ID, sim2.BranchID)
	require.Equal(t, model.SIMStatusActive, sim2.Status)
}

func TestRejectRequiresReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.machine(t, "SN1", f.b1.ID, model.MachineStatusNew)
	order, err := f.svc.CreateTransferOrder(ctx, machineRequest(f.b1.ID, f.b2.ID, model.OrderTypeMachine, "SN1"), f.clerk1)
	require.NoError(t, err)

	_, err = f.svc.RejectTransferOrder(ctx, order.ID, "   ", f.clerk2)
	requireCode(t, err, CodeValidation)
	require.True(t, HasRule(err, RuleReasonRequired))

	stored, err := f.svc.GetTransferOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusPending, stored.Status)
}

func TestCancelPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.machine(t, "SN1", f.b1.ID, model.MachineStatusNew)
	f.machine(t, "SN2", f.b1.ID, model.MachineStatusNew)

	order, err := f.svc.CreateTransferOrder(ctx, machineRequest(f.b1.ID, f.b2.ID, model.OrderTypeMachine, "SN1"), f.clerk1)
	require.NoError(t, err)

	_, err = f.svc.CancelTransferOrder(ctx, order.ID, f.clerk2)
	requireCode(t, err, CodeForbidden)

	got, err := f.svc.CancelTransferOrder(ctx, order.ID, f.root)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusCancelled, got.Status)
	require.Equal(t, model.MachineStatusNew, f.asset(t, model.AssetKindMachine, "SN1").Status)

	// Cancel is refused once the destination has received anything.
	order, err = f.svc.CreateTransferOrder(ctx, machineRequest(f.b1.ID, f.b2.ID, model.OrderTypeMachine, "SN1", "SN2"), f.clerk1)
	require.NoError(t, err)
	_, err = f.svc.ReceiveTransferOrder(ctx, order.ID, ReceiveInput{ReceivedItems: []string{"SN1"}}, f.clerk2)
	require.NoError(t, err)
	_, err = f.svc.CancelTransferOrder(ctx, order.ID, f.clerk1)
	requireCode(t, err, CodeInvalidState)
}

func TestLifecycleUnknownOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ReceiveTransferOrder(ctx, 404, ReceiveInput{}, f.root)
	requireCode(t, err, CodeNotFound)
	_, err = f.svc.RejectTransferOrder(ctx, 404, "x", f.root)
	requireCode(t, err, CodeNotFound)
	_, err = f.svc.CancelTransferOrder(ctx, 404, f.root)
	requireCode(t, err, CodeNotFound)
}

func TestMaintenanceOrderArrivesAtCenter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.machine(t, "POS-9", f.b1.ID, model.MachineStatusStandby)

	order, err := f.svc.CreateTransferOrder(ctx, machineRequest(f.b1.ID, f.center.ID, model.OrderTypeMaintenance, "POS-9"), f.clerk1)
	require.NoError(t, err)

	got, err := f.svc.ReceiveTransferOrder(ctx, order.ID, ReceiveInput{}, f.centerMgr)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusReceived, got.Status)

	a := f.asset(t, model.AssetKindMachine, "POS-9")
	require.Equal(t, f.center.ID, a.BranchID)
	require.Equal(t, model.MachineStatusReceivedAtCenter, a.Status)
}

func TestSparePartLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, store.AddStock(ctx, f.db, f.b1.ID, "PAPER", 10))

	req := model.TransferRequest{
		FromBranchID: f.b1.ID, ToBranchID: f.b2.ID, Type: model.OrderTypeSparePart,
		Items: []model.ItemRequest{model.BulkItem{ItemTypeCode: "PAPER", Quantity: 4}},
	}

	delivered, err := f.svc.CreateTransferOrder(ctx, req, f.clerk1)
	require.NoError(t, err)
	_, err = f.svc.ReceiveTransferOrder(ctx, delivered.ID, ReceiveInput{ReceivedItems: []string{"PAPER"}}, f.clerk2)
	require.NoError(t, err)

	src := f.stock(t, f.b1.ID, "PAPER")
	require.Equal(t, 6, src.Quantity)
	require.Equal(t, 0, src.InTransit)
	dst := f.stock(t, f.b2.ID, "PAPER")
	require.Equal(t, 4, dst.Quantity)

	req.Items = []model.ItemRequest{model.BulkItem{ItemTypeCode: "PAPER", Quantity: 5}}
	withdrawn, err := f.svc.CreateTransferOrder(ctx, req, f.clerk1)
	require.NoError(t, err)
	require.Equal(t, 1, f.stock(t, f.b1.ID, "PAPER").Quantity)

	_, err = f.svc.CancelTransferOrder(ctx, withdrawn.ID, f.clerk1)
	require.NoError(t, err)
	src = f.stock(t, f.b1.ID, "PAPER")
	require.Equal(t, 6, src.Quantity)
	require.Equal(t, 0, src.InTransit)
}
