package transfers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/branch-ledger/internal/ledger"
	"github.com/odyssey-erp/branch-ledger/internal/ledger/ledgertest"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

const (
	warehouse = int64(1)
	shop      = int64(2)
)

var (
	requester = shared.Actor{UserID: 20, BranchID: shop}
	sender    = shared.Actor{UserID: 10, BranchID: warehouse}
	outsider  = shared.Actor{UserID: 30, BranchID: 9}

	flourAtWarehouse = ledger.Key{ProductID: 5, BranchID: warehouse}
	flourAtShop     = ledger.Key{ProductID: 5, BranchID: shop}
	sugarAtWarehouse = ledger.Key{ProductID: 6, VariantID: 2, BranchID: warehouse}
	sugarAtShop     = ledger.Key{ProductID: 6, VariantID: 2, BranchID: shop}
)

type recordingObserver struct {
	transitions []string
}

func (o *recordingObserver) ObserveTransition(from, to string) {
	o.transitions = append(o.transitions, from+">"+to)
}

type fixture struct {
	stock    *ledgertest.Memory
	repo     *memoryRepo
	svc      *Service
	observer *recordingObserver
}

func newFixture(t *testing.T, policy ledger.Policy) *fixture {
	t.Helper()
	stock := ledgertest.NewMemory()
	stock.Seed(flourAtWarehouse, 50)
	stock.Seed(sugarAtWarehouse, 8)
	f := &fixture{stock: stock, repo: newMemoryRepo(stock), observer: &recordingObserver{}}
	f.svc = NewService(f.repo, ledger.NewLedger(stock, policy, ledger.Options{}), Options{Observer: f.observer})
	return f
}

func (f *fixture) create(t *testing.T, flour, sugar int64) Transfer {
	t.Helper()
	req := CreateRequest{FromBranchID: warehouse, ToBranchID: shop}
	if flour > 0 {
		req.Lines = append(req.Lines, LineRequest{ProductID: 5, Quantity: flour})
	}
	if sugar > 0 {
		req.Lines = append(req.Lines, LineRequest{ProductID: 6, VariantID: 2, Quantity: sugar})
	}
	tr, err := f.svc.Create(context.Background(), req, requester)
	require.NoError(t, err)
	return tr
}

func approveAll(tr Transfer) ApproveRequest {
	var req ApproveRequest
	for _, l := range tr.Lines {
		req.Lines = append(req.Lines, ApproveLine{LineID: l.ID, ApprovedQty: l.QuantityRequested})
	}
	return req
}

func qty(v int64) *int64 { return &v }

func TestTransferFullLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tr := f.create(t, 10, 3)
	require.Equal(t, "TR-00001", tr.Number)
	require.Equal(t, StatusPending, tr.Status)
	require.Equal(t, int64(50), f.stock.Quantity(flourAtWarehouse))

	tr, err := f.svc.Approve(ctx, tr.ID, approveAll(tr), sender)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, tr.Status)
	require.Equal(t, int64(40), f.stock.Quantity(flourAtWarehouse))
	require.Equal(t, int64(5), f.stock.Quantity(sugarAtWarehouse))

	tr, err = f.svc.Pickup(ctx, tr.ID, PickupRequest{}, sender)
	require.NoError(t, err)
	require.Equal(t, StatusInTransit, tr.Status)
	require.Equal(t, sender.UserID, *tr.DriverID)

	tr, err = f.svc.Receive(ctx, tr.ID, ReceiveRequest{}, requester)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, tr.Status)
	require.Equal(t, int64(10), f.stock.Quantity(flourAtShop))
	require.Equal(t, int64(3), f.stock.Quantity(sugarAtShop))

	history, err := f.svc.History(ctx, tr.ID)
	require.NoError(t, err)
	var actions []shared.ApprovalAction
	for _, h := range history {
		actions = append(actions, h.Action)
	}
	require.Equal(t, []shared.ApprovalAction{
		shared.ApprovalSubmit, shared.ApprovalApprove, shared.ApprovalPickup, shared.ApprovalReceive,
	}, actions)
	require.Equal(t, []string{">pending", "pending>approved", "approved>in_transit", "in_transit>completed"}, f.observer.transitions)

	var out, in int
	for _, mv := range f.stock.Movements() {
		require.Equal(t, tr.Number, mv.RefID)
		switch mv.Reason {
		case ledger.ReasonTransferOut:
			out++
		case ledger.ReasonTransferIn:
			in++
		}
	}
	require.Equal(t, 2, out)
	require.Equal(t, 2, in)
}

func TestPartialApprovalAndShrinkageShowInTransit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tr := f.create(t, 10, 0)
	tr, err := f.svc.Approve(ctx, tr.ID, ApproveRequest{Lines: []ApproveLine{{LineID: tr.Lines[0].ID, ApprovedQty: 6}}}, sender)
	require.NoError(t, err)
	require.Equal(t, int64(44), f.stock.Quantity(flourAtWarehouse))

	_, err = f.svc.Pickup(ctx, tr.ID, PickupRequest{DriverID: 77}, sender)
	require.NoError(t, err)

	report, err := f.svc.InTransitReport(ctx, shop)
	require.NoError(t, err)
	require.Len(t, report, 1)
	require.Equal(t, int64(6), report[0].Outstanding)
	require.Equal(t, StatusInTransit, report[0].Status)

	tr, err = f.svc.Receive(ctx, tr.ID, ReceiveRequest{Lines: []ReceiveLine{{LineID: tr.Lines[0].ID, ReceivedQty: qty(5)}}}, requester)
	require.NoError(t, err)
	require.Equal(t, int64(5), f.stock.Quantity(flourAtShop))
	require.Equal(t, int64(44), f.stock.Quantity(flourAtWarehouse))
	require.Equal(t, int64(5), tr.Lines[0].QuantityReceived)

	report, err = f.svc.InTransitReport(ctx, 0)
	require.NoError(t, err)
	require.Len(t, report, 1)
	require.Equal(t, StatusCompleted, report[0].Status)
	require.Equal(t, int64(1), report[0].Outstanding)
}

func TestApproveOmittedLineApprovesZero(t *testing.T) {
	f := newFixture(t, nil)
	tr := f.create(t, 4, 2)

	tr, err := f.svc.Approve(context.Background(), tr.ID, ApproveRequest{Lines: []ApproveLine{{LineID: tr.Lines[0].ID, ApprovedQty: 4}}}, sender)
	require.NoError(t, err)
	require.Equal(t, int64(0), tr.Lines[1].QuantityApproved)
	require.Equal(t, int64(8), f.stock.Quantity(sugarAtWarehouse))
	require.Len(t, f.stock.Movements(), 1)
}

func TestApproveValidatesLines(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tr := f.create(t, 4, 0)

	_, err := f.svc.Approve(ctx, tr.ID, ApproveRequest{Lines: []ApproveLine{{LineID: tr.Lines[0].ID, ApprovedQty: 5}}}, sender)
	require.ErrorIs(t, err, shared.ErrValidation)
	var lineErr *shared.LineError
	require.True(t, errors.As(err, &lineErr))
	require.Equal(t, 1, lineErr.Line)

	_, err = f.svc.Approve(ctx, tr.ID, ApproveRequest{Lines: []ApproveLine{{LineID: 999, ApprovedQty: 1}}}, sender)
	require.ErrorIs(t, err, shared.ErrValidation)

	stored, err := f.svc.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)
	require.Equal(t, int64(50), f.stock.Quantity(flourAtWarehouse))
}

func TestStrictApprovalShortageRollsBack(t *testing.T) {
	f := newFixture(t, ledger.StrictCheck{})
	ctx := context.Background()
	tr := f.create(t, 10, 9)

	_, err := f.svc.Approve(ctx, tr.ID, approveAll(tr), sender)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var lineErr *shared.LineError
	require.True(t, errors.As(err, &lineErr))
	require.Equal(t, 2, lineErr.Line)

	require.Equal(t, int64(50), f.stock.Quantity(flourAtWarehouse))
	stored, err := f.svc.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)
	require.Zero(t, stored.Lines[0].QuantityApproved)
}

func TestPermissiveApprovalOversells(t *testing.T) {
	f := newFixture(t, nil)
	tr := f.create(t, 0, 9)

	_, err := f.svc.Approve(context.Background(), tr.ID, approveAll(tr), sender)
	require.NoError(t, err)
	require.Equal(t, int64(-1), f.stock.Quantity(sugarAtWarehouse))
}

func TestApproveNeverStockedProductLeavesNoLine(t *testing.T) {
	for _, policy := range []ledger.Policy{ledger.Permissive{}, ledger.StrictCheck{}} {
		t.Run(policy.Name(), func(t *testing.T) {
			f := newFixture(t, policy)
			ctx := context.Background()
			saltAtWarehouse := ledger.Key{ProductID: 7, BranchID: warehouse}
			tr, err := f.svc.Create(ctx, CreateRequest{
				FromBranchID: warehouse,
				ToBranchID:   shop,
				Lines: []LineRequest{
					{ProductID: 5, Quantity: 4},
					{ProductID: 7, Quantity: 2},
				},
			}, requester)
			require.NoError(t, err)

			_, err = f.svc.Approve(ctx, tr.ID, approveAll(tr), sender)
			require.ErrorIs(t, err, ledger.ErrLineNotFound)
			var lineErr *shared.LineError
			require.True(t, errors.As(err, &lineErr))
			require.Equal(t, 2, lineErr.Line)

			require.Equal(t, int64(50), f.stock.Quantity(flourAtWarehouse))
			lines, err := f.stock.ListLines(ctx, ledger.LineFilter{ProductID: saltAtWarehouse.ProductID})
			require.NoError(t, err)
			require.Empty(t, lines)
			stored, err := f.svc.Get(ctx, tr.ID)
			require.NoError(t, err)
			require.Equal(t, StatusPending, stored.Status)
		})
	}
}

func TestTransitionsOutOfOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tr := f.create(t, 2, 0)

	_, err := f.svc.Pickup(ctx, tr.ID, PickupRequest{}, sender)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = f.svc.Receive(ctx, tr.ID, ReceiveRequest{}, requester)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = f.svc.Approve(ctx, tr.ID, approveAll(tr), sender)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, tr.ID, approveAll(tr), sender)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = f.svc.Reject(ctx, tr.ID, RejectRequest{Reason: "late"}, sender)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	err = f.svc.Delete(ctx, tr.ID, requester)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	require.Equal(t, int64(48), f.stock.Quantity(flourAtWarehouse))
}

func TestBranchGuards(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tr := f.create(t, 2, 0)

	_, err := f.svc.Approve(ctx, tr.ID, approveAll(tr), requester)
	require.ErrorIs(t, err, ErrNotSender)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = f.svc.Reject(ctx, tr.ID, RejectRequest{Reason: "no"}, outsider)
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = f.svc.Approve(ctx, tr.ID, approveAll(tr), sender)
	require.NoError(t, err)
	_, err = f.svc.Pickup(ctx, tr.ID, PickupRequest{}, requester)
	require.ErrorIs(t, err, ErrNotSender)
	_, err = f.svc.Pickup(ctx, tr.ID, PickupRequest{}, sender)
	require.NoError(t, err)

	_, err = f.svc.Receive(ctx, tr.ID, ReceiveRequest{}, sender)
	require.ErrorIs(t, err, ErrNotReceiver)
	require.Zero(t, f.stock.Quantity(flourAtShop))
}

func TestReceiveMoreThanApproved(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tr := f.create(t, 3, 0)
	_, err := f.svc.Approve(ctx, tr.ID, approveAll(tr), sender)
	require.NoError(t, err)
	_, err = f.svc.Pickup(ctx, tr.ID, PickupRequest{}, sender)
	require.NoError(t, err)

	_, err = f.svc.Receive(ctx, tr.ID, ReceiveRequest{Lines: []ReceiveLine{{LineID: tr.Lines[0].ID, ReceivedQty: qty(4)}}}, requester)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Zero(t, f.stock.Quantity(flourAtShop))
}

func TestRejectAndDelete(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tr := f.create(t, 2, 0)

	_, err := f.svc.Reject(ctx, tr.ID, RejectRequest{Reason: "  "}, sender)
	require.ErrorIs(t, err, ErrMissingReason)

	tr, err = f.svc.Reject(ctx, tr.ID, RejectRequest{Reason: "out of season"}, sender)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, tr.Status)
	require.Equal(t, "out of season", tr.RejectionReason)
	require.Empty(t, f.stock.Movements())

	err = f.svc.Delete(ctx, tr.ID, sender)
	require.ErrorIs(t, err, ErrNotReceiver)
	require.NoError(t, f.svc.Delete(ctx, tr.ID, requester))

	_, err = f.svc.Get(ctx, tr.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	err = f.svc.Delete(ctx, tr.ID, requester)
	require.ErrorIs(t, err, ErrTransferNotFound)
}

func TestRejectAfterApproveIsInvalidStateEvenWithoutReason(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tr := f.create(t, 2, 0)
	_, err := f.svc.Approve(ctx, tr.ID, approveAll(tr), sender)
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, tr.ID, RejectRequest{}, sender)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.NotErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Reject(ctx, f.create(t, 1, 0).ID, RejectRequest{}, requester)
	require.ErrorIs(t, err, ErrNotSender)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateRequest{FromBranchID: shop, ToBranchID: shop, Lines: []LineRequest{{ProductID: 5, Quantity: 1}}}, requester)
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.Create(ctx, CreateRequest{FromBranchID: warehouse, ToBranchID: shop}, requester)
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.Create(ctx, CreateRequest{FromBranchID: warehouse, ToBranchID: shop, Lines: []LineRequest{{ProductID: 5, Quantity: 0}}}, requester)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestListByDirection(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first := f.create(t, 1, 0)
	second := f.create(t, 2, 0)
	require.Equal(t, "TR-00002", second.Number)

	incoming, err := f.svc.List(ctx, ListRequest{BranchID: shop, Direction: DirectionIncoming})
	require.NoError(t, err)
	require.Len(t, incoming, 2)
	require.Equal(t, second.ID, incoming[0].ID)

	outgoing, err := f.svc.List(ctx, ListRequest{BranchID: shop, Direction: DirectionOutgoing})
	require.NoError(t, err)
	require.Empty(t, outgoing)

	_, err = f.svc.Reject(ctx, first.ID, RejectRequest{Reason: "dup"}, sender)
	require.NoError(t, err)
	rejected, err := f.svc.List(ctx, ListRequest{Status: StatusRejected})
	require.NoError(t, err)
	require.Len(t, rejected, 1)

	_, err = f.svc.List(ctx, ListRequest{Direction: DirectionIncoming})
	require.ErrorIs(t, err, shared.ErrValidation)
}
