package sales

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/branch-ledger/internal/catalog"
	"github.com/odyssey-erp/branch-ledger/internal/ledger"
	"github.com/odyssey-erp/branch-ledger/internal/ledger/ledgertest"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

var (
	cashier = shared.Actor{UserID: 7, BranchID: 3}
	teaKey  = ledger.Key{ProductID: 1, VariantID: 11, BranchID: 3}
	cakeKey = ledger.Key{ProductID: 2, BranchID: 3}
)

type fixture struct {
	stock *ledgertest.Memory
	repo  *memoryRepo
	svc   *Service
	tea   ledger.StockLine
	cake  ledger.StockLine
}

func newFixture(t *testing.T, policy ledger.Policy, opts Options) *fixture {
	t.Helper()
	stock := ledgertest.NewMemory()
	f := &fixture{stock: stock, repo: newMemoryRepo(stock)}
	f.tea = stock.Seed(teaKey, 10)
	f.cake = stock.Seed(cakeKey, 20)
	f.svc = NewService(f.repo, ledger.NewLedger(stock, policy, ledger.Options{}), opts)
	return f
}

func (f *fixture) line(stockLine ledger.StockLine, qty int64, price int64) LineInput {
	return LineInput{
		StockLineID: stockLine.ID,
		ProductID:   stockLine.ProductID,
		VariantID:   stockLine.VariantID,
		ProductName: map[int64]string{1: "Tea", 2: "Cake"}[stockLine.ProductID],
		VariantName: map[int64]string{11: "Large"}[stockLine.VariantID],
		Quantity:    qty,
		UnitPrice:   decimal.NewFromInt(price),
	}
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []LowStockNotice
	err     error
}

func (n *recordingNotifier) NotifyLowStock(_ context.Context, notice LowStockNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryIdempotency) Claim(_ context.Context, module, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]bool)
	}
	if m.keys[module+"/"+key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+"/"+key] = true
	return nil
}

func (m *memoryIdempotency) Release(_ context.Context, module, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+"/"+key)
	return nil
}

type staticCatalog map[int64]catalog.Item

func (c staticCatalog) Describe(_ context.Context, productID, _ int64) (catalog.Item, error) {
	item, ok := c[productID]
	if !ok {
		return catalog.Item{}, catalog.ErrProductNotFound
	}
	return item, nil
}

func TestCreateInvoiceDeductsAndWarnsLowStock(t *testing.T) {
	notifier := &recordingNotifier{}
	f := newFixture(t, nil, Options{Notifier: notifier})
	customer := int64(42)

	result, err := f.svc.CreateInvoice(context.Background(), CreateInvoiceRequest{
		BranchID:     3,
		CustomerID:   &customer,
		PointsEarned: 12,
		Lines:        []LineInput{f.line(f.tea, 6, 5000), f.line(f.cake, 2, 12000)},
	}, cashier)
	require.NoError(t, err)
	require.Equal(t, "INV-000001-B3", result.Number)
	require.True(t, result.Total.Equal(decimal.NewFromInt(54000)))

	require.Equal(t, int64(4), f.stock.Quantity(teaKey))
	require.Equal(t, int64(18), f.stock.Quantity(cakeKey))
	require.Equal(t, []LowStockWarning{{StockLineID: f.tea.ID, Name: "Tea (Large)", RemainingQty: 4}}, result.LowStockWarnings)
	require.Len(t, notifier.notices, 1)
	require.Equal(t, result.InvoiceID, notifier.notices[0].InvoiceID)
	require.Equal(t, int64(12), f.repo.loyaltyOf(customer))

	inv, err := f.svc.GetInvoice(context.Background(), result.InvoiceID)
	require.NoError(t, err)
	require.Len(t, inv.Lines, 2)
	require.Equal(t, StatusInProgress, inv.Status)
}

func TestCreateInvoiceUsesClientNumberAndSettingsThreshold(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.repo.threshold, f.repo.thresholdSet = 15, true

	result, err := f.svc.CreateInvoice(context.Background(), CreateInvoiceRequest{
		Number:   "POS-77",
		BranchID: 3,
		Lines:    []LineInput{f.line(f.cake, 6, 1)},
	}, cashier)
	require.NoError(t, err)
	require.Equal(t, "POS-77-B3", result.Number)
	require.Len(t, result.LowStockWarnings, 1)
	require.Equal(t, "Cake", result.LowStockWarnings[0].Name)
}

// A failing threshold read or notifier never fails the committed sale.
func TestLowStockCheckIsBestEffort(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("queue down")}
	f := newFixture(t, nil, Options{Notifier: notifier})
	f.repo.thresholdErr = errors.New("settings table missing")

	result, err := f.svc.CreateInvoice(context.Background(), CreateInvoiceRequest{
		BranchID: 3,
		Lines:    []LineInput{f.line(f.tea, 9, 1)},
	}, cashier)
	require.NoError(t, err)
	require.Len(t, result.LowStockWarnings, 1, "falls back to the configured threshold")
	require.Equal(t, int64(1), f.stock.Quantity(teaKey))
}

func TestCreateInvoiceResolvesNamesFromCatalog(t *testing.T) {
	f := newFixture(t, nil, Options{Catalog: staticCatalog{2: {ProductID: 2, Name: "Cheesecake"}}})
	in := f.line(f.cake, 16, 1)
	in.ProductName = ""

	result, err := f.svc.CreateInvoice(context.Background(), CreateInvoiceRequest{BranchID: 3, Lines: []LineInput{in}}, cashier)
	require.NoError(t, err)
	require.Equal(t, "Cheesecake", result.LowStockWarnings[0].Name)

	in.ProductID = 99
	_, err = f.svc.CreateInvoice(context.Background(), CreateInvoiceRequest{BranchID: 3, Lines: []LineInput{in}}, cashier)
	var lineErr *shared.LineError
	require.True(t, errors.As(err, &lineErr))
	require.Equal(t, 1, lineErr.Line)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateInvoiceValidatesBeforeLedger(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	_, err := f.svc.CreateInvoice(ctx, CreateInvoiceRequest{BranchID: 3}, cashier)
	require.ErrorIs(t, err, shared.ErrValidation)

	bad := f.line(f.tea, 0, 1)
	_, err = f.svc.CreateInvoice(ctx, CreateInvoiceRequest{BranchID: 3, Lines: []LineInput{bad}}, cashier)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.CreateInvoice(ctx, CreateInvoiceRequest{
		BranchID: 3,
		Discount: decimal.NewFromInt(100),
		Lines:    []LineInput{f.line(f.tea, 1, 10)},
	}, cashier)
	require.ErrorIs(t, err, shared.ErrValidation)

	require.Equal(t, int64(10), f.stock.Quantity(teaKey))
	require.Empty(t, f.stock.Movements())
}

func TestOversellPermissiveAndStrict(t *testing.T) {
	ctx := context.Background()

	permissive := newFixture(t, ledger.Permissive{}, Options{})
	permissive.stock.Seed(teaKey, 1)
	_, err := permissive.svc.CreateInvoice(ctx, CreateInvoiceRequest{BranchID: 3, Lines: []LineInput{permissive.line(permissive.tea, 2, 1)}}, cashier)
	require.NoError(t, err)
	require.Equal(t, int64(-1), permissive.stock.Quantity(teaKey))

	strict := newFixture(t, ledger.StrictCheck{}, Options{})
	strict.stock.Seed(teaKey, 1)
	_, err = strict.svc.CreateInvoice(ctx, CreateInvoiceRequest{BranchID: 3, Lines: []LineInput{strict.line(strict.tea, 2, 1)}}, cashier)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, int64(1), strict.stock.Quantity(teaKey))
	invoices, err := strict.svc.ListInvoices(ctx, ListFilter{})
	require.NoError(t, err)
	require.Empty(t, invoices)
}

func TestStrictFailureOnLaterLineRollsBackEarlierLines(t *testing.T) {
	f := newFixture(t, ledger.StrictCheck{}, Options{})
	_, err := f.svc.CreateInvoice(context.Background(), CreateInvoiceRequest{
		BranchID: 3,
		Lines:    []LineInput{f.line(f.cake, 5, 1), f.line(f.tea, 11, 1)},
	}, cashier)
	var lineErr *shared.LineError
	require.True(t, errors.As(err, &lineErr))
	require.Equal(t, 2, lineErr.Line)
	var shortage *ledger.ShortageError
	require.True(t, errors.As(err, &shortage))
	require.Equal(t, int64(11), shortage.Required)
	require.Equal(t, int64(10), shortage.Available)

	require.Equal(t, int64(20), f.stock.Quantity(cakeKey))
	require.Equal(t, int64(10), f.stock.Quantity(teaKey))
}

func TestIdempotencyKeyRejectsReplay(t *testing.T) {
	idem := &memoryIdempotency{}
	f := newFixture(t, ledger.StrictCheck{}, Options{Idempotency: idem})
	ctx := context.Background()
	req := CreateInvoiceRequest{BranchID: 3, IdempotencyKey: "abc", Lines: []LineInput{f.line(f.cake, 1, 1)}}

	_, err := f.svc.CreateInvoice(ctx, req, cashier)
	require.NoError(t, err)
	_, err = f.svc.CreateInvoice(ctx, req, cashier)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Equal(t, int64(19), f.stock.Quantity(cakeKey))

	failing := CreateInvoiceRequest{BranchID: 3, IdempotencyKey: "def", Lines: []LineInput{f.line(f.tea, 50, 1)}}
	_, err = f.svc.CreateInvoice(ctx, failing, cashier)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	failing.Lines = []LineInput{f.line(f.tea, 1, 1)}
	_, err = f.svc.CreateInvoice(ctx, failing, cashier)
	require.NoError(t, err, "a failed attempt releases its key")
}

func TestCancelTwiceReturnsStockOnce(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	customer := int64(5)
	f.repo.state.loyalty[customer] = 3

	created, err := f.svc.CreateInvoice(ctx, CreateInvoiceRequest{
		BranchID:       3,
		CustomerID:     &customer,
		PointsEarned:   10,
		PointsRedeemed: 2,
		Lines:          []LineInput{f.line(f.tea, 4, 1), f.line(f.cake, 5, 1)},
	}, cashier)
	require.NoError(t, err)
	require.Equal(t, int64(11), f.repo.loyaltyOf(customer))
	f.repo.state.loyalty[customer] = 4

	res, err := f.svc.CancelInvoice(ctx, created.InvoiceID, CancelRequest{Reason: "customer left", ReturnStock: true}, cashier)
	require.NoError(t, err)
	require.True(t, res.StockReturned)
	require.Equal(t, int64(10), f.stock.Quantity(teaKey))
	require.Equal(t, int64(20), f.stock.Quantity(cakeKey))
	require.Equal(t, int64(0), f.repo.loyaltyOf(customer), "reversal clamps at zero")

	_, err = f.svc.CancelInvoice(ctx, created.InvoiceID, CancelRequest{Reason: "again", ReturnStock: true}, cashier)
	require.ErrorIs(t, err, ErrAlreadyCancelled)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Equal(t, int64(10), f.stock.Quantity(teaKey))
	require.Equal(t, int64(20), f.stock.Quantity(cakeKey))

	inv, err := f.svc.GetInvoice(ctx, created.InvoiceID)
	require.NoError(t, err)
	require.True(t, inv.Cancelled)
	require.Equal(t, StatusCancelled, inv.Status)
	require.Equal(t, "customer left", inv.CancelReason)
}

func TestCancelConcurrentlyReturnsStockOnce(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	created, err := f.svc.CreateInvoice(ctx, CreateInvoiceRequest{BranchID: 3, Lines: []LineInput{f.line(f.tea, 4, 1)}}, cashier)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.CancelInvoice(ctx, created.InvoiceID, CancelRequest{Reason: "dup", ReturnStock: true}, cashier); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, successes)
	require.Equal(t, int64(10), f.stock.Quantity(teaKey))
}

func TestCancelWithoutReturnOrReason(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	created, err := f.svc.CreateInvoice(ctx, CreateInvoiceRequest{BranchID: 3, Lines: []LineInput{f.line(f.tea, 4, 1)}}, cashier)
	require.NoError(t, err)

	_, err = f.svc.CancelInvoice(ctx, created.InvoiceID, CancelRequest{Reason: "   "}, cashier)
	require.ErrorIs(t, err, ErrMissingReason)
	require.ErrorIs(t, err, shared.ErrValidation)

	res, err := f.svc.CancelInvoice(ctx, created.InvoiceID, CancelRequest{Reason: "spoiled"}, cashier)
	require.NoError(t, err)
	require.False(t, res.StockReturned)
	require.Equal(t, int64(6), f.stock.Quantity(teaKey))

	_, err = f.svc.CancelInvoice(ctx, 999, CancelRequest{Reason: "x"}, cashier)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestEditWithSameLinesLeavesStockUnchanged(t *testing.T) {
	for _, policy := range []ledger.Policy{ledger.Permissive{}, ledger.StrictCheck{}} {
		t.Run(policy.Name(), func(t *testing.T) {
			f := newFixture(t, policy, Options{})
			ctx := context.Background()
			lines := []LineInput{f.line(f.tea, 10, 3), f.line(f.cake, 20, 4)}
			created, err := f.svc.CreateInvoice(ctx, CreateInvoiceRequest{BranchID: 3, Lines: lines}, cashier)
			require.NoError(t, err)
			require.Zero(t, f.stock.Quantity(teaKey))

			inv, err := f.svc.EditInvoice(ctx, created.InvoiceID, EditRequest{Lines: lines}, cashier)
			require.NoError(t, err)
			require.Zero(t, f.stock.Quantity(teaKey))
			require.Zero(t, f.stock.Quantity(cakeKey))
			require.Equal(t, 1, inv.EditCount)

			edits, err := f.svc.ListEdits(ctx, created.InvoiceID)
			require.NoError(t, err)
			require.Len(t, edits, 1)
			require.True(t, edits[0].Changes.OldTotal.Equal(edits[0].Changes.NewTotal))
			require.Equal(t, 2, edits[0].Changes.OldItemsCount)
			require.Equal(t, 2, edits[0].Changes.NewItemsCount)
		})
	}
}

func TestEditReplacesLines(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	created, err := f.svc.CreateInvoice(ctx, CreateInvoiceRequest{
		BranchID: 3,
		Lines:    []LineInput{f.line(f.tea, 2, 5), f.line(f.cake, 3, 5)},
	}, cashier)
	require.NoError(t, err)

	inv, err := f.svc.EditInvoice(ctx, created.InvoiceID, EditRequest{Lines: []LineInput{f.line(f.cake, 1, 7)}}, cashier)
	require.NoError(t, err)
	require.Equal(t, int64(10), f.stock.Quantity(teaKey))
	require.Equal(t, int64(19), f.stock.Quantity(cakeKey))
	require.Len(t, inv.Lines, 1)
	require.True(t, inv.Total.Equal(decimal.NewFromInt(7)))

	stored, err := f.svc.GetInvoice(ctx, created.InvoiceID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 1)
	require.Equal(t, 1, stored.EditCount)
	require.NotNil(t, stored.EditedBy)
	require.Equal(t, cashier.UserID, *stored.EditedBy)
}

func TestEditCompletedNeedsCapability(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	created, err := f.svc.CreateInvoice(ctx, CreateInvoiceRequest{BranchID: 3, Lines: []LineInput{f.line(f.tea, 2, 5)}}, cashier)
	require.NoError(t, err)
	require.NoError(t, f.svc.UpdateStatus(ctx, created.InvoiceID, StatusRequest{Status: StatusCompleted}, cashier))

	_, err = f.svc.EditInvoice(ctx, created.InvoiceID, EditRequest{Lines: []LineInput{f.line(f.tea, 5, 5)}}, cashier)
	require.ErrorIs(t, err, shared.ErrForbidden)
	require.Equal(t, int64(8), f.stock.Quantity(teaKey))

	manager := shared.Actor{UserID: 1, BranchID: 3, Capabilities: map[string]bool{shared.CapInvoiceEditCompleted: true}}
	_, err = f.svc.EditInvoice(ctx, created.InvoiceID, EditRequest{Lines: []LineInput{f.line(f.tea, 5, 5)}}, manager)
	require.NoError(t, err)
	require.Equal(t, int64(5), f.stock.Quantity(teaKey))
}

func TestEditCancelledInvoice(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	created, err := f.svc.CreateInvoice(ctx, CreateInvoiceRequest{BranchID: 3, Lines: []LineInput{f.line(f.tea, 2, 5)}}, cashier)
	require.NoError(t, err)
	_, err = f.svc.CancelInvoice(ctx, created.InvoiceID, CancelRequest{Reason: "void", ReturnStock: true}, cashier)
	require.NoError(t, err)

	_, err = f.svc.EditInvoice(ctx, created.InvoiceID, EditRequest{Lines: []LineInput{f.line(f.tea, 1, 5)}}, cashier)
	require.ErrorIs(t, err, ErrAlreadyCancelled)
	require.Equal(t, int64(10), f.stock.Quantity(teaKey))
}

func TestStatusTransitions(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	created, err := f.svc.CreateInvoice(ctx, CreateInvoiceRequest{BranchID: 3, Lines: []LineInput{f.line(f.tea, 1, 5)}}, cashier)
	require.NoError(t, err)

	require.NoError(t, f.svc.UpdateStatus(ctx, created.InvoiceID, StatusRequest{Status: StatusDelivering}, cashier))
	err = f.svc.UpdateStatus(ctx, created.InvoiceID, StatusRequest{Status: StatusInProgress}, cashier)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.NoError(t, f.svc.UpdateStatus(ctx, created.InvoiceID, StatusRequest{Status: StatusCompleted}, cashier))

	err = f.svc.UpdateStatus(ctx, created.InvoiceID, StatusRequest{Status: "cancelled"}, cashier)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReturnsRestockAndCapAtSold(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	created, err := f.svc.CreateInvoice(ctx, CreateInvoiceRequest{BranchID: 3, Lines: []LineInput{f.line(f.tea, 3, 2500)}}, cashier)
	require.NoError(t, err)
	inv, err := f.svc.GetInvoice(ctx, created.InvoiceID)
	require.NoError(t, err)
	lineID := inv.Lines[0].ID

	ret, err := f.svc.RecordReturn(ctx, ReturnRequest{InvoiceID: inv.ID, InvoiceLineID: lineID, Quantity: 2, Reason: "damaged box"}, cashier)
	require.NoError(t, err)
	require.Equal(t, int64(9), f.stock.Quantity(teaKey))
	require.True(t, ret.Total.Equal(decimal.NewFromInt(5000)))

	_, err = f.svc.RecordReturn(ctx, ReturnRequest{InvoiceID: inv.ID, InvoiceLineID: lineID, Quantity: 2}, cashier)
	var exceeds *ReturnExceedsSoldError
	require.True(t, errors.As(err, &exceeds))
	require.Equal(t, int64(2), exceeds.Returned)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.RecordReturn(ctx, ReturnRequest{InvoiceID: inv.ID, InvoiceLineID: 12345, Quantity: 1}, cashier)
	require.ErrorIs(t, err, shared.ErrNotFound)

	// Cancelling restocks only what was not returned yet.
	_, err = f.svc.CancelInvoice(ctx, inv.ID, CancelRequest{Reason: "void", ReturnStock: true}, cashier)
	require.NoError(t, err)
	require.Equal(t, int64(10), f.stock.Quantity(teaKey))

	_, err = f.svc.RecordReturn(ctx, ReturnRequest{InvoiceID: inv.ID, InvoiceLineID: lineID, Quantity: 1}, cashier)
	require.ErrorIs(t, err, ErrAlreadyCancelled)
}

func TestDeleteReturnReversesRestock(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	created, err := f.svc.CreateInvoice(ctx, CreateInvoiceRequest{BranchID: 3, Lines: []LineInput{f.line(f.cake, 4, 1)}}, cashier)
	require.NoError(t, err)
	inv, err := f.svc.GetInvoice(ctx, created.InvoiceID)
	require.NoError(t, err)

	ret, err := f.svc.RecordReturn(ctx, ReturnRequest{InvoiceID: inv.ID, InvoiceLineID: inv.Lines[0].ID, Quantity: 3}, cashier)
	require.NoError(t, err)
	require.Equal(t, int64(19), f.stock.Quantity(cakeKey))

	require.NoError(t, f.svc.DeleteReturn(ctx, ret.ID, cashier))
	require.Equal(t, int64(16), f.stock.Quantity(cakeKey))
	returns, err := f.svc.ListReturns(ctx, inv.ID)
	require.NoError(t, err)
	require.Empty(t, returns)

	require.ErrorIs(t, f.svc.DeleteReturn(ctx, ret.ID, cashier), shared.ErrNotFound)
}

func TestReturnThenEditThenCancelRestocksOnce(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	lines := []LineInput{f.line(f.tea, 5, 2)}
	created, err := f.svc.CreateInvoice(ctx, CreateInvoiceRequest{BranchID: 3, Lines: lines}, cashier)
	require.NoError(t, err)
	inv, err := f.svc.GetInvoice(ctx, created.InvoiceID)
	require.NoError(t, err)

	ret, err := f.svc.RecordReturn(ctx, ReturnRequest{InvoiceID: inv.ID, InvoiceLineID: inv.Lines[0].ID, Quantity: 2}, cashier)
	require.NoError(t, err)
	require.Equal(t, int64(7), f.stock.Quantity(teaKey))

	_, err = f.svc.EditInvoice(ctx, inv.ID, EditRequest{Lines: lines}, cashier)
	require.ErrorIs(t, err, ErrEditWithReturns)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Equal(t, int64(7), f.stock.Quantity(teaKey))

	_, err = f.svc.CancelInvoice(ctx, inv.ID, CancelRequest{Reason: "void", ReturnStock: true}, cashier)
	require.NoError(t, err)
	require.Equal(t, int64(10), f.stock.Quantity(teaKey))

	// Once the return is gone the invoice is editable again.
	other, err := f.svc.CreateInvoice(ctx, CreateInvoiceRequest{BranchID: 3, Lines: lines}, cashier)
	require.NoError(t, err)
	otherInv, err := f.svc.GetInvoice(ctx, other.InvoiceID)
	require.NoError(t, err)
	ret, err = f.svc.RecordReturn(ctx, ReturnRequest{InvoiceID: otherInv.ID, InvoiceLineID: otherInv.Lines[0].ID, Quantity: 1}, cashier)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteReturn(ctx, ret.ID, cashier))
	_, err = f.svc.EditInvoice(ctx, otherInv.ID, EditRequest{Lines: lines}, cashier)
	require.NoError(t, err)
	require.Equal(t, int64(5), f.stock.Quantity(teaKey))
}

func TestDeleteReturnOfCancelledInvoiceIsRejected(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	created, err := f.svc.CreateInvoice(ctx, CreateInvoiceRequest{BranchID: 3, Lines: []LineInput{f.line(f.tea, 3, 1)}}, cashier)
	require.NoError(t, err)
	inv, err := f.svc.GetInvoice(ctx, created.InvoiceID)
	require.NoError(t, err)

	ret, err := f.svc.RecordReturn(ctx, ReturnRequest{InvoiceID: inv.ID, InvoiceLineID: inv.Lines[0].ID, Quantity: 2}, cashier)
	require.NoError(t, err)
	_, err = f.svc.CancelInvoice(ctx, inv.ID, CancelRequest{Reason: "void", ReturnStock: true}, cashier)
	require.NoError(t, err)
	require.Equal(t, int64(10), f.stock.Quantity(teaKey))

	err = f.svc.DeleteReturn(ctx, ret.ID, cashier)
	require.ErrorIs(t, err, ErrAlreadyCancelled)
	require.Equal(t, int64(10), f.stock.Quantity(teaKey))
	returns, err := f.svc.ListReturns(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, returns, 1)
}
