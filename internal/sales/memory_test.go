package sales

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/branch-ledger/internal/ledger"
	"github.com/odyssey-erp/branch-ledger/internal/ledger/ledgertest"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

type memoryState struct {
	invoices map[int64]Invoice
	lines    map[int64][]Line
	edits    []EditRecord
	returns  map[int64]Return
	loyalty  map[int64]int64
	seq      int64
	nextID   int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		invoices: make(map[int64]Invoice, len(s.invoices)),
		lines:    make(map[int64][]Line, len(s.lines)),
		edits:    append([]EditRecord(nil), s.edits...),
		returns:  make(map[int64]Return, len(s.returns)),
		loyalty:  make(map[int64]int64, len(s.loyalty)),
		seq:      s.seq,
		nextID:   s.nextID,
	}
	for k, v := range s.invoices {
		out.invoices[k] = v
	}
	for k, v := range s.lines {
		out.lines[k] = append([]Line(nil), v...)
	}
	for k, v := range s.returns {
		out.returns[k] = v
	}
	for k, v := range s.loyalty {
		out.loyalty[k] = v
	}
	return out
}

type memoryRepo struct {
	stock *ledgertest.Memory

	mu           sync.Mutex
	state        memoryState
	threshold    int64
	thresholdSet bool
	thresholdErr error
}

func newMemoryRepo(stock *ledgertest.Memory) *memoryRepo {
	return &memoryRepo{stock: stock, state: memoryState{
		invoices: make(map[int64]Invoice),
		lines:    make(map[int64][]Line),
		returns:  make(map[int64]Return),
		loyalty:  make(map[int64]int64),
	}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return m.stock.Atomic(func(store ledger.Store) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		snapshot := m.state.clone()
		if err := fn(ctx, &memoryTx{Store: store, m: m}); err != nil {
			m.state = snapshot
			return err
		}
		return nil
	})
}

func (m *memoryRepo) GetInvoice(_ context.Context, id int64) (Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoice(id)
}

func (m *memoryRepo) invoice(id int64) (Invoice, error) {
	inv, ok := m.state.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	inv.Lines = append([]Line(nil), m.state.lines[id]...)
	return inv, nil
}

func (m *memoryRepo) ListInvoices(_ context.Context, filter ListFilter) ([]Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Invoice
	for _, inv := range m.state.invoices {
		if filter.BranchID > 0 && inv.BranchID != filter.BranchID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memoryRepo) ListEdits(_ context.Context, invoiceID int64) ([]EditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EditRecord
	for _, rec := range m.state.edits {
		if rec.InvoiceID == invoiceID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListReturns(_ context.Context, invoiceID int64) ([]Return, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Return
	for _, ret := range m.state.returns {
		if ret.InvoiceID == invoiceID {
			out = append(out, ret)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) LowStockThreshold(context.Context) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold, m.thresholdSet, m.thresholdErr
}

func (m *memoryRepo) loyaltyOf(customerID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.loyalty[customerID]
}

// memoryTx runs with memoryRepo.mu held by WithTx.
type memoryTx struct {
	ledger.Store
	m *memoryRepo
}

func (t *memoryTx) id() int64 {
	t.m.state.nextID++
	return t.m.state.nextID
}

func (t *memoryTx) NextInvoiceSequence(context.Context) (int64, error) {
	t.m.state.seq++
	return t.m.state.seq, nil
}

func (t *memoryTx) InsertInvoice(_ context.Context, inv *Invoice) error {
	for _, existing := range t.m.state.invoices {
		if existing.Number == inv.Number {
			return shared.Invalid("duplicate invoice number %s", inv.Number)
		}
	}
	inv.ID = t.id()
	header := *inv
	header.Lines = nil
	t.m.state.invoices[inv.ID] = header
	return nil
}

func (t *memoryTx) InsertLines(_ context.Context, invoiceID int64, lines []Line) ([]Line, error) {
	out := make([]Line, len(lines))
	for i, l := range lines {
		l.ID = t.id()
		l.InvoiceID = invoiceID
		out[i] = l
	}
	t.m.state.lines[invoiceID] = append(t.m.state.lines[invoiceID], out...)
	return out, nil
}

func (t *memoryTx) LockInvoice(_ context.Context, id int64) (Invoice, error) {
	return t.m.invoice(id)
}

func (t *memoryTx) DeleteLines(_ context.Context, invoiceID int64) error {
	delete(t.m.state.lines, invoiceID)
	return nil
}

func (t *memoryTx) MarkCancelled(_ context.Context, id int64, reason string, stockReturned bool, at time.Time) error {
	inv := t.m.state.invoices[id]
	inv.Cancelled = true
	inv.CancelReason = reason
	inv.CancelledAt = &at
	inv.StockReturned = stockReturned
	inv.Status = StatusCancelled
	t.m.state.invoices[id] = inv
	return nil
}

func (t *memoryTx) MarkEdited(_ context.Context, id int64, subtotal, total decimal.Decimal, editedBy int64, at time.Time) error {
	inv := t.m.state.invoices[id]
	inv.Subtotal, inv.Total = subtotal, total
	inv.EditedBy, inv.EditedAt = &editedBy, &at
	inv.EditCount++
	t.m.state.invoices[id] = inv
	return nil
}

func (t *memoryTx) InsertEdit(_ context.Context, rec EditRecord) error {
	rec.ID = t.id()
	t.m.state.edits = append(t.m.state.edits, rec)
	return nil
}

func (t *memoryTx) UpdateStatus(_ context.Context, id int64, status Status) error {
	inv := t.m.state.invoices[id]
	inv.Status = status
	t.m.state.invoices[id] = inv
	return nil
}

func (t *memoryTx) AdjustLoyalty(_ context.Context, customerID, delta int64) error {
	t.m.state.loyalty[customerID] = max(0, t.m.state.loyalty[customerID]+delta)
	return nil
}

func (t *memoryTx) ReturnedQuantity(_ context.Context, invoiceLineID int64) (int64, error) {
	var qty int64
	for _, ret := range t.m.state.returns {
		if ret.InvoiceLineID == invoiceLineID {
			qty += ret.Quantity
		}
	}
	return qty, nil
}

func (t *memoryTx) InsertReturn(_ context.Context, ret *Return) error {
	ret.ID = t.id()
	t.m.state.returns[ret.ID] = *ret
	return nil
}

func (t *memoryTx) LockReturn(_ context.Context, id int64) (Return, error) {
	ret, ok := t.m.state.returns[id]
	if !ok {
		return Return{}, ErrReturnNotFound
	}
	return ret, nil
}

func (t *memoryTx) DeleteReturn(_ context.Context, id int64) error {
	delete(t.m.state.returns, id)
	return nil
}
