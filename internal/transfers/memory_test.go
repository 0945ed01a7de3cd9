package transfers

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/odyssey-erp/branch-ledger/internal/ledger"
	"github.com/odyssey-erp/branch-ledger/internal/ledger/ledgertest"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

type memoryState struct {
	transfers map[int64]Transfer
	approvals []shared.ApprovalLog
	seq       int64
	nextID    int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		transfers: make(map[int64]Transfer, len(s.transfers)),
		approvals: append([]shared.ApprovalLog(nil), s.approvals...),
		seq:       s.seq,
		nextID:    s.nextID,
	}
	for k, v := range s.transfers {
		v.Lines = append([]Line(nil), v.Lines...)
		out.transfers[k] = v
	}
	return out
}

type memoryRepo struct {
	stock *ledgertest.Memory

	mu    sync.Mutex
	state memoryState
}

func newMemoryRepo(stock *ledgertest.Memory) *memoryRepo {
	return &memoryRepo{stock: stock, state: memoryState{transfers: make(map[int64]Transfer)}}
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

func (m *memoryRepo) GetTransfer(_ context.Context, id int64) (Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transfer(id)
}

func (m *memoryRepo) transfer(id int64) (Transfer, error) {
	t, ok := m.state.transfers[id]
	if !ok {
		return Transfer{}, ErrTransferNotFound
	}
	t.Lines = append([]Line(nil), t.Lines...)
	return t, nil
}

func (m *memoryRepo) ListTransfers(_ context.Context, req ListRequest) ([]Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transfer
	for _, t := range m.state.transfers {
		if req.Status != "" && t.Status != req.Status {
			continue
		}
		switch req.Direction {
		case DirectionIncoming:
			if t.ToBranchID != req.BranchID {
				continue
			}
		case DirectionOutgoing:
			if t.FromBranchID != req.BranchID {
				continue
			}
		default:
			if req.BranchID > 0 && t.FromBranchID != req.BranchID && t.ToBranchID != req.BranchID {
				continue
			}
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memoryRepo) ListApprovals(_ context.Context, refID uuid.UUID) ([]shared.ApprovalLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []shared.ApprovalLog
	for _, log := range m.state.approvals {
		if log.RefID == refID {
			out = append(out, log)
		}
	}
	return out, nil
}

func (m *memoryRepo) InTransitLines(_ context.Context, branchID int64) ([]InTransitItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.state.transfers))
	for id := range m.state.transfers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []InTransitItem
	for _, id := range ids {
		t := m.state.transfers[id]
		if t.Status != StatusInTransit && t.Status != StatusCompleted {
			continue
		}
		if branchID > 0 && t.FromBranchID != branchID && t.ToBranchID != branchID {
			continue
		}
		for _, l := range t.Lines {
			received := l.QuantityReceived
			if t.Status == StatusInTransit {
				received = 0
			}
			if l.QuantityApproved <= received {
				continue
			}
			out = append(out, InTransitItem{
				TransferID:   t.ID,
				Number:       t.Number,
				Status:       t.Status,
				FromBranchID: t.FromBranchID,
				ToBranchID:   t.ToBranchID,
				ProductID:    l.ProductID,
				VariantID:    l.VariantID,
				Approved:     l.QuantityApproved,
				Received:     received,
				Outstanding:  l.QuantityApproved - received,
			})
		}
	}
	return out, nil
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

func (t *memoryTx) NextNumber(context.Context) (int64, error) {
	t.m.state.seq++
	return t.m.state.seq, nil
}

func (t *memoryTx) InsertTransfer(_ context.Context, tr *Transfer) error {
	tr.ID = t.id()
	for i := range tr.Lines {
		tr.Lines[i].ID = t.id()
		tr.Lines[i].TransferID = tr.ID
	}
	stored := *tr
	stored.Lines = append([]Line(nil), tr.Lines...)
	t.m.state.transfers[tr.ID] = stored
	return nil
}

func (t *memoryTx) LockTransfer(_ context.Context, id int64) (Transfer, error) {
	return t.m.transfer(id)
}

func (t *memoryTx) UpdateTransfer(_ context.Context, tr Transfer) error {
	stored, ok := t.m.state.transfers[tr.ID]
	if !ok {
		return ErrTransferNotFound
	}
	lines := stored.Lines
	stored = tr
	stored.Lines = lines
	t.m.state.transfers[tr.ID] = stored
	return nil
}

func (t *memoryTx) UpdateLine(_ context.Context, line Line) error {
	stored := t.m.state.transfers[line.TransferID]
	for i := range stored.Lines {
		if stored.Lines[i].ID == line.ID {
			stored.Lines[i] = line
		}
	}
	t.m.state.transfers[line.TransferID] = stored
	return nil
}

func (t *memoryTx) DeleteTransfer(_ context.Context, id int64) error {
	delete(t.m.state.transfers, id)
	return nil
}

func (t *memoryTx) RecordApproval(_ context.Context, log shared.ApprovalLog) error {
	log.ID = t.id()
	t.m.state.approvals = append(t.m.state.approvals, log)
	return nil
}
