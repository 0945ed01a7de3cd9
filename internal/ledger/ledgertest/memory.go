// Package ledgertest provides an in-memory stock ledger for package tests.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/branch-ledger/internal/ledger"
)

// Memory is a ledger.RepositoryPort kept in maps. Transactions are serialised
// by one mutex and rolled back by restoring a snapshot.
type Memory struct {
	mu        sync.Mutex
	lines     map[ledger.Key]ledger.StockLine
	movements []ledger.Movement
	nextID    int64
}

// NewMemory constructs an empty Memory.
func NewMemory() *Memory {
	return &Memory{lines: make(map[ledger.Key]ledger.StockLine)}
}

// Seed sets a line to quantity outside any transaction and returns it.
func (m *Memory) Seed(key ledger.Key, quantity int64) ledger.StockLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	line, ok := m.lines[key]
	if !ok {
		m.nextID++
		line = ledger.StockLine{ID: m.nextID, Key: key}
	}
	line.Quantity = quantity
	m.lines[key] = line
	return line
}

// Quantity returns the current quantity, zero when missing.
func (m *Memory) Quantity(key ledger.Key) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lines[key].Quantity
}

// Movements returns a copy of the recorded movements.
func (m *Memory) Movements() []ledger.Movement {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledger.Movement, len(m.movements))
	copy(out, m.movements)
	return out
}

// Atomic runs fn with exclusive access and undoes every stock change when fn
// fails. Module test repositories call it from their WithTx.
func (m *Memory) Atomic(fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := make(map[ledger.Key]ledger.StockLine, len(m.lines))
	for k, v := range m.lines {
		lines[k] = v
	}
	movements := len(m.movements)
	nextID := m.nextID
	if err := fn(&store{m: m}); err != nil {
		m.lines = lines
		m.movements = m.movements[:movements]
		m.nextID = nextID
		return err
	}
	return nil
}

// WithTx implements ledger.RepositoryPort.
func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, ledger.Store) error) error {
	return m.Atomic(func(s ledger.Store) error {
		return fn(ctx, s)
	})
}

// GetLine implements ledger.RepositoryPort.
func (m *Memory) GetLine(_ context.Context, key ledger.Key) (ledger.StockLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	line, ok := m.lines[key]
	if !ok {
		return ledger.StockLine{}, ledger.ErrLineNotFound
	}
	return line, nil
}

// GetLineByID implements ledger.RepositoryPort.
func (m *Memory) GetLineByID(_ context.Context, id int64) (ledger.StockLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID(id)
}

// ListLines implements ledger.RepositoryPort.
func (m *Memory) ListLines(_ context.Context, filter ledger.LineFilter) ([]ledger.StockLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.StockLine
	for _, line := range m.lines {
		if filter.BranchID > 0 && line.BranchID != filter.BranchID {
			continue
		}
		if filter.ProductID > 0 && line.ProductID != filter.ProductID {
			continue
		}
		if filter.MaxQuantity != nil && line.Quantity > *filter.MaxQuantity {
			continue
		}
		out = append(out, line)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListMovements implements ledger.RepositoryPort.
func (m *Memory) ListMovements(_ context.Context, filter ledger.MovementFilter) ([]ledger.Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.Movement
	for i := len(m.movements) - 1; i >= 0; i-- {
		mv := m.movements[i]
		if filter.LineID > 0 && mv.LineID != filter.LineID {
			continue
		}
		if filter.RefModule != "" && mv.RefModule != filter.RefModule {
			continue
		}
		if filter.RefID != "" && mv.RefID != filter.RefID {
			continue
		}
		out = append(out, mv)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) byID(id int64) (ledger.StockLine, error) {
	for _, line := range m.lines {
		if line.ID == id {
			return line, nil
		}
	}
	return ledger.StockLine{}, ledger.ErrLineNotFound
}

type store struct {
	m *Memory
}

func (s *store) LockLine(_ context.Context, key ledger.Key) (ledger.StockLine, error) {
	line, ok := s.m.lines[key]
	if !ok {
		return ledger.StockLine{}, ledger.ErrLineNotFound
	}
	return line, nil
}

func (s *store) LockLineByID(_ context.Context, id int64) (ledger.StockLine, error) {
	return s.m.byID(id)
}

func (s *store) IncrementLine(_ context.Context, key ledger.Key, delta int64, noteEntry string, at time.Time) (ledger.StockLine, error) {
	line := s.line(key)
	line.Quantity += delta
	line.NotesLog = ledger.AppendNote(line.NotesLog, noteEntry)
	line.UpdatedAt = at
	s.m.lines[key] = line
	return line, nil
}

func (s *store) SetLine(_ context.Context, key ledger.Key, quantity int64, noteEntry string, at time.Time) (ledger.StockLine, error) {
	line := s.line(key)
	line.Quantity = quantity
	line.NotesLog = ledger.AppendNote(line.NotesLog, noteEntry)
	line.UpdatedAt = at
	s.m.lines[key] = line
	return line, nil
}

func (s *store) InsertMovement(_ context.Context, mv ledger.Movement) error {
	mv.ID = int64(len(s.m.movements) + 1)
	s.m.movements = append(s.m.movements, mv)
	return nil
}

func (s *store) line(key ledger.Key) ledger.StockLine {
	line, ok := s.m.lines[key]
	if !ok {
		s.m.nextID++
		line = ledger.StockLine{ID: s.m.nextID, Key: key}
	}
	return line
}
