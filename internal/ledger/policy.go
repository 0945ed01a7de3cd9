package ledger

// Policy decides whether a delta may be applied to a line.
type Policy interface {
	Check(line StockLine, delta int64) error
	Name() string
}

// Permissive lets deductions drive quantity below zero. A negative balance is
// the oversell signal.
type Permissive struct{}

func (Permissive) Check(StockLine, int64) error { return nil }

func (Permissive) Name() string { return "permissive" }

// StrictCheck rejects any delta that leaves the line below zero.
type StrictCheck struct{}

func (StrictCheck) Check(line StockLine, delta int64) error {
	if delta >= 0 || line.Quantity+delta >= 0 {
		return nil
	}
	return &ShortageError{Key: line.Key, Required: -delta, Available: line.Quantity}
}

func (StrictCheck) Name() string { return "strict" }

// PolicyFor returns StrictCheck when strict is set, Permissive otherwise.
func PolicyFor(strict bool) Policy {
	if strict {
		return StrictCheck{}
	}
	return Permissive{}
}
