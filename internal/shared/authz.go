package shared

import "strings"

// Capabilities supplied by the branch/user directory.
const (
	CapInvoiceEditCompleted = "invoice.edit_completed"
	CapStockCorrect         = "stock.correct"
	CapTransferView         = "transfer.view"
)

// LedgerScopes lists every capability understood by the ledger workflows.
func LedgerScopes() []string {
	return []string{
		CapInvoiceEditCompleted,
		CapStockCorrect,
		CapTransferView,
	}
}

// ParseCapabilities splits a comma separated capability header.
func ParseCapabilities(raw string) map[string]bool {
	caps := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		caps[part] = true
	}
	return caps
}
