package shared

import (
	"fmt"
	"hash/fnv"
)

// LowStockAlertKey builds the redis key used to de-duplicate low-stock alerts
// for one stock line.
func LowStockAlertKey(branchID, stockLineID int64) string {
	return fmt.Sprintf("ledger:lowstock:%d:%d", branchID, stockLineID)
}

// AdvisoryLockKey maps a named critical section onto a postgres advisory lock id.
func AdvisoryLockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}
