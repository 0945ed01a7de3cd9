// Package guard switches binaries into test mode when imported by a test.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("BRANCH_LEDGER_TEST_MODE") == "" {
			_ = os.Setenv("BRANCH_LEDGER_TEST_MODE", "1")
		}
	})
}
