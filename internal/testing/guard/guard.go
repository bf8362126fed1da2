// Package guard switches the process into test mode when imported, so
// binaries exercised from tests skip network startup.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("KBT_TEST_MODE") == "" {
			_ = os.Setenv("KBT_TEST_MODE", "1")
		}
	})
}
