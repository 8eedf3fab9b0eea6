// Package guard flags the process as a test run so binaries refuse to start
// with production side effects. Blank-import it from test packages.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("LEXOFIS_TEST_MODE") == "" {
			_ = os.Setenv("LEXOFIS_TEST_MODE", "1")
		}
	})
}
