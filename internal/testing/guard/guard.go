// Package guard flags the process as a test run so entrypoints skip opening
// postgres, redis and listeners. Blank-import it from test packages.
package guard

import (
	"os"
	"sync"
)

const testModeEnv = "FULFILLMENT_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(testModeEnv) == "" {
			_ = os.Setenv(testModeEnv, "1")
		}
	})
}
