package shim

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

// shrinkConnectTimeout lowers the package-level connect budget for the
// duration of a test so error-path tests don't wait out the real 10s window.
func shrinkConnectTimeout(t *testing.T, d time.Duration) {
	t.Helper()
	prev := connectTimeout
	connectTimeout = d
	t.Cleanup(func() { connectTimeout = prev })
}
