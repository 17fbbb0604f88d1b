package shim

import (
	"fmt"

	"github.com/microsoft/mpirshim/internal/pmix"
)

// ConfigError reports a configuration problem (bad mode, bad PID) discovered
// before any PMIx call is made. No PMIx cleanup is required for this class.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// PMIxError reports a failed PMIx operation. The caller is expected to run
// finalize before surfacing this as a failure.
type PMIxError struct {
	Op      string
	Status  pmix.Status
	Message string
}

func (e *PMIxError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("pmix operation %q failed: %s", e.Op, e.Status)
	}
	return fmt.Sprintf("pmix operation %q failed: %s: %s", e.Op, e.Status, e.Message)
}

// FatalError reports a fatal invariant violation (missing namespace,
// malformed proctable, nil query result). The process is expected to
// finalize and exit(1) after logging it, mirroring pmix_fatal_error.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string {
	return e.Message
}

func newFatal(format string, args ...any) *FatalError {
	return &FatalError{Message: fmt.Sprintf(format, args...)}
}
