package shim

import (
	"fmt"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/process"
)

// Mode is the shim's run mode.
type Mode int

const (
	// ModeDynamic is resolved to ModeProxy or ModeNonProxy at startup by
	// examining the invocation's program name.
	ModeDynamic Mode = iota
	ModeProxy
	ModeNonProxy
	ModeAttach
)

func (m Mode) String() string {
	switch m {
	case ModeProxy:
		return "proxy"
	case ModeNonProxy:
		return "non-proxy"
	case ModeAttach:
		return "attach"
	default:
		return "dynamic"
	}
}

// Options bundles the resolved configuration used to run the shim, the
// equivalent of the original's process_options.
type Options struct {
	Mode       Mode
	TargetPID  int
	Debug      bool
	RunArgs    []string
	PMIxPrefix string
}

// pidExists reports whether pid names a live process. Overridable in tests.
var pidExists = func(pid int) (bool, error) {
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return false, err
	}
	return exists, nil
}

// ResolveOptions implements C1: it resolves the effective run mode from the
// requested mode and the wrapped launcher command, validates the attach PID,
// and captures the launcher command line ("run args").
//
// DYNAMIC resolution dispatches on argv[0] of the launcher being wrapped
// (run_args[0] in the original: mpirshim.c:696-710), not on the shim's own
// binary name — the shim is always invoked as "mpirshim" or similar, so its
// own name carries no launcher-family information.
func ResolveOptions(requestedMode Mode, targetPID int, debug bool, runArgs []string, pmixPrefix string) (Options, error) {
	mode := requestedMode
	if mode == ModeDynamic {
		mode = ModeProxy
		if len(runArgs) > 0 && filepath.Base(runArgs[0]) == "prun" {
			mode = ModeNonProxy
		}
	}

	if mode == ModeAttach {
		if targetPID <= 0 {
			return Options{}, &ConfigError{Message: fmt.Sprintf("attach mode requires a positive target pid, got %d", targetPID)}
		}

		exists, err := pidExists(targetPID)
		if err != nil {
			return Options{}, &ConfigError{Message: fmt.Sprintf("failed to check target pid %d: %v", targetPID, err)}
		}
		if !exists {
			return Options{}, &ConfigError{Message: fmt.Sprintf("no process found with pid %d", targetPID)}
		}
	}

	return Options{
		Mode:       mode,
		TargetPID:  targetPID,
		Debug:      debug,
		RunArgs:    runArgs,
		PMIxPrefix: pmixPrefix,
	}, nil
}
