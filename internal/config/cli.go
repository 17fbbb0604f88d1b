// Package config resolves the shim's command-line surface into shim.Options,
// mirroring the argp option table in original_source/src/mpirc.c: -d/--debug,
// -p/--force-proxy-run, -n/--force-non-proxy-run, -c/--attach PID, and
// --pmix-prefix PATH. Everything after the recognized flags is the launcher
// command line, passed through untouched.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zapcore"

	"github.com/microsoft/mpirshim/internal/pmix"
	"github.com/microsoft/mpirshim/internal/shim"
	"github.com/microsoft/mpirshim/pkg/logger"
)

// ParseArgs mirrors mpirc.c's argp parser: it scans args for the recognized
// flags (in any order, argp's ARGP_IN_ORDER semantics), and treats the first
// non-flag argument as the start of the launcher command line, consuming
// every remaining argument as part of it. An unknown flag before that point
// is a ConfigError.
func ParseArgs(programName string, args []string) (shim.Options, error) {
	fs := pflag.NewFlagSet(programName, pflag.ContinueOnError)
	fs.SetInterspersed(false)

	debug := fs.BoolP("debug", "d", false, "Debugging output")
	forceProxy := fs.BoolP("force-proxy-run", "p", false, "Force a proxy run (e.g., prterun)")
	forceNonProxy := fs.BoolP("force-non-proxy-run", "n", false, "Force a non-proxy run (e.g., prun)")
	attachPID := fs.IntP("attach", "c", 0, "Attach mode: PID of the launcher")
	pmixPrefix := fs.String("pmix-prefix", "", "PMIx library installation prefix")

	if err := fs.Parse(args); err != nil {
		return shim.Options{}, &shim.ConfigError{Message: err.Error()}
	}

	if *forceProxy && *forceNonProxy {
		return shim.Options{}, &shim.ConfigError{Message: "--force-proxy-run and --force-non-proxy-run are mutually exclusive"}
	}

	if *pmixPrefix != "" {
		if err := validatePMIxPrefix(*pmixPrefix); err != nil {
			return shim.Options{}, err
		}
	}

	requestedMode := shim.ModeDynamic
	switch {
	case *attachPID != 0:
		requestedMode = shim.ModeAttach
	case *forceProxy:
		requestedMode = shim.ModeProxy
	case *forceNonProxy:
		requestedMode = shim.ModeNonProxy
	}

	runArgs := fs.Args()

	if *attachPID == 0 && len(runArgs) == 0 {
		return shim.Options{}, &shim.ConfigError{Message: "no MPI application invocation specified"}
	}

	return shim.ResolveOptions(requestedMode, *attachPID, *debug, runArgs, *pmixPrefix)
}

// validatePMIxPrefix reproduces mpirc.c's --pmix-prefix validation: it must
// be an absolute, readable directory containing lib/libpmix.so (or
// lib/libpmix.dylib on Darwin).
func validatePMIxPrefix(prefix string) error {
	if !filepath.IsAbs(prefix) {
		return &shim.ConfigError{Message: fmt.Sprintf("--pmix-prefix requires an absolute path, got %q", prefix)}
	}

	if info, err := os.Stat(prefix); err != nil || !info.IsDir() {
		return &shim.ConfigError{Message: fmt.Sprintf("--pmix-prefix directory does not exist: %q", prefix)}
	}

	libName := "libpmix.so"
	if isDarwin() {
		libName = "libpmix.dylib"
	}

	libPath := filepath.Join(prefix, "lib", libName)
	if _, err := os.Stat(libPath); err != nil {
		return &shim.ConfigError{Message: fmt.Sprintf("--pmix-prefix directory does not contain lib/%s: %q", libName, prefix)}
	}

	return nil
}

// NewRootCmd builds the process entry point's cobra.Command, following the
// teacher's cmd/dcpproc entry point shape (NewRootCmd + RunE + ExecuteContext).
// Flag parsing is disabled on the command itself: the boundary between the
// shim's own flags and the wrapped launcher's flags is positional, not
// name-based (a bare "-n" means something different before and after the
// launcher token), so ParseArgs's pflag.FlagSet with SetInterspersed(false)
// does the parsing cobra's own flag set can't express. exitCode receives the
// driver's exit code on a successful RunE; a non-nil error takes precedence.
func NewRootCmd(programName string, log *logger.Logger, tracer trace.Tracer, client pmix.Client, exitCode *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:                programName + " [LAUNCHER] [ARGS] PROG [PROG-ARGS]",
		Short:              "Bridges an external debugger to a PMIx-based launcher via the MPIR Process Acquisition Interface",
		SilenceErrors:      true,
		SilenceUsage:       true,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := ParseArgs(programName, args)
			if err != nil {
				return err
			}
			if opts.Debug {
				log.SetLevel(zapcore.DebugLevel)
			}
			code, err := shim.Run(cmd.Context(), shim.RunConfig{
				Options: opts,
				Log:     log.Logger,
				Tracer:  tracer,
				PMIx:    client,
			})
			*exitCode = code
			return err
		},
	}
	return cmd
}
