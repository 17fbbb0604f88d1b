package shim

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/trace"

	"github.com/microsoft/mpirshim/internal/pmix"
)

// RunConfig bundles Run's dependencies so tests can substitute a fake PMIx
// client and suppress the final application-release step.
type RunConfig struct {
	Options Options
	Log     logr.Logger
	Tracer  trace.Tracer
	PMIx    pmix.Client

	// SkipRelease, when true, stops the driver immediately after the proc
	// table is published, before the application-release half of C6.
	// Test-only: lets scenario tests observe the acquired-but-not-released
	// state. Run then returns 0 without waiting for the launcher to exit.
	SkipRelease bool
}

// Run executes the full driver sequence from spec §4.10, step by step:
// resolve/init/register-default (the caller has already run C1), then either
// the PROXY/NONPROXY launch sequence or the ATTACH discovery sequence, then
// proctable materialisation, then (non-ATTACH) release and wait for the
// launcher to exit.
func Run(ctx context.Context, cfg RunConfig) (exitCode int, err error) {
	sc := NewContext(cfg.Options, cfg.Log, cfg.Tracer, cfg.PMIx)

	hooks := DefaultHooks(sc)
	stopSignals := InstallSignalHandler(hooks)
	defer stopSignals()
	defer hooks.Run()

	if err := Init(ctx, sc); err != nil {
		return 1, err
	}

	registry := NewRegistry(sc)
	hooks.Add(func() { registry.DeregisterAll(context.Background()) })

	if _, err := registry.RegisterDefault(ctx); err != nil {
		return 1, err
	}

	switch sc.Options.Mode {
	case ModeProxy, ModeNonProxy:
		if err := runLaunch(ctx, sc, registry, cfg.SkipRelease); err != nil {
			return 1, err
		}
	case ModeAttach:
		if err := ResolveAttachTargets(ctx, sc); err != nil {
			return 1, err
		}
		if err := ResolveProcTable(ctx, sc); err != nil {
			return 1, err
		}
		return 0, nil
	default:
		return 1, &ConfigError{Message: fmt.Sprintf("cannot run with unresolved mode %s", sc.Options.Mode)}
	}

	if cfg.SkipRelease {
		return 0, nil
	}

	sc.Latches.LaunchTerm.Wait(ctx)
	return sc.LauncherExitCode(), nil
}

// runLaunch implements spec §4.10 step 2, the PROXY/NONPROXY sequence: spawn
// the launcher, connect if PROXY, register the launcher-terminate and
// launcher-ready handlers (order matters — they must not be registered before
// the connect completes), release the launcher, register launcher-complete,
// wait for readiness, materialise the proc table, and (PROXY only) register
// application-terminate before releasing the application.
func runLaunch(ctx context.Context, sc *Context, registry *Registry, skipRelease bool) error {
	if err := LaunchLauncher(ctx, sc); err != nil {
		return err
	}

	if sc.Options.Mode == ModeProxy {
		if err := ConnectToServer(ctx, sc); err != nil {
			return err
		}
	}

	if _, err := registry.RegisterLauncherTerminated(ctx); err != nil {
		return err
	}
	if _, err := registry.RegisterLauncherReady(ctx); err != nil {
		return err
	}

	if err := ReleaseLauncher(ctx, sc); err != nil {
		return err
	}

	if _, err := registry.RegisterLauncherComplete(ctx); err != nil {
		return err
	}

	sc.Latches.LaunchComplete.Wait(ctx)
	sc.Latches.ReadyForDebug.Wait(ctx)

	// The launcher may have terminated (e.g. crashed before spawning the
	// application) instead of ever reaching readiness; both latches above are
	// also woken by MarkLauncherTerminated's ReleaseAll, so this is the
	// signal that the wake was abnormal rather than genuine readiness (spec
	// S4). In that case the acquisition sequence stops here and the driver
	// reports the launcher's exit code instead of chasing a proc table that
	// will never exist.
	if sc.LauncherTerminatedBy() != LauncherTerminatedNone {
		return nil
	}

	if _, ready := sc.AppIdentityReady(); !ready {
		return newFatal("launcher reported readiness without an application namespace")
	}

	if err := ResolveProcTable(ctx, sc); err != nil {
		return err
	}

	if skipRelease {
		return nil
	}

	if sc.Options.Mode == ModeProxy {
		if _, err := registry.RegisterApplicationTerminated(ctx); err != nil {
			return err
		}
	}

	return ReleaseApplication(ctx, sc)
}
