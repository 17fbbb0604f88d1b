package shim

import (
	"context"

	"github.com/microsoft/mpirshim/internal/pmix"
)

// ReleaseLauncher implements the first half of C6: it notifies the launcher
// (rank 0) that the debugger has attached, letting it proceed past its own
// stop-in-init point. This happens before the application is even spawned.
func ReleaseLauncher(ctx context.Context, sc *Context) error {
	info := map[string]any{
		pmix.AttrEventNonDefault: true,
	}

	if err := sc.PMIx.Notify(ctx, pmix.AttrDebuggerRelease, sc.LauncherIdentity, info); err != nil {
		return &PMIxError{Op: "notify_release_launcher", Status: pmix.StatusError, Message: err.Error()}
	}

	return nil
}

// ReleaseApplication implements the second half of C6: it notifies every
// application rank that the debugger has finished its inspection, the PMIx
// analogue of MPIR's "set MPIR_debug_state and let mpirun continue" handshake.
func ReleaseApplication(ctx context.Context, sc *Context) error {
	appIdentity, ready := sc.AppIdentityReady()
	if !ready {
		return newFatal("release requested before the application namespace was known")
	}

	info := map[string]any{
		pmix.AttrEventNonDefault: true,
	}

	target := pmix.ProcRef{Namespace: appIdentity.Namespace, Rank: pmix.RankWildcard}
	if err := sc.PMIx.Notify(ctx, pmix.AttrDebuggerRelease, target, info); err != nil {
		return &PMIxError{Op: "notify_release_application", Status: pmix.StatusError, Message: err.Error()}
	}

	return nil
}
