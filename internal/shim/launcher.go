package shim

import (
	"context"
	"os"

	"github.com/microsoft/mpirshim/internal/pmix"
)

// LaunchLauncher implements C4: it builds the launcher's app context and
// spawn directives, spawns it through PMIx, and records the launcher's
// identity (the spawned namespace, rank 0) from the spawn result in every
// mode.
func LaunchLauncher(ctx context.Context, sc *Context) error {
	if len(sc.Options.RunArgs) == 0 {
		return newFatal("no launcher command line was provided")
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}

	app := pmix.AppContext{
		Command:  sc.Options.RunArgs[0],
		Argv:     sc.Options.RunArgs,
		Cwd:      cwd,
		MaxProcs: 1,
	}

	// LAUNCHER_RNDZ_URI is exported in both PROXY and NONPROXY as the
	// launcher's rendezvous channel; only PROXY additionally forwards the
	// shim's whole environment.
	if sc.Options.Mode == ModeProxy || sc.Options.Mode == ModeNonProxy {
		if sc.Options.Mode == ModeProxy {
			app.Env = os.Environ()
		}
		if uri, ok := sc.PMIx.GetServerInfo(ctx, pmix.AttrMyServerURI); ok {
			app.Env = append(app.Env, pmix.EnvLauncherRendezvousURI+"="+uri)
		} else if uri, ok := sc.PMIx.GetServerInfo(ctx, pmix.AttrServerURI); ok {
			app.Env = append(app.Env, pmix.EnvLauncherRendezvousURI+"="+uri)
		}
	}

	directives := pmix.SpawnDirectives{
		pmix.AttrMapBy:            "slot",
		pmix.AttrFwdStdout:        true,
		pmix.AttrFwdStderr:        true,
		pmix.AttrNotifyCompletion: true,
		pmix.AttrNotifyJobEvents:  true,
		pmix.AttrLaunchDirectives: map[string]any{
			pmix.AttrDebugStopInInit: true,
		},
	}

	namespace, err := sc.PMIx.Spawn(ctx, app, directives)
	if err != nil {
		return &PMIxError{Op: "spawn_launcher", Status: pmix.StatusError, Message: err.Error()}
	}

	sc.LauncherIdentity = pmix.ProcRef{Namespace: namespace, Rank: 0}

	return nil
}
