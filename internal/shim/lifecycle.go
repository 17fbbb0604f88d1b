package shim

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/microsoft/mpirshim/internal/pmix"
	"github.com/microsoft/mpirshim/pkg/resiliency"
)

// Init implements C2's tool-init half: it builds the mode-specific attribute
// set and calls PMIx tool init with the tool identity.
func Init(ctx context.Context, sc *Context) error {
	attrs := map[string]any{}

	switch sc.Options.Mode {
	case ModeProxy:
		attrs[pmix.AttrToolDoNotConnect] = true
		attrs[pmix.AttrLauncher] = true
	case ModeNonProxy:
		attrs[pmix.AttrConnectSystemFirst] = true
	case ModeAttach:
		attrs[pmix.AttrServerPidinfo] = sc.Options.TargetPID
	}

	if sc.Options.PMIxPrefix != "" {
		attrs[pmix.AttrPrefix] = sc.Options.PMIxPrefix
	}

	opts := pmix.InitOptions{
		ToolIdentity: sc.ToolIdentity,
		Attrs:        attrs,
		Prefix:       sc.Options.PMIxPrefix,
	}

	if err := sc.PMIx.ToolInit(ctx, opts); err != nil {
		return &PMIxError{Op: "tool_init", Status: pmix.StatusError, Message: err.Error()}
	}

	sc.MarkInitialized()
	if sc.Options.Mode == ModeNonProxy || sc.Options.Mode == ModeAttach {
		sc.IncrementSessionCount()
	}

	return nil
}

// Finalize implements C2's idempotent finalize: it only calls the underlying
// PMIx finalize when there is an outstanding init to consume, and is always
// safe to call more than once (testable property #5).
func Finalize(ctx context.Context, sc *Context) error {
	if !sc.TryConsumeInit() {
		return nil
	}

	if err := sc.PMIx.ToolFinalize(ctx); err != nil {
		return &PMIxError{Op: "tool_finalize", Status: pmix.StatusError, Message: err.Error()}
	}

	return nil
}

// connectRetryPolicy bounds the PROXY connect-to-server retry loop; the
// overall connectTimeout budget is enforced by RunWithTimeout in
// ConnectToServer.
func connectRetryPolicy() backoff.BackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(50*time.Millisecond),
		backoff.WithMaxInterval(500*time.Millisecond),
	)
}

// connectTimeout is the PMIx-server connect budget from spec §5
// ("cancellation & timeouts"). A package-level var so tests can shrink it
// instead of waiting out the full production timeout.
var connectTimeout = 10 * time.Second

// ConnectToServer performs the PROXY-mode deferred connect within
// connectTimeout, incrementing the session count on success.
func ConnectToServer(ctx context.Context, sc *Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var connectErr error
	completed := resiliency.RunWithTimeout(func() {
		_, connectErr = resiliency.RetryGet(connectCtx, connectRetryPolicy(), func() (struct{}, error) {
			return struct{}{}, sc.PMIx.ConnectToServer(connectCtx)
		})
	}, connectTimeout+time.Second)

	if !completed || connectErr != nil {
		msg := fmt.Sprintf("timed out after %s", connectTimeout)
		if connectErr != nil {
			msg = connectErr.Error()
		}
		return &PMIxError{Op: "connect_to_server", Status: pmix.StatusError, Message: msg}
	}

	sc.IncrementSessionCount()
	return nil
}
