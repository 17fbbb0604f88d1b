package shim

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/microsoft/mpirshim/internal/mpir"
)

// ShutdownHooks is Go's stand-in for the original's atexit chain: a list of
// idempotent cleanup steps run exactly once, from either the signal handler
// or the normal end of Run.
type ShutdownHooks struct {
	mu   sync.Mutex
	once sync.Once
	fns  []func()
}

func NewShutdownHooks() *ShutdownHooks {
	return &ShutdownHooks{}
}

func (h *ShutdownHooks) Add(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, fn)
}

func (h *ShutdownHooks) Run() {
	h.once.Do(func() {
		h.mu.Lock()
		fns := append([]func(){}, h.fns...)
		h.mu.Unlock()
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	})
}

// DefaultHooks returns the cleanup steps every run needs regardless of mode
// or how it terminates: finalize the PMIx tool session, then free the MPIR
// proc table. Run executes hooks LIFO, so FreeProcTable is added first here
// to run last, after Finalize has torn down the tool session.
func DefaultHooks(sc *Context) *ShutdownHooks {
	h := NewShutdownHooks()
	h.Add(mpir.FreeProcTable)
	h.Add(func() {
		_ = Finalize(context.Background(), sc)
	})
	return h
}

// InstallSignalHandler implements C8: HUP/INT/TERM run the shutdown hooks
// and exit(1), mirroring the original's signal-driven cleanup since Go has
// no native atexit.
func InstallSignalHandler(hooks *ShutdownHooks) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			hooks.Run()
			osExit(1)
		case <-done:
		}
	}()

	return func() {
		close(done)
		signal.Stop(sigCh)
	}
}
