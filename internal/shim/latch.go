package shim

import (
	"context"

	"github.com/davidwartell/go-onecontext/onecontext"

	"github.com/microsoft/mpirshim/pkg/concurrency"
)

// Latch is a named, reusable single-shot gate (C7): Wait blocks until Post is
// called, the shared launcher-terminated condition becomes true, or ctx is
// done, whichever happens first; after a wake it is armed again for reuse.
type Latch struct {
	name       string
	event      *concurrency.AutoResetEvent
	terminated *concurrency.AutoResetEvent
}

func newLatch(name string, terminated *concurrency.AutoResetEvent) *Latch {
	return &Latch{
		name:       name,
		event:      concurrency.NewAutoResetEvent(false),
		terminated: terminated,
	}
}

// Post satisfies one pending or future Wait.
func (l *Latch) Post() {
	l.event.Set()
}

// Wait blocks until Post is called, the launcher is observed terminated, or
// ctx is done.
func (l *Latch) Wait(ctx context.Context) {
	termCtx, stopWatch := eventContext(l.terminated)
	defer stopWatch()

	merged, cancel := onecontext.Merge(ctx, termCtx)
	defer cancel()

	select {
	case <-l.event.Wait():
	case <-merged.Done():
	}
}

// eventContext adapts an AutoResetEvent into a context.Context that is
// cancelled the first time the event fires (or is already frozen-set).
func eventContext(event *concurrency.AutoResetEvent) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-event.Wait():
		case <-ctx.Done():
			return
		}
		cancel()
	}()
	return ctx, cancel
}

// LatchSet is the fixed collection of named latches the driver coordinates
// through: registration, launch-complete, ready-for-debug, and launch-term.
type LatchSet struct {
	Registration   *Latch
	LaunchComplete *Latch
	ReadyForDebug  *Latch
	LaunchTerm     *Latch

	terminated *concurrency.AutoResetEvent
	all        []*Latch
}

func newLatchSet() *LatchSet {
	terminated := concurrency.NewAutoResetEvent(false)
	ls := &LatchSet{terminated: terminated}
	ls.Registration = newLatch("registration", terminated)
	ls.LaunchComplete = newLatch("launch-complete", terminated)
	ls.ReadyForDebug = newLatch("ready-for-debug", terminated)
	ls.LaunchTerm = newLatch("launch-term", terminated)
	ls.all = []*Latch{ls.Registration, ls.LaunchComplete, ls.ReadyForDebug, ls.LaunchTerm}
	return ls
}

// ReleaseAll marks the launcher as terminated and posts every latch, the only
// safe way to unblock the driver goroutine during abnormal termination.
func (ls *LatchSet) ReleaseAll() {
	ls.terminated.SetAndFreeze()
	for _, l := range ls.all {
		l.Post()
	}
}
