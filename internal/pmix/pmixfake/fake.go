// Package pmixfake provides an in-process, scriptable stand-in for a real
// PMIx tool connection, used to drive scenario-style tests of the
// coordination core (internal/shim) without a real PMIx server or launcher.
package pmixfake

import (
	"context"
	"fmt"
	"sync"

	"github.com/smallnest/chanx"

	"github.com/microsoft/mpirshim/internal/pmix"
)

type registration struct {
	id      int
	code    pmix.EventCode
	filter  *pmix.ProcRef
	handler pmix.EventHandlerFunc
}

// SpawnResult configures what Spawn should return.
type SpawnResult struct {
	Namespace string
	Err       error
}

// SpawnCall records one observed Spawn invocation, for assertions about the
// app context/directives the coordination core built.
type SpawnCall struct {
	App        pmix.AppContext
	Directives pmix.SpawnDirectives
}

// Client is a fake pmix.Client. All scripted responses are set before use;
// the fields are read under Client.mu so scripts may also be set concurrently
// from a driving test goroutine (e.g. to arm a response right before
// triggering the event that causes it to be consulted).
type Client struct {
	mu sync.Mutex

	initCount     int
	initErr       error
	finalizeErr   error
	connectErr    error
	notifyErr     error
	nextHandlerID int
	regs          []registration
	serverInfo    map[string]string
	spawnResult   SpawnResult
	spawnCalls    []SpawnCall
	namespaceResp string
	namespaceErr  error
	proctableResp []pmix.ProcRecord
	proctableErr  error
	notifications []NotifyCall

	queue      *chanx.UnboundedChan[pmix.EventNotification]
	dispatchWG sync.WaitGroup
}

// NotifyCall records one observed Notify invocation.
type NotifyCall struct {
	Event  string
	Target pmix.ProcRef
	Info   map[string]any
}

// New creates a fake client with an empty script; use the With* setters to
// arm responses before exercising the coordination core against it.
func New() *Client {
	c := &Client{
		serverInfo: map[string]string{},
		queue:      chanx.NewUnboundedChan[pmix.EventNotification](context.Background(), 16),
	}
	c.dispatchWG.Add(1)
	go c.dispatchLoop()
	return c
}

func (c *Client) dispatchLoop() {
	defer c.dispatchWG.Done()
	for ev := range c.queue.Out {
		c.mu.Lock()
		matches := make([]registration, 0, 1)
		for _, r := range c.regs {
			if r.code != pmix.EventAny && r.code != ev.Code {
				continue
			}
			if r.filter != nil && r.filter.Namespace != ev.Source.Namespace {
				continue
			}
			matches = append(matches, r)
		}
		c.mu.Unlock()

		for _, r := range matches {
			done := make(chan struct{})
			r.handler(context.Background(), ev, func(pmix.Status) { close(done) })
			<-done
		}
	}
}

// Close stops the dispatch loop. Safe to call once, after the test is done
// triggering events.
func (c *Client) Close() {
	close(c.queue.In)
	c.dispatchWG.Wait()
}

// Trigger enqueues an event notification to be delivered to every matching
// registered handler, in registration order, on the fake's dispatch goroutine
// (never on the caller's goroutine, mirroring a real PMIx callback thread).
func (c *Client) Trigger(ev pmix.EventNotification) {
	c.queue.In <- ev
}

func (c *Client) SetInitErr(err error)          { c.mu.Lock(); defer c.mu.Unlock(); c.initErr = err }
func (c *Client) SetFinalizeErr(err error)       { c.mu.Lock(); defer c.mu.Unlock(); c.finalizeErr = err }
func (c *Client) SetConnectErr(err error)        { c.mu.Lock(); defer c.mu.Unlock(); c.connectErr = err }
func (c *Client) SetNotifyErr(err error)         { c.mu.Lock(); defer c.mu.Unlock(); c.notifyErr = err }
func (c *Client) SetServerInfo(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serverInfo[key] = value
}
func (c *Client) SetSpawnResult(r SpawnResult) { c.mu.Lock(); defer c.mu.Unlock(); c.spawnResult = r }
func (c *Client) SetNamespaceResponse(ns string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.namespaceResp, c.namespaceErr = ns, err
}
func (c *Client) SetProcTableResponse(recs []pmix.ProcRecord, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proctableResp, c.proctableErr = recs, err
}

// InitCount returns how many successful ToolInit calls have not yet been
// balanced by a ToolFinalize, for assertions about idempotent finalize.
func (c *Client) InitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initCount
}

// Notifications returns a copy of every Notify() call recorded so far.
func (c *Client) Notifications() []NotifyCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]NotifyCall, len(c.notifications))
	copy(out, c.notifications)
	return out
}

func (c *Client) ToolInit(ctx context.Context, opts pmix.InitOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initErr != nil {
		return c.initErr
	}
	c.initCount++
	return nil
}

func (c *Client) ToolFinalize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalizeErr != nil {
		return c.finalizeErr
	}
	if c.initCount > 0 {
		c.initCount--
	}
	return nil
}

func (c *Client) Spawn(ctx context.Context, app pmix.AppContext, directives pmix.SpawnDirectives) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spawnCalls = append(c.spawnCalls, SpawnCall{App: app, Directives: directives})
	return c.spawnResult.Namespace, c.spawnResult.Err
}

// SpawnCalls returns a copy of every Spawn() call recorded so far.
func (c *Client) SpawnCalls() []SpawnCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SpawnCall, len(c.spawnCalls))
	copy(out, c.spawnCalls)
	return out
}

// RegisteredHandlerCount returns the number of event handlers currently
// registered (i.e. not yet deregistered).
func (c *Client) RegisteredHandlerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.regs)
}

func (c *Client) ConnectToServer(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectErr
}

func (c *Client) RegisterEventHandler(ctx context.Context, name string, code pmix.EventCode, filter *pmix.ProcRef, handler pmix.EventHandlerFunc, onRegistered func(int, pmix.Status)) error {
	c.mu.Lock()
	c.nextHandlerID++
	id := c.nextHandlerID
	c.regs = append(c.regs, registration{id: id, code: code, filter: filter, handler: handler})
	c.mu.Unlock()

	// Real PMIx delivers the registration-completion callback asynchronously,
	// on its own progress thread; a goroutine here preserves that "the caller
	// must not assume completion before onRegistered fires" contract even
	// though the fake resolves it near-instantly.
	go onRegistered(id, pmix.StatusSuccess)
	return nil
}

func (c *Client) DeregisterEventHandler(ctx context.Context, handlerID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.regs {
		if r.id == handlerID {
			c.regs = append(c.regs[:i], c.regs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no such handler id %d", handlerID)
}

func (c *Client) QueryNamespaces(ctx context.Context, launcher pmix.ProcRef) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.namespaceResp, c.namespaceErr
}

func (c *Client) QueryProcTable(ctx context.Context, appNamespace string) ([]pmix.ProcRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proctableResp, c.proctableErr
}

func (c *Client) GetServerInfo(ctx context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.serverInfo[key]
	return v, ok
}

func (c *Client) Notify(ctx context.Context, event string, target pmix.ProcRef, info map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications = append(c.notifications, NotifyCall{Event: event, Target: target, Info: info})
	return c.notifyErr
}

var _ pmix.Client = (*Client)(nil)
