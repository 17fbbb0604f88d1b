// Package pmixreal is the placeholder production adapter slot for
// pmix.Client. The real PMIx client library is an external collaborator
// (spec §1, "explicitly out of scope") and this module deliberately does not
// bind libpmix via cgo; every method here reports a clear, typed error so a
// binary linked against this package fails loudly instead of silently, until
// a real adapter is wired in its place.
package pmixreal

import (
	"context"
	"errors"

	"github.com/microsoft/mpirshim/internal/pmix"
)

var errNotImplemented = errors.New("pmixreal: no libpmix binding is wired into this build")

type Client struct{}

func New() *Client { return &Client{} }

func (c *Client) ToolInit(ctx context.Context, opts pmix.InitOptions) error { return errNotImplemented }
func (c *Client) ToolFinalize(ctx context.Context) error                   { return errNotImplemented }

func (c *Client) Spawn(ctx context.Context, app pmix.AppContext, directives pmix.SpawnDirectives) (string, error) {
	return "", errNotImplemented
}

func (c *Client) ConnectToServer(ctx context.Context) error { return errNotImplemented }

func (c *Client) RegisterEventHandler(ctx context.Context, name string, code pmix.EventCode, filter *pmix.ProcRef, handler pmix.EventHandlerFunc, onRegistered func(int, pmix.Status)) error {
	return errNotImplemented
}

func (c *Client) DeregisterEventHandler(ctx context.Context, handlerID int) error {
	return errNotImplemented
}

func (c *Client) QueryNamespaces(ctx context.Context, launcher pmix.ProcRef) (string, error) {
	return "", errNotImplemented
}

func (c *Client) QueryProcTable(ctx context.Context, appNamespace string) ([]pmix.ProcRecord, error) {
	return nil, errNotImplemented
}

func (c *Client) GetServerInfo(ctx context.Context, key string) (string, bool) {
	return "", false
}

func (c *Client) Notify(ctx context.Context, event string, target pmix.ProcRef, info map[string]any) error {
	return errNotImplemented
}

var _ pmix.Client = (*Client)(nil)
