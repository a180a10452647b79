// Package client implements the driver's resource ownership tree.
//
// A Client opens Attachments (connections). An Attachment starts
// Transactions and prepares Statements; executing a Statement that produces
// rows opens a ResultSet. Every node tracks the children it owns. Tearing a
// node down closes its remaining children first, logging a warning for each
// kind that was left open, before the node's own native handle is released.
//
// No node serializes concurrent calls: callers must not run two operations
// against the same node at once. Different attachments are independent.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/tomyedwab/nativedb/dberrors"
	"github.com/tomyedwab/nativedb/native"
)

// TransactionOptions configures StartTransaction.
type TransactionOptions = native.TransactionOptions

// Client opens attachments through a native client library.
type Client struct {
	nc     native.Client
	logger *slog.Logger

	mu          sync.Mutex
	attachments registry[*Attachment]
	disposed    bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger that receives teardown warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client over nc.
func New(nc native.Client, opts ...Option) *Client {
	c := &Client{nc: nc}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "client")
	return c
}

// Native returns the underlying native client.
func (c *Client) Native() native.Client {
	return c.nc
}

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return dberrors.AlreadyDisposed("client")
	}
	return nil
}

// Connect attaches to an existing database.
func (c *Client) Connect(ctx context.Context, opts native.ConnectOptions) (*Attachment, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	id, err := c.nc.Attach(ctx, opts)
	if err != nil {
		return nil, dberrors.NativeCallFailed("Attach", err)
	}
	return c.register(id, opts), nil
}

// CreateDatabase creates a database and attaches to it.
func (c *Client) CreateDatabase(ctx context.Context, opts native.ConnectOptions) (*Attachment, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	id, err := c.nc.CreateDatabase(ctx, opts)
	if err != nil {
		return nil, dberrors.NativeCallFailed("CreateDatabase", err)
	}
	return c.register(id, opts), nil
}

func (c *Client) register(id native.AttachmentID, opts native.ConnectOptions) *Attachment {
	a := &Attachment{
		client: c,
		opts:   opts,
		logger: c.logger.With("attachmentID", string(id)),
		h:      openHandle(id),
	}
	c.attachments.add(a)
	return a
}

// Attachments returns the attachments that are still open.
func (c *Client) Attachments() []*Attachment {
	return c.attachments.snapshot()
}

// Dispose disconnects every attachment of the client. Later calls to Connect
// or CreateDatabase fail with AlreadyDisposed.
func (c *Client) Dispose(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return dberrors.AlreadyDisposed("client")
	}
	c.disposed = true
	c.mu.Unlock()

	var errs []error
	for _, a := range c.attachments.snapshot() {
		if err := a.Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
