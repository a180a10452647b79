package pool

import (
	"context"

	"github.com/tomyedwab/nativedb/client"
	"github.com/tomyedwab/nativedb/codec"
	"github.com/tomyedwab/nativedb/dberrors"
	"github.com/tomyedwab/nativedb/native"
)

var _ client.Connection = (*Conn)(nil)

// Conn is a borrowed connection. It forwards data calls to the pooled
// attachment until Disconnect gives it back; after that every call fails
// with AlreadyDisposed.
type Conn struct {
	pool *Pool
	slot *slot
}

// target returns the attachment while c is the slot's current borrower.
func (c *Conn) target() (*client.Attachment, error) {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	if c.slot.proxy != c {
		return nil, dberrors.AlreadyDisposed("pooled connection")
	}
	return c.slot.att, nil
}

// Attachment returns the underlying attachment, or nil once c was released.
func (c *Conn) Attachment() *client.Attachment {
	att, err := c.target()
	if err != nil {
		return nil
	}
	return att
}

// IsValid reports whether c is still borrowed and its attachment open.
func (c *Conn) IsValid() bool {
	att, err := c.target()
	return err == nil && att.IsValid()
}

// Disconnect gives the connection back to the pool. Transactions and
// statements left open are closed first. The attachment is only closed for
// real when the pool has already let go of it, after Destroy or eviction.
// Once c has been given back it no longer refers to any attachment, since
// the slot may already be lent to another borrower, and Disconnect returns
// AlreadyDisposed.
func (c *Conn) Disconnect(ctx context.Context) error {
	return c.pool.release(ctx, c)
}

// Connect is not available on a pooled connection.
func (c *Conn) Connect(context.Context, native.ConnectOptions) error {
	return forbidden("Connect")
}

// CreateDatabase is not available on a pooled connection.
func (c *Conn) CreateDatabase(context.Context, native.ConnectOptions) error {
	return forbidden("CreateDatabase")
}

// DropDatabase is not available on a pooled connection.
func (c *Conn) DropDatabase(context.Context) error {
	return forbidden("DropDatabase")
}

func forbidden(call string) error {
	return dberrors.Newf(dberrors.ErrorTypeInvalidForPooledConnection, "%s is not allowed on a pooled connection", call)
}

func (c *Conn) Ping(ctx context.Context) error {
	att, err := c.target()
	if err != nil {
		return err
	}
	return att.Ping(ctx)
}

func (c *Conn) StartTransaction(ctx context.Context, opts client.TransactionOptions) (*client.Transaction, error) {
	att, err := c.target()
	if err != nil {
		return nil, err
	}
	return att.StartTransaction(ctx, opts)
}

func (c *Conn) Prepare(ctx context.Context, tr *client.Transaction, sql string) (*client.Statement, error) {
	att, err := c.target()
	if err != nil {
		return nil, err
	}
	return att.Prepare(ctx, tr, sql)
}

func (c *Conn) Execute(ctx context.Context, tr *client.Transaction, sql string, params any) (int64, error) {
	att, err := c.target()
	if err != nil {
		return 0, err
	}
	return att.Execute(ctx, tr, sql, params)
}

func (c *Conn) ExecuteQuery(ctx context.Context, tr *client.Transaction, sql string, params any) (*client.ResultSet, error) {
	att, err := c.target()
	if err != nil {
		return nil, err
	}
	return att.ExecuteQuery(ctx, tr, sql, params)
}

func (c *Conn) ExecuteSingleton(ctx context.Context, tr *client.Transaction, sql string, params any) ([]any, error) {
	att, err := c.target()
	if err != nil {
		return nil, err
	}
	return att.ExecuteSingleton(ctx, tr, sql, params)
}

func (c *Conn) ExecuteSingletonAsObject(ctx context.Context, tr *client.Transaction, sql string, params any) (map[string]any, error) {
	att, err := c.target()
	if err != nil {
		return nil, err
	}
	return att.ExecuteSingletonAsObject(ctx, tr, sql, params)
}

func (c *Conn) ExecuteReturning(ctx context.Context, tr *client.Transaction, sql string, params any) ([]any, error) {
	att, err := c.target()
	if err != nil {
		return nil, err
	}
	return att.ExecuteReturning(ctx, tr, sql, params)
}

func (c *Conn) ExecuteReturningAsObject(ctx context.Context, tr *client.Transaction, sql string, params any) (map[string]any, error) {
	att, err := c.target()
	if err != nil {
		return nil, err
	}
	return att.ExecuteReturningAsObject(ctx, tr, sql, params)
}

func (c *Conn) ExecuteTransaction(ctx context.Context, opts client.TransactionOptions, fn func(ctx context.Context, tr *client.Transaction) error) error {
	att, err := c.target()
	if err != nil {
		return err
	}
	return att.ExecuteTransaction(ctx, opts, fn)
}

func (c *Conn) CreateBlob(ctx context.Context, tr *client.Transaction) (*client.BlobStream, error) {
	att, err := c.target()
	if err != nil {
		return nil, err
	}
	return att.CreateBlob(ctx, tr)
}

func (c *Conn) OpenBlob(ctx context.Context, tr *client.Transaction, blob codec.BlobLinker) (*client.BlobStream, error) {
	att, err := c.target()
	if err != nil {
		return nil, err
	}
	return att.OpenBlob(ctx, tr, blob)
}

func (c *Conn) ReadBlob(ctx context.Context, tr *client.Transaction, blob codec.BlobLinker) ([]byte, error) {
	att, err := c.target()
	if err != nil {
		return nil, err
	}
	return att.ReadBlob(ctx, tr, blob)
}
