package driver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"

	"github.com/tomyedwab/nativedb/client"
	"github.com/tomyedwab/nativedb/dberrors"
	"github.com/tomyedwab/nativedb/native"
)

// Conn is a database/sql connection over one client connection.
type Conn struct {
	cn client.Connection
	tx *Tx // explicit transaction, if one is open
}

var (
	_ driver.Conn               = (*Conn)(nil)
	_ driver.ConnPrepareContext = (*Conn)(nil)
	_ driver.ConnBeginTx        = (*Conn)(nil)
	_ driver.ExecerContext      = (*Conn)(nil)
	_ driver.QueryerContext     = (*Conn)(nil)
	_ driver.Pinger             = (*Conn)(nil)
	_ driver.SessionResetter    = (*Conn)(nil)
	_ driver.Validator          = (*Conn)(nil)
)

// Connection returns the client connection behind c.
func (c *Conn) Connection() client.Connection {
	return c.cn
}

// Prepare returns a prepared statement bound to the connection.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// PrepareContext returns a statement for query. The native statement is
// prepared each time the returned statement runs, inside the transaction it
// runs in.
func (c *Conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if !c.cn.IsValid() {
		return nil, driver.ErrBadConn
	}
	return newStmt(c, query), nil
}

// Close rolls back an open transaction and disconnects.
func (c *Conn) Close() error {
	c.tx = nil
	return c.cn.Disconnect(context.Background())
}

// Begin starts a transaction with default options.
func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx starts an explicit transaction. Until it ends, every statement on
// the connection runs in it.
func (c *Conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if c.tx != nil {
		return nil, dberrors.New(dberrors.ErrorTypeInvalidValue, "nativedb: transaction already active on this connection")
	}
	txOpts, err := transactionOptions(opts)
	if err != nil {
		return nil, err
	}
	tr, err := c.cn.StartTransaction(ctx, txOpts)
	if err != nil {
		return nil, c.badConn(err)
	}
	c.tx = &Tx{conn: c, tr: tr}
	return c.tx, nil
}

func transactionOptions(opts driver.TxOptions) (client.TransactionOptions, error) {
	txOpts := client.TransactionOptions{ReadOnly: opts.ReadOnly}
	switch sql.IsolationLevel(opts.Isolation) {
	case sql.LevelDefault, sql.LevelSnapshot, sql.LevelRepeatableRead:
		txOpts.Isolation = native.IsolationSnapshot
	case sql.LevelReadCommitted:
		txOpts.Isolation = native.IsolationReadCommitted
	case sql.LevelSerializable:
		txOpts.Isolation = native.IsolationConsistency
	default:
		return txOpts, dberrors.Newf(dberrors.ErrorTypeInvalidValue,
			"nativedb: unsupported isolation level %s", sql.IsolationLevel(opts.Isolation))
	}
	return txOpts, nil
}

// ExecContext runs query without a separately prepared statement.
func (c *Conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	return newStmt(c, query).ExecContext(ctx, args)
}

// QueryContext runs query without a separately prepared statement.
func (c *Conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	return newStmt(c, query).QueryContext(ctx, args)
}

// Ping checks that the connection is still usable.
func (c *Conn) Ping(ctx context.Context) error {
	if err := c.cn.Ping(ctx); err != nil {
		return c.badConn(err)
	}
	return nil
}

// ResetSession is called before a connection is reused.
func (c *Conn) ResetSession(ctx context.Context) error {
	if !c.cn.IsValid() {
		return driver.ErrBadConn
	}
	return nil
}

// IsValid reports whether the connection may be returned to the sql.DB pool.
func (c *Conn) IsValid() bool {
	return c.cn.IsValid()
}

// badConn reports driver.ErrBadConn when err left the connection unusable,
// so that database/sql retries on a fresh one.
func (c *Conn) badConn(err error) error {
	if !c.cn.IsValid() || dberrors.IsAlreadyDisposed(err) {
		return errors.Join(driver.ErrBadConn, err)
	}
	return err
}

// transaction returns the transaction a statement should run in, starting an
// autocommit one when no explicit transaction is open.
func (c *Conn) transaction(ctx context.Context) (tr *client.Transaction, autocommit bool, err error) {
	if c.tx != nil {
		return c.tx.tr, false, nil
	}
	tr, err = c.cn.StartTransaction(ctx, client.TransactionOptions{})
	if err != nil {
		return nil, false, c.badConn(err)
	}
	return tr, true, nil
}

// Tx is an explicit transaction.
type Tx struct {
	conn *Conn
	tr   *client.Transaction
}

var _ driver.Tx = (*Tx)(nil)

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if t.conn.tx != t {
		return dberrors.AlreadyDisposed("transaction")
	}
	t.conn.tx = nil
	return t.tr.Commit(context.Background())
}

// Rollback rolls the transaction back.
func (t *Tx) Rollback() error {
	if t.conn.tx != t {
		return dberrors.AlreadyDisposed("transaction")
	}
	t.conn.tx = nil
	return t.tr.Rollback(context.Background())
}
