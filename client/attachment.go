package client

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tomyedwab/nativedb/codec"
	"github.com/tomyedwab/nativedb/dberrors"
	"github.com/tomyedwab/nativedb/native"
	"github.com/tomyedwab/nativedb/sqlparams"
)

// Connection is the data surface shared by attachments and the pooled
// connections that stand in for them.
type Connection interface {
	StartTransaction(ctx context.Context, opts TransactionOptions) (*Transaction, error)
	Prepare(ctx context.Context, tr *Transaction, sql string) (*Statement, error)
	Execute(ctx context.Context, tr *Transaction, sql string, params any) (int64, error)
	ExecuteQuery(ctx context.Context, tr *Transaction, sql string, params any) (*ResultSet, error)
	ExecuteSingleton(ctx context.Context, tr *Transaction, sql string, params any) ([]any, error)
	ExecuteSingletonAsObject(ctx context.Context, tr *Transaction, sql string, params any) (map[string]any, error)
	ExecuteReturning(ctx context.Context, tr *Transaction, sql string, params any) ([]any, error)
	ExecuteReturningAsObject(ctx context.Context, tr *Transaction, sql string, params any) (map[string]any, error)
	ExecuteTransaction(ctx context.Context, opts TransactionOptions, fn func(ctx context.Context, tr *Transaction) error) error
	CreateBlob(ctx context.Context, tr *Transaction) (*BlobStream, error)
	OpenBlob(ctx context.Context, tr *Transaction, blob codec.BlobLinker) (*BlobStream, error)
	ReadBlob(ctx context.Context, tr *Transaction, blob codec.BlobLinker) ([]byte, error)
	Ping(ctx context.Context) error
	IsValid() bool
	Disconnect(ctx context.Context) error
}

var _ Connection = (*Attachment)(nil)

// Attachment is an open connection to a database.
type Attachment struct {
	client *Client
	opts   native.ConnectOptions
	logger *slog.Logger

	mu sync.Mutex
	h  handle[native.AttachmentID]

	transactions registry[*Transaction]
	statements   registry[*Statement]
}

// ID returns the native handle, or "" once the attachment is closed.
func (a *Attachment) ID() native.AttachmentID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.h.id
}

// Options returns the options the attachment was opened with.
func (a *Attachment) Options() native.ConnectOptions {
	return a.opts
}

// Client returns the client that opened the attachment.
func (a *Attachment) Client() *Client {
	return a.client
}

// IsValid reports whether the attachment still holds a native handle.
func (a *Attachment) IsValid() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.h.open
}

// OpenTransactions returns the number of transactions not yet ended.
func (a *Attachment) OpenTransactions() int {
	return a.transactions.len()
}

// OpenStatements returns the number of statements not yet disposed.
func (a *Attachment) OpenStatements() int {
	return a.statements.len()
}

func (a *Attachment) nc() native.Client {
	return a.client.nc
}

func (a *Attachment) handle() (native.AttachmentID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.h.get("attachment")
}

// transactionHandle resolves tr for use on this attachment.
func (a *Attachment) transactionHandle(tr *Transaction) (native.TransactionID, error) {
	if tr == nil {
		return "", dberrors.New(dberrors.ErrorTypeNeedTransaction, "an open transaction is required")
	}
	if tr.att != a {
		return "", dberrors.New(dberrors.ErrorTypeNeedTransaction, "transaction belongs to a different attachment")
	}
	id, err := tr.h.get("transaction")
	if err != nil {
		return "", dberrors.Wrap(dberrors.ErrorTypeNotOpen, "transaction is not open", err)
	}
	return id, nil
}

// Ping checks that the connection is still usable.
func (a *Attachment) Ping(ctx context.Context) error {
	id, err := a.handle()
	if err != nil {
		return err
	}
	if err := a.nc().Ping(ctx, id); err != nil {
		return dberrors.NativeCallFailed("Ping", err)
	}
	return nil
}

// StartTransaction begins a transaction.
func (a *Attachment) StartTransaction(ctx context.Context, opts TransactionOptions) (*Transaction, error) {
	id, err := a.handle()
	if err != nil {
		return nil, err
	}
	trID, err := a.nc().StartTransaction(ctx, id, opts)
	if err != nil {
		return nil, dberrors.NativeCallFailed("StartTransaction", err)
	}
	tr := &Transaction{
		att:    a,
		opts:   opts,
		logger: a.logger.With("transactionID", string(trID)),
		h:      openHandle(trID),
	}
	a.transactions.add(tr)
	return tr, nil
}

// Prepare compiles sql within tr. Named placeholders are rewritten to
// positional ones; the statement remembers their names for binding.
func (a *Attachment) Prepare(ctx context.Context, tr *Transaction, sql string) (*Statement, error) {
	attID, err := a.handle()
	if err != nil {
		return nil, err
	}
	trID, err := a.transactionHandle(tr)
	if err != nil {
		return nil, err
	}

	parsed := sqlparams.Parse(sql)
	stmtID, typ, err := a.nc().Prepare(ctx, attID, trID, parsed.SQL)
	if err != nil {
		return nil, dberrors.NativeCallFailed("Prepare", err)
	}

	stmt := &Statement{
		att:    a,
		tr:     tr,
		logger: a.logger.With("statementID", string(stmtID)),
		h:      openHandle(stmtID),
		sql:    sql,
		parsed: parsed,
		typ:    typ,
	}
	if err := stmt.loadMetadata(ctx); err != nil {
		if freeErr := a.nc().FreeStatement(ctx, stmtID); freeErr != nil {
			stmt.logger.Warn("Failed to free statement after metadata error", "error", freeErr)
		}
		return nil, err
	}

	a.statements.add(stmt)
	tr.statements.add(stmt)
	return stmt, nil
}

// withStatement prepares sql, runs fn and disposes the statement.
func (a *Attachment) withStatement(ctx context.Context, tr *Transaction, sql string, fn func(*Statement) error) error {
	stmt, err := a.Prepare(ctx, tr, sql)
	if err != nil {
		return err
	}
	runErr := fn(stmt)
	if err := stmt.Dispose(ctx); err != nil {
		if runErr == nil {
			return err
		}
		stmt.logger.Warn("Failed to dispose statement", "error", err)
	}
	return runErr
}

// Execute prepares and runs sql, returning the number of affected rows.
func (a *Attachment) Execute(ctx context.Context, tr *Transaction, sql string, params any) (int64, error) {
	var n int64
	err := a.withStatement(ctx, tr, sql, func(stmt *Statement) error {
		var err error
		n, err = stmt.Execute(ctx, tr, params)
		return err
	})
	return n, err
}

// ExecuteQuery prepares sql and opens its result set. The statement is
// disposed when the result set is closed.
func (a *Attachment) ExecuteQuery(ctx context.Context, tr *Transaction, sql string, params any) (*ResultSet, error) {
	stmt, err := a.Prepare(ctx, tr, sql)
	if err != nil {
		return nil, err
	}
	rs, err := stmt.ExecuteQuery(ctx, tr, params)
	if err != nil {
		if disposeErr := stmt.Dispose(ctx); disposeErr != nil {
			stmt.logger.Warn("Failed to dispose statement", "error", disposeErr)
		}
		return nil, err
	}
	rs.disposeStatement = true
	return rs, nil
}

// ExecuteSingleton prepares and runs sql, returning its only row, or nil
// when it produced none.
func (a *Attachment) ExecuteSingleton(ctx context.Context, tr *Transaction, sql string, params any) ([]any, error) {
	var row []any
	err := a.withStatement(ctx, tr, sql, func(stmt *Statement) error {
		var err error
		row, err = stmt.ExecuteSingleton(ctx, tr, params)
		return err
	})
	return row, err
}

// ExecuteSingletonAsObject is ExecuteSingleton keyed by column label.
func (a *Attachment) ExecuteSingletonAsObject(ctx context.Context, tr *Transaction, sql string, params any) (map[string]any, error) {
	var obj map[string]any
	err := a.withStatement(ctx, tr, sql, func(stmt *Statement) error {
		var err error
		obj, err = stmt.ExecuteSingletonAsObject(ctx, tr, params)
		return err
	})
	return obj, err
}

// ExecuteReturning runs a data-changing statement with a RETURNING clause.
func (a *Attachment) ExecuteReturning(ctx context.Context, tr *Transaction, sql string, params any) ([]any, error) {
	var row []any
	err := a.withStatement(ctx, tr, sql, func(stmt *Statement) error {
		var err error
		row, err = stmt.ExecuteReturning(ctx, tr, params)
		return err
	})
	return row, err
}

// ExecuteReturningAsObject is ExecuteReturning keyed by column label.
func (a *Attachment) ExecuteReturningAsObject(ctx context.Context, tr *Transaction, sql string, params any) (map[string]any, error) {
	var obj map[string]any
	err := a.withStatement(ctx, tr, sql, func(stmt *Statement) error {
		var err error
		obj, err = stmt.ExecuteReturningAsObject(ctx, tr, params)
		return err
	})
	return obj, err
}

// ExecuteTransaction runs fn in a new transaction. The transaction is
// committed when fn succeeds and rolled back when it fails or panics.
func (a *Attachment) ExecuteTransaction(ctx context.Context, opts TransactionOptions, fn func(ctx context.Context, tr *Transaction) error) error {
	tr, err := a.StartTransaction(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			a.rollbackQuietly(ctx, tr)
			panic(p)
		}
	}()

	if err := fn(ctx, tr); err != nil {
		a.rollbackQuietly(ctx, tr)
		return err
	}
	if !tr.IsValid() {
		// fn ended the transaction itself.
		return nil
	}
	return tr.Commit(ctx)
}

func (a *Attachment) rollbackQuietly(ctx context.Context, tr *Transaction) {
	if !tr.IsValid() {
		return
	}
	if err := tr.Rollback(ctx); err != nil {
		tr.logger.Warn("Failed to roll back transaction", "error", err)
	}
}

// CreateBlob opens a new blob for writing in tr.
func (a *Attachment) CreateBlob(ctx context.Context, tr *Transaction) (*BlobStream, error) {
	attID, err := a.handle()
	if err != nil {
		return nil, err
	}
	trID, err := a.transactionHandle(tr)
	if err != nil {
		return nil, err
	}
	h, id, err := a.nc().CreateBlob(ctx, attID, trID)
	if err != nil {
		return nil, dberrors.NativeCallFailed("CreateBlob", err)
	}
	return &BlobStream{
		att:   a,
		h:     openHandle(h),
		link:  codec.BlobLink{Attachment: attID, ID: id, SubType: native.BlobSubTypeBinary},
		write: true,
	}, nil
}

// OpenBlob opens an existing blob for reading in tr. The blob must belong
// to this attachment.
func (a *Attachment) OpenBlob(ctx context.Context, tr *Transaction, blob codec.BlobLinker) (*BlobStream, error) {
	attID, err := a.handle()
	if err != nil {
		return nil, err
	}
	trID, err := a.transactionHandle(tr)
	if err != nil {
		return nil, err
	}
	link := blob.BlobLink()
	if link.Attachment != attID {
		return nil, dberrors.New(dberrors.ErrorTypeInvalidBlobReference, "blob belongs to a different attachment")
	}
	h, err := a.nc().OpenBlob(ctx, attID, trID, link.ID)
	if err != nil {
		return nil, dberrors.NativeCallFailed("OpenBlob", err)
	}
	return &BlobStream{att: a, h: openHandle(h), link: link}, nil
}

// ReadBlob returns the whole content of a blob.
func (a *Attachment) ReadBlob(ctx context.Context, tr *Transaction, blob codec.BlobLinker) ([]byte, error) {
	stream, err := a.OpenBlob(ctx, tr, blob)
	if err != nil {
		return nil, err
	}
	data, readErr := stream.ReadAll(ctx)
	if err := stream.Close(ctx); err != nil && readErr == nil {
		return nil, err
	}
	return data, readErr
}

// Reset closes statements and rolls back transactions that are still open,
// logging a warning for each kind, and leaves the attachment itself open.
func (a *Attachment) Reset(ctx context.Context) error {
	if _, err := a.handle(); err != nil {
		return err
	}
	closeLeaked(ctx, a.logger, "attachment", "statement", a.statements.snapshot())
	closeLeaked(ctx, a.logger, "attachment", "transaction", a.transactions.snapshot())
	return nil
}

// Disconnect closes open statements, rolls back open transactions and
// detaches. When the native detach fails the attachment stays open.
func (a *Attachment) Disconnect(ctx context.Context) error {
	return a.teardown(ctx, "Detach", a.nc().Detach)
}

// DropDatabase tears the attachment down like Disconnect and deletes the
// database.
func (a *Attachment) DropDatabase(ctx context.Context) error {
	return a.teardown(ctx, "DropDatabase", a.nc().DropDatabase)
}

func (a *Attachment) teardown(ctx context.Context, call string, fn func(context.Context, native.AttachmentID) error) error {
	if err := a.Reset(ctx); err != nil {
		return err
	}
	id, err := a.handle()
	if err != nil {
		return err
	}
	if err := fn(ctx, id); err != nil {
		return dberrors.NativeCallFailed(call, err)
	}
	a.markClosed()
	return nil
}

func (a *Attachment) markClosed() {
	a.mu.Lock()
	a.h.close()
	a.mu.Unlock()
	a.client.attachments.remove(a)
}
