package client

import (
	"context"
	"log/slog"

	"github.com/tomyedwab/nativedb/dberrors"
	"github.com/tomyedwab/nativedb/native"
)

// Transaction is a transaction started on an Attachment.
type Transaction struct {
	att    *Attachment
	opts   TransactionOptions
	logger *slog.Logger
	h      handle[native.TransactionID]

	// statements prepared in this transaction.
	statements registry[*Statement]
	// resultSets opened in this transaction, whichever transaction their
	// statement was prepared in.
	resultSets registry[*ResultSet]
}

// ID returns the native handle, or "" once the transaction has ended.
func (t *Transaction) ID() native.TransactionID {
	return t.h.id
}

// Attachment returns the attachment the transaction runs on.
func (t *Transaction) Attachment() *Attachment {
	return t.att
}

// Options returns the options the transaction was started with.
func (t *Transaction) Options() TransactionOptions {
	return t.opts
}

// IsValid reports whether the transaction still holds a native handle.
func (t *Transaction) IsValid() bool {
	return t.h.open
}

// Commit closes the statements prepared in the transaction and commits it.
func (t *Transaction) Commit(ctx context.Context) error {
	return t.end(ctx, native.Commit)
}

// CommitRetaining commits the work done so far and keeps the transaction
// and its statements open.
func (t *Transaction) CommitRetaining(ctx context.Context) error {
	return t.end(ctx, native.CommitRetaining)
}

// Rollback closes the statements prepared in the transaction and rolls it
// back.
func (t *Transaction) Rollback(ctx context.Context) error {
	return t.end(ctx, native.Rollback)
}

// RollbackRetaining undoes the work done so far and keeps the transaction
// and its statements open.
func (t *Transaction) RollbackRetaining(ctx context.Context) error {
	return t.end(ctx, native.RollbackRetaining)
}

func (t *Transaction) end(ctx context.Context, how native.TransactionEnd) error {
	id, err := t.h.get("transaction")
	if err != nil {
		return err
	}
	if !how.Retaining() {
		closeLeaked(ctx, t.logger, "transaction", "resultSet", t.resultSets.snapshot())
		closeLeaked(ctx, t.logger, "transaction", "statement", t.statements.snapshot())
	}
	if err := t.att.nc().EndTransaction(ctx, id, how); err != nil {
		return dberrors.NativeCallFailed("EndTransaction("+how.String()+")", err)
	}
	if !how.Retaining() {
		t.markClosed()
	}
	return nil
}

func (t *Transaction) markClosed() {
	t.h.close()
	t.att.transactions.remove(t)
}

func (t *Transaction) isOpen() bool {
	return t.h.open
}

// forceClose rolls the transaction back.
func (t *Transaction) forceClose(ctx context.Context) error {
	err := t.Rollback(ctx)
	if err != nil && t.h.open {
		t.markClosed()
	}
	return err
}

func (t *Transaction) describe() string {
	return "transaction " + string(t.h.id)
}
