package client

import (
	"context"
	"log/slog"

	"github.com/tomyedwab/nativedb/codec"
	"github.com/tomyedwab/nativedb/dberrors"
	"github.com/tomyedwab/nativedb/native"
)

// FetchOptions configures ResultSet.Fetch.
type FetchOptions struct {
	// FetchSize caps the number of rows returned. Zero returns every
	// remaining row.
	FetchSize int
}

// ResultSet is an open cursor over the rows of an executed statement. Rows
// are buffered as they are fetched, which lets the cursor move backwards
// over a forward-only native cursor; see cursor.go.
type ResultSet struct {
	stmt   *Statement
	tr     *Transaction
	logger *slog.Logger
	h      handle[native.CursorID]

	rows     [][]any
	pos      int
	finished bool

	// disposeStatement is set for result sets whose statement was prepared
	// on their behalf.
	disposeStatement bool
}

// Transaction returns the transaction the result set was opened in.
func (rs *ResultSet) Transaction() *Transaction {
	return rs.tr
}

// Statement returns the statement that produced the result set.
func (rs *ResultSet) Statement() *Statement {
	return rs.stmt
}

// IsValid reports whether the cursor is still open.
func (rs *ResultSet) IsValid() bool {
	return rs.h.open
}

// ColumnLabels returns the label of every column.
func (rs *ResultSet) ColumnLabels() []string {
	return rs.stmt.ColumnLabels()
}

// Columns returns the descriptor of every column.
func (rs *ResultSet) Columns() []codec.Descriptor {
	return rs.stmt.outDescs
}

// fetchOne appends the next native row to the buffer. It reports false once
// the native cursor is exhausted, and never calls the engine again after
// that.
func (rs *ResultSet) fetchOne(ctx context.Context) (bool, error) {
	if rs.finished {
		return false, nil
	}
	id, err := rs.h.get("result set")
	if err != nil {
		return false, err
	}
	buf := rs.stmt.outMeta.NewBuffer()
	status, err := rs.stmt.att.nc().Fetch(ctx, id, native.FetchNext, 0, buf)
	if err != nil {
		return false, dberrors.NativeCallFailed("Fetch", err)
	}
	if status == native.FetchNoData {
		rs.finished = true
		return false, nil
	}
	row, err := codec.ReadAll(rs.stmt.outDescs, buf, rs.stmt.att.ID())
	if err != nil {
		return false, err
	}
	rs.rows = append(rs.rows, row)
	return true, nil
}

// Fetch moves forward and returns the rows it passes, up to FetchSize.
func (rs *ResultSet) Fetch(ctx context.Context, opts FetchOptions) ([][]any, error) {
	var out [][]any
	for opts.FetchSize <= 0 || len(out) < opts.FetchSize {
		ok, err := rs.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, rs.rows[rs.pos])
	}
	return out, nil
}

// FetchAsObject is Fetch with rows keyed by column label.
func (rs *ResultSet) FetchAsObject(ctx context.Context, opts FetchOptions) ([]map[string]any, error) {
	rows, err := rs.Fetch(ctx, opts)
	if err != nil {
		return nil, err
	}
	objs := make([]map[string]any, len(rows))
	for i, row := range rows {
		objs[i] = rowObject(rs.stmt.outDescs, row)
	}
	return objs, nil
}

// Row returns the row under the cursor.
func (rs *ResultSet) Row() ([]any, error) {
	if _, err := rs.h.get("result set"); err != nil {
		return nil, err
	}
	if rs.pos < 0 || rs.pos >= len(rs.rows) {
		return nil, dberrors.Newf(dberrors.ErrorTypeIndexNotFound, "cursor at position %d is not on a row", rs.pos)
	}
	return rs.rows[rs.pos], nil
}

// RowAsObject returns the row under the cursor keyed by column label.
func (rs *ResultSet) RowAsObject() (map[string]any, error) {
	row, err := rs.Row()
	if err != nil {
		return nil, err
	}
	return rowObject(rs.stmt.outDescs, row), nil
}

// Value returns one column of the row under the cursor.
func (rs *ResultSet) Value(col ColumnRef) (any, error) {
	row, err := rs.Row()
	if err != nil {
		return nil, err
	}
	i, err := col.resolve(rs.stmt.outDescs)
	if err != nil {
		return nil, err
	}
	return row[i], nil
}

// Close closes the cursor. A statement prepared by Attachment.ExecuteQuery
// is disposed with it.
func (rs *ResultSet) Close(ctx context.Context) error {
	if err := rs.close(ctx); err != nil {
		return err
	}
	if rs.disposeStatement && rs.stmt.IsValid() {
		return rs.stmt.Dispose(ctx)
	}
	return nil
}

func (rs *ResultSet) close(ctx context.Context) error {
	id, err := rs.h.get("result set")
	if err != nil {
		return err
	}
	if err := rs.stmt.att.nc().CloseCursor(ctx, id); err != nil {
		return dberrors.NativeCallFailed("CloseCursor", err)
	}
	rs.markClosed()
	return nil
}

func (rs *ResultSet) markClosed() {
	rs.h.close()
	if rs.stmt.resultSet == rs {
		rs.stmt.resultSet = nil
	}
	rs.tr.resultSets.remove(rs)
}

func (rs *ResultSet) isOpen() bool {
	return rs.h.open
}

// forceClose closes the cursor but leaves the statement to its owner.
func (rs *ResultSet) forceClose(ctx context.Context) error {
	err := rs.close(ctx)
	if err != nil && rs.h.open {
		rs.markClosed()
	}
	return err
}

func (rs *ResultSet) describe() string {
	return "result set " + string(rs.h.id)
}
