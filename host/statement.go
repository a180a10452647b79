package host

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tomyedwab/nativedb/codec"
	"github.com/tomyedwab/nativedb/native"
	"github.com/tomyedwab/nativedb/sqlparams"
)

type statement struct {
	id   native.StatementID
	att  *attachment
	sql  string
	typ  native.StatementType
	in   *native.Metadata
	out  *native.Metadata
	tx   *sqlx.Tx // the transaction stmt was prepared on
	stmt *sqlx.Stmt
}

type cursor struct {
	id   native.CursorID
	att  *attachment
	out  *native.Metadata
	rows [][]any
	pos  int
}

// Prepare compiles sql inside the transaction and describes its parameters
// and result columns.
func (e *Engine) Prepare(ctx context.Context, attID native.AttachmentID, trID native.TransactionID, sql string) (native.StatementID, native.StatementType, error) {
	t, err := e.transaction(trID)
	if err != nil {
		return "", native.StatementUnknown, err
	}
	if t.att.id != attID {
		return "", native.StatementUnknown, native.NewStatus(native.StatusBadTransHandle,
			"transaction %s does not belong to attachment %s", trID, attID)
	}

	tx := t.current()
	ps, err := tx.PreparexContext(ctx, sql)
	if err != nil {
		return "", native.StatementUnknown, engineError(native.StatusDSQLError, err)
	}

	n := sqlparams.CountPositional(sql)
	s := &statement{
		id:   native.StatementID(uuid.NewString()),
		att:  t.att,
		sql:  sql,
		typ:  sqlparams.Classify(sql),
		in:   inputMetadata(n),
		out:  &native.Metadata{},
		tx:   tx,
		stmt: ps,
	}
	if s.typ.HasCursor() || sqlparams.HasReturning(sql) {
		if s.out, err = describeOutput(ctx, ps, n); err != nil {
			_ = ps.Close()
			return "", native.StatementUnknown, err
		}
	}

	e.mu.Lock()
	e.statements[s.id] = s
	e.mu.Unlock()
	return s.id, s.typ, nil
}

// describeOutput opens the statement with every parameter null to read the
// declared column types. Rows are never stepped, so nothing is executed.
func describeOutput(ctx context.Context, ps *sqlx.Stmt, n int) (*native.Metadata, error) {
	rows, err := ps.QueryxContext(ctx, make([]any, n)...)
	if err != nil {
		return nil, engineError(native.StatusDSQLError, err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, engineError(native.StatusDSQLError, err)
	}
	meta := &native.Metadata{Fields: make([]native.Field, len(types))}
	for i, ct := range types {
		meta.Fields[i] = columnField(ct.Name(), ct.DatabaseTypeName())
	}
	meta.Length = codec.Layout(meta.Fields)
	return meta, nil
}

func (e *Engine) statement(id native.StatementID) (*statement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.statements[id]
	if !ok {
		return nil, native.NewStatus(native.StatusBadStmtHandle, "invalid statement handle %s", id)
	}
	return s, nil
}

// FreeStatement releases a prepared statement.
func (e *Engine) FreeStatement(ctx context.Context, id native.StatementID) error {
	e.mu.Lock()
	s, ok := e.statements[id]
	delete(e.statements, id)
	e.mu.Unlock()
	if !ok {
		return native.NewStatus(native.StatusBadStmtHandle, "invalid statement handle %s", id)
	}
	if err := s.stmt.Close(); err != nil {
		return engineError(native.StatusDSQLError, err)
	}
	return nil
}

func (e *Engine) InputMetadata(ctx context.Context, id native.StatementID) (*native.Metadata, error) {
	s, err := e.statement(id)
	if err != nil {
		return nil, err
	}
	return s.in.Clone(), nil
}

func (e *Engine) OutputMetadata(ctx context.Context, id native.StatementID) (*native.Metadata, error) {
	s, err := e.statement(id)
	if err != nil {
		return nil, err
	}
	return s.out.Clone(), nil
}

// bind resolves the statement and transaction of an execute call and decodes
// its input buffer into query arguments.
func (e *Engine) bind(stmtID native.StatementID, trID native.TransactionID, in *native.Metadata, inBuf []byte) (*statement, *transaction, []any, error) {
	s, err := e.statement(stmtID)
	if err != nil {
		return nil, nil, nil, err
	}
	t, err := e.transaction(trID)
	if err != nil {
		return nil, nil, nil, err
	}
	if t.att != s.att {
		return nil, nil, nil, native.NewStatus(native.StatusBadTransHandle,
			"transaction %s does not belong to the statement's attachment", trID)
	}
	args, err := codec.ReadAll(codec.BuildDescriptors(in), inBuf, s.att.id)
	if err != nil {
		return nil, nil, nil, native.NewStatus(native.StatusConvertError, "%v", err)
	}
	return s, t, args, nil
}

// on returns the statement bound to t's current SQLite transaction. The
// release func closes any statement prepared just for this call.
func (s *statement) on(ctx context.Context, t *transaction) (*sqlx.Stmt, func()) {
	tx := t.current()
	if tx == s.tx {
		return s.stmt, func() {}
	}
	txStmt := tx.StmtxContext(ctx, s.stmt)
	return txStmt, func() { _ = txStmt.Close() }
}

// Execute runs the statement. With output columns the first row is written
// to outBuf and the number of rows is returned; otherwise the number of
// affected rows is.
func (e *Engine) Execute(ctx context.Context, stmtID native.StatementID, trID native.TransactionID, in *native.Metadata, inBuf []byte, out *native.Metadata, outBuf []byte) (int64, error) {
	s, t, args, err := e.bind(stmtID, trID, in, inBuf)
	if err != nil {
		return 0, err
	}
	ps, release := s.on(ctx, t)
	defer release()

	if out.Count() == 0 {
		res, err := ps.ExecContext(ctx, args...)
		if err != nil {
			return 0, engineError(native.StatusDSQLError, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, engineError(native.StatusDSQLError, err)
		}
		return n, nil
	}

	rows, err := ps.QueryxContext(ctx, args...)
	if err != nil {
		return 0, engineError(native.StatusDSQLError, err)
	}
	defer rows.Close()

	var count int64
	for rows.Next() {
		if count == 0 {
			row, err := rows.SliceScan()
			if err != nil {
				return 0, engineError(native.StatusDSQLError, err)
			}
			if err := writeRow(ctx, s.att, out, outBuf, row); err != nil {
				return 0, err
			}
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, engineError(native.StatusDSQLError, err)
	}
	return count, nil
}

// OpenCursor runs the query and keeps its rows for Fetch.
func (e *Engine) OpenCursor(ctx context.Context, stmtID native.StatementID, trID native.TransactionID, in *native.Metadata, inBuf []byte, out *native.Metadata) (native.CursorID, error) {
	s, t, args, err := e.bind(stmtID, trID, in, inBuf)
	if err != nil {
		return "", err
	}
	ps, release := s.on(ctx, t)
	defer release()

	rows, err := ps.QueryxContext(ctx, args...)
	if err != nil {
		return "", engineError(native.StatusDSQLError, err)
	}
	defer rows.Close()

	c := &cursor{
		id:  native.CursorID(uuid.NewString()),
		att: s.att,
		out: out.Clone(),
		pos: -1,
	}
	for rows.Next() {
		row, err := rows.SliceScan()
		if err != nil {
			return "", engineError(native.StatusDSQLError, err)
		}
		c.rows = append(c.rows, row)
	}
	if err := rows.Err(); err != nil {
		return "", engineError(native.StatusDSQLError, err)
	}

	e.mu.Lock()
	e.cursors[c.id] = c
	e.mu.Unlock()
	return c.id, nil
}

// Fetch moves the cursor and writes the row it lands on into outBuf.
func (e *Engine) Fetch(ctx context.Context, id native.CursorID, dir native.FetchDirection, pos int32, outBuf []byte) (native.FetchStatus, error) {
	e.mu.Lock()
	c, ok := e.cursors[id]
	e.mu.Unlock()
	if !ok {
		return native.FetchNoData, native.NewStatus(native.StatusStreamNotDefined, "cursor %s is not open", id)
	}

	n := len(c.rows)
	target := c.pos
	switch dir {
	case native.FetchNext:
		target++
	case native.FetchPrior:
		target--
	case native.FetchFirst:
		target = 0
	case native.FetchLast:
		target = n - 1
	case native.FetchAbsolute:
		if pos < 0 {
			target = n + int(pos)
		} else {
			target = int(pos) - 1
		}
	case native.FetchRelative:
		target += int(pos)
	}

	switch {
	case target < 0:
		c.pos = -1
		return native.FetchNoData, nil
	case target >= n:
		c.pos = n
		return native.FetchNoData, nil
	}
	c.pos = target
	if err := writeRow(ctx, c.att, c.out, outBuf, c.rows[target]); err != nil {
		return native.FetchNoData, err
	}
	return native.FetchOK, nil
}

// CloseCursor discards the cursor's rows.
func (e *Engine) CloseCursor(ctx context.Context, id native.CursorID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.cursors[id]; !ok {
		return native.NewStatus(native.StatusStreamNotDefined, "cursor %s is not open", id)
	}
	delete(e.cursors, id)
	return nil
}

// writeRow encodes a SQLite row into the message layout out. Blob cells are
// moved into the attachment's blob store.
func writeRow(ctx context.Context, att *attachment, out *native.Metadata, buf []byte, row []any) error {
	descs := codec.BuildDescriptors(out)
	if len(row) != len(descs) {
		return native.NewStatus(native.StatusDSQLError, "row has %d values for %d columns", len(row), len(descs))
	}
	if err := codec.WriteAll(ctx, att.store.writer(att.id), descs, buf, row); err != nil {
		return native.NewStatus(native.StatusConvertError, "%v", err)
	}
	return nil
}
