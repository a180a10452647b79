package client

import (
	"context"
	"log/slog"

	"github.com/tomyedwab/nativedb/codec"
	"github.com/tomyedwab/nativedb/dberrors"
	"github.com/tomyedwab/nativedb/native"
	"github.com/tomyedwab/nativedb/sqlparams"
)

// Statement is a prepared statement. It is owned both by its attachment and
// by the transaction it was prepared in, but may be executed in any open
// transaction of the same attachment. A result set belongs to the
// transaction it was opened in and is closed when that transaction ends.
type Statement struct {
	att    *Attachment
	tr     *Transaction
	logger *slog.Logger
	h      handle[native.StatementID]

	sql    string
	parsed sqlparams.Parsed
	typ    native.StatementType

	inMeta   *native.Metadata
	outMeta  *native.Metadata
	inDescs  []codec.Descriptor
	outDescs []codec.Descriptor

	resultSet *ResultSet
}

func (s *Statement) loadMetadata(ctx context.Context) error {
	in, err := s.att.nc().InputMetadata(ctx, s.h.id)
	if err != nil {
		return dberrors.NativeCallFailed("InputMetadata", err)
	}
	out, err := s.att.nc().OutputMetadata(ctx, s.h.id)
	if err != nil {
		return dberrors.NativeCallFailed("OutputMetadata", err)
	}
	s.inMeta = codec.FixMetadata(in)
	s.outMeta = codec.FixMetadata(out)
	s.inDescs = codec.BuildDescriptors(s.inMeta)
	s.outDescs = codec.BuildDescriptors(s.outMeta)
	return nil
}

// ID returns the native handle, or "" once the statement is disposed.
func (s *Statement) ID() native.StatementID {
	return s.h.id
}

// IsValid reports whether the statement still holds a native handle.
func (s *Statement) IsValid() bool {
	return s.h.open
}

// Attachment returns the attachment the statement was prepared on.
func (s *Statement) Attachment() *Attachment {
	return s.att
}

// Transaction returns the transaction the statement was prepared in.
func (s *Statement) Transaction() *Transaction {
	return s.tr
}

// SQL returns the text the statement was prepared from, before placeholder
// rewriting.
func (s *Statement) SQL() string {
	return s.sql
}

// Type returns the statement type reported by the engine.
func (s *Statement) Type() native.StatementType {
	return s.typ
}

// HasResultSet reports whether executing the statement opens a cursor.
func (s *Statement) HasResultSet() bool {
	return s.typ.HasCursor()
}

// ParameterNames returns the named placeholders in order, or nil when the
// statement uses positional markers.
func (s *Statement) ParameterNames() []string {
	return s.parsed.Names
}

// NumInput returns the number of input slots.
func (s *Statement) NumInput() int {
	return len(s.inDescs)
}

// ColumnLabels returns the label of every output column.
func (s *Statement) ColumnLabels() []string {
	return codec.Labels(s.outDescs)
}

// InputDescriptors returns the descriptors of the input slots.
func (s *Statement) InputDescriptors() []codec.Descriptor {
	return s.inDescs
}

// OutputDescriptors returns the descriptors of the output columns.
func (s *Statement) OutputDescriptors() []codec.Descriptor {
	return s.outDescs
}

// encodeParams binds params to the input slots. Blob contents are written
// in tr.
func (s *Statement) encodeParams(ctx context.Context, tr *Transaction, params any) ([]byte, error) {
	values, err := s.parsed.Bind(params)
	if err != nil {
		return nil, err
	}
	buf := s.inMeta.NewBuffer()
	if err := codec.WriteAll(ctx, blobWriter{att: s.att, tr: tr}, s.inDescs, buf, values); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Statement) handles(tr *Transaction) (native.StatementID, native.TransactionID, error) {
	id, err := s.h.get("statement")
	if err != nil {
		return "", "", err
	}
	trID, err := s.att.transactionHandle(tr)
	if err != nil {
		return "", "", err
	}
	return id, trID, nil
}

func (s *Statement) execute(ctx context.Context, tr *Transaction, params any) (int64, []byte, error) {
	id, trID, err := s.handles(tr)
	if err != nil {
		return 0, nil, err
	}
	inBuf, err := s.encodeParams(ctx, tr, params)
	if err != nil {
		return 0, nil, err
	}
	outBuf := s.outMeta.NewBuffer()
	n, err := s.att.nc().Execute(ctx, id, trID, s.inMeta, inBuf, s.outMeta, outBuf)
	if err != nil {
		return 0, nil, dberrors.NativeCallFailed("Execute", err)
	}
	return n, outBuf, nil
}

// Execute runs the statement in tr and returns the number of affected rows.
func (s *Statement) Execute(ctx context.Context, tr *Transaction, params any) (int64, error) {
	n, _, err := s.execute(ctx, tr, params)
	return n, err
}

// ExecuteSingleton runs the statement in tr and returns its only row, or nil
// when it produced none.
func (s *Statement) ExecuteSingleton(ctx context.Context, tr *Transaction, params any) ([]any, error) {
	n, outBuf, err := s.execute(ctx, tr, params)
	if err != nil {
		return nil, err
	}
	if n == 0 || len(s.outDescs) == 0 {
		return nil, nil
	}
	return codec.ReadAll(s.outDescs, outBuf, s.att.ID())
}

// ExecuteSingletonAsObject is ExecuteSingleton keyed by column label.
func (s *Statement) ExecuteSingletonAsObject(ctx context.Context, tr *Transaction, params any) (map[string]any, error) {
	row, err := s.ExecuteSingleton(ctx, tr, params)
	if err != nil || row == nil {
		return nil, err
	}
	return rowObject(s.outDescs, row), nil
}

// ExecuteReturning runs a data-changing statement with a RETURNING clause
// and returns the values it produced.
func (s *Statement) ExecuteReturning(ctx context.Context, tr *Transaction, params any) ([]any, error) {
	return s.ExecuteSingleton(ctx, tr, params)
}

// ExecuteReturningAsObject is ExecuteReturning keyed by column label.
func (s *Statement) ExecuteReturningAsObject(ctx context.Context, tr *Transaction, params any) (map[string]any, error) {
	return s.ExecuteSingletonAsObject(ctx, tr, params)
}

// ExecuteQuery runs the statement in tr and opens a result set over its
// rows. A result set still open from an earlier call is closed first.
func (s *Statement) ExecuteQuery(ctx context.Context, tr *Transaction, params any) (*ResultSet, error) {
	id, trID, err := s.handles(tr)
	if err != nil {
		return nil, err
	}
	if s.resultSet != nil {
		closeLeaked(ctx, s.logger, "statement", "resultSet", []*ResultSet{s.resultSet})
	}
	inBuf, err := s.encodeParams(ctx, tr, params)
	if err != nil {
		return nil, err
	}
	cur, err := s.att.nc().OpenCursor(ctx, id, trID, s.inMeta, inBuf, s.outMeta)
	if err != nil {
		return nil, dberrors.NativeCallFailed("OpenCursor", err)
	}
	rs := &ResultSet{
		stmt:   s,
		tr:     tr,
		logger: s.logger.With("cursorID", string(cur)),
		h:      openHandle(cur),
		pos:    NoIndex,
	}
	s.resultSet = rs
	tr.resultSets.add(rs)
	return rs, nil
}

// Dispose closes the open result set, if any, and frees the statement.
func (s *Statement) Dispose(ctx context.Context) error {
	id, err := s.h.get("statement")
	if err != nil {
		return err
	}
	if s.resultSet != nil {
		closeLeaked(ctx, s.logger, "statement", "resultSet", []*ResultSet{s.resultSet})
	}
	if err := s.att.nc().FreeStatement(ctx, id); err != nil {
		return dberrors.NativeCallFailed("FreeStatement", err)
	}
	s.markClosed()
	return nil
}

func (s *Statement) markClosed() {
	s.h.close()
	s.att.statements.remove(s)
	s.tr.statements.remove(s)
}

func (s *Statement) isOpen() bool {
	return s.h.open
}

func (s *Statement) forceClose(ctx context.Context) error {
	err := s.Dispose(ctx)
	if err != nil && s.h.open {
		s.markClosed()
	}
	return err
}

func (s *Statement) describe() string {
	return "statement " + string(s.h.id)
}

func rowObject(descs []codec.Descriptor, row []any) map[string]any {
	obj := make(map[string]any, len(descs))
	for i, d := range descs {
		obj[d.Label()] = row[i]
	}
	return obj
}
