package driver

import (
	"context"
	"database/sql/driver"
	"io"

	"github.com/tomyedwab/nativedb/client"
	"github.com/tomyedwab/nativedb/codec"
	"github.com/tomyedwab/nativedb/dberrors"
	"github.com/tomyedwab/nativedb/sqlparams"
)

// Stmt is a statement bound to a connection.
type Stmt struct {
	conn   *Conn
	query  string
	parsed sqlparams.Parsed
	closed bool
}

var (
	_ driver.Stmt             = (*Stmt)(nil)
	_ driver.StmtExecContext  = (*Stmt)(nil)
	_ driver.StmtQueryContext = (*Stmt)(nil)
)

func newStmt(c *Conn, query string) *Stmt {
	return &Stmt{conn: c, query: query, parsed: sqlparams.Parse(query)}
}

// Close closes the statement.
func (s *Stmt) Close() error {
	s.closed = true
	return nil
}

// NumInput returns the number of positional markers, or -1 when the query
// uses named placeholders and database/sql cannot check the argument count.
func (s *Stmt) NumInput() int {
	if s.parsed.HasNames() {
		return -1
	}
	return sqlparams.CountPositional(s.query)
}

// params turns driver arguments into the form client binding expects: a
// name map when every argument is named, a positional list when none is.
func (s *Stmt) params(args []driver.NamedValue) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	named := args[0].Name != ""
	for _, arg := range args[1:] {
		if (arg.Name != "") != named {
			return nil, dberrors.New(dberrors.ErrorTypeInvalidValue, "nativedb: cannot mix named and positional arguments")
		}
	}
	if named {
		m := make(map[string]any, len(args))
		for _, arg := range args {
			m[arg.Name] = arg.Value
		}
		return m, nil
	}
	if s.parsed.HasNames() {
		return nil, dberrors.Newf(dberrors.ErrorTypeParameterCountMismatch,
			"nativedb: query uses named placeholders but got %d positional arguments", len(args))
	}
	list := make([]any, len(args))
	for _, arg := range args {
		list[arg.Ordinal-1] = arg.Value
	}
	return list, nil
}

func (s *Stmt) check() error {
	if s.closed {
		return dberrors.AlreadyDisposed("statement")
	}
	return nil
}

// Exec runs the statement with positional arguments.
func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), namedValues(args))
}

// ExecContext runs the statement and returns the number of affected rows.
func (s *Stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	params, err := s.params(args)
	if err != nil {
		return nil, err
	}
	tr, autocommit, err := s.conn.transaction(ctx)
	if err != nil {
		return nil, err
	}

	n, err := s.conn.cn.Execute(ctx, tr, s.query, params)
	if autocommit {
		if err != nil {
			_ = tr.Rollback(ctx)
			return nil, s.conn.badConn(err)
		}
		if err := tr.Commit(ctx); err != nil {
			return nil, s.conn.badConn(err)
		}
	}
	if err != nil {
		return nil, s.conn.badConn(err)
	}
	return result(n), nil
}

// Query runs the statement with positional arguments.
func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), namedValues(args))
}

// QueryContext runs the statement and returns its rows. In autocommit mode
// the transaction stays open until the rows are closed.
func (s *Stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	params, err := s.params(args)
	if err != nil {
		return nil, err
	}
	tr, autocommit, err := s.conn.transaction(ctx)
	if err != nil {
		return nil, err
	}

	rs, err := s.conn.cn.ExecuteQuery(ctx, tr, s.query, params)
	if err != nil {
		if autocommit {
			_ = tr.Rollback(ctx)
		}
		return nil, s.conn.badConn(err)
	}
	return &Rows{conn: s.conn, tr: tr, rs: rs, autocommit: autocommit}, nil
}

func namedValues(args []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, len(args))
	for i, v := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named
}

// result is the number of rows a statement affected. The engines have no
// insert ids; use a RETURNING clause instead.
type result int64

func (r result) LastInsertId() (int64, error) {
	return 0, dberrors.New(dberrors.ErrorTypeUnsupportedType, "nativedb: LastInsertId is not supported, use RETURNING")
}

func (r result) RowsAffected() (int64, error) {
	return int64(r), nil
}

// Rows iterates over a result set.
type Rows struct {
	conn       *Conn
	tr         *client.Transaction
	rs         *client.ResultSet
	autocommit bool
}

var (
	_ driver.Rows                           = (*Rows)(nil)
	_ driver.RowsColumnTypeDatabaseTypeName = (*Rows)(nil)
	_ driver.RowsColumnTypeNullable         = (*Rows)(nil)
)

// Columns returns the column labels.
func (r *Rows) Columns() []string {
	return r.rs.ColumnLabels()
}

// ColumnTypeDatabaseTypeName returns the engine type name of column i.
func (r *Rows) ColumnTypeDatabaseTypeName(i int) string {
	return r.rs.Columns()[i].Type.String()
}

// ColumnTypeNullable reports whether column i may hold null.
func (r *Rows) ColumnTypeNullable(i int) (nullable, ok bool) {
	return r.rs.Columns()[i].Nullable, true
}

// Next fetches the next row into dest. Blob cells are read in full.
func (r *Rows) Next(dest []driver.Value) error {
	ctx := context.Background()
	ok, err := r.rs.Next(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return io.EOF
	}
	row, err := r.rs.Row()
	if err != nil {
		return err
	}
	for i, v := range row {
		link, isBlob := v.(codec.BlobLink)
		if !isBlob {
			dest[i] = v
			continue
		}
		data, err := r.conn.cn.ReadBlob(ctx, r.tr, link)
		if err != nil {
			return err
		}
		if link.IsText() {
			dest[i] = string(data)
		} else {
			dest[i] = data
		}
	}
	return nil
}

// Close closes the result set and, in autocommit mode, commits its
// transaction.
func (r *Rows) Close() error {
	ctx := context.Background()
	var err error
	if r.rs.IsValid() {
		err = r.rs.Close(ctx)
	}
	if r.autocommit && r.tr.IsValid() {
		if commitErr := r.tr.Commit(ctx); err == nil {
			err = commitErr
		}
	}
	return err
}
