// Package host is an in-process engine that serves the native client calls
// from SQLite database files. It lets the driver run end to end without an
// external server.
//
// Every handle the engine mints is a random UUID. Attachments own one sqlx.DB
// each; transactions, statements, cursors and blob handles live in the
// engine's tables until they are ended, freed or closed.
package host

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/tomyedwab/nativedb/native"
)

const (
	driverName         = "sqlite3"
	defaultBusyTimeout = 5000 // milliseconds
)

// Engine implements native.Client over SQLite.
type Engine struct {
	logger *slog.Logger

	mu           sync.Mutex
	attachments  map[native.AttachmentID]*attachment
	transactions map[native.TransactionID]*transaction
	statements   map[native.StatementID]*statement
	cursors      map[native.CursorID]*cursor
	blobs        map[native.BlobHandleID]*blobHandle
}

var _ native.Client = (*Engine)(nil)

type attachment struct {
	id    native.AttachmentID
	path  string
	db    *sqlx.DB
	store *blobStore
}

type transaction struct {
	id   native.TransactionID
	att  *attachment
	opts native.TransactionOptions

	mu sync.Mutex
	tx *sqlx.Tx
}

// New creates an engine with no open attachments.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:       logger.With("component", "host"),
		attachments:  make(map[native.AttachmentID]*attachment),
		transactions: make(map[native.TransactionID]*transaction),
		statements:   make(map[native.StatementID]*statement),
		cursors:      make(map[native.CursorID]*cursor),
		blobs:        make(map[native.BlobHandleID]*blobHandle),
	}
}

// engineError converts a database/sql or SQLite failure into a native status.
func engineError(code int32, err error) *native.Status {
	st := native.NewStatus(code, "%v", err)
	var se sqlite3.Error
	if errors.As(err, &se) {
		st.SQLCode = int32(se.ExtendedCode)
	}
	return st
}

func localPath(opts native.ConnectOptions) (string, error) {
	switch opts.Host {
	case "", "localhost", "127.0.0.1":
	default:
		return "", native.NewStatus(native.StatusUnavailable, "remote host %q is not supported by the embedded engine", opts.Host)
	}
	if opts.Path == "" {
		return "", native.NewStatus(native.StatusIOError, "no database path given")
	}
	return opts.Path, nil
}

func (e *Engine) open(ctx context.Context, path string) (native.AttachmentID, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on", path, defaultBusyTimeout)
	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return "", engineError(native.StatusIOError, err)
	}

	att := &attachment{
		id:    native.AttachmentID(uuid.NewString()),
		path:  path,
		db:    db,
		store: newBlobStore(),
	}
	e.mu.Lock()
	e.attachments[att.id] = att
	e.mu.Unlock()

	e.logger.Debug("Attached database", "path", path, "attachmentID", att.id)
	return att.id, nil
}

// Attach opens an existing database file.
func (e *Engine) Attach(ctx context.Context, opts native.ConnectOptions) (native.AttachmentID, error) {
	path, err := localPath(opts)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", native.NewStatus(native.StatusIOError, "I/O error during open of %s: %v", path, err)
	}
	return e.open(ctx, path)
}

// CreateDatabase creates a new database file and attaches to it.
func (e *Engine) CreateDatabase(ctx context.Context, opts native.ConnectOptions) (native.AttachmentID, error) {
	path, err := localPath(opts)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return "", native.NewStatus(native.StatusDatabaseExists, "database %s already exists", path)
	}
	if err != nil {
		return "", native.NewStatus(native.StatusIOError, "I/O error during create of %s: %v", path, err)
	}
	f.Close()

	id, err := e.open(ctx, path)
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return id, nil
}

func (e *Engine) attachment(id native.AttachmentID) (*attachment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	att, ok := e.attachments[id]
	if !ok {
		return nil, native.NewStatus(native.StatusBadDBHandle, "invalid database handle %s", id)
	}
	return att, nil
}

// Detach closes the attachment. Anything it still owns is rolled back or
// released first.
func (e *Engine) Detach(ctx context.Context, id native.AttachmentID) error {
	att, err := e.detach(id)
	if err != nil {
		return err
	}
	if err := att.db.Close(); err != nil {
		return engineError(native.StatusIOError, err)
	}
	e.logger.Debug("Detached database", "path", att.path, "attachmentID", id)
	return nil
}

// DropDatabase detaches and removes the database file.
func (e *Engine) DropDatabase(ctx context.Context, id native.AttachmentID) error {
	att, err := e.detach(id)
	if err != nil {
		return err
	}
	if err := att.db.Close(); err != nil {
		return engineError(native.StatusIOError, err)
	}
	if err := os.Remove(att.path); err != nil {
		return native.NewStatus(native.StatusIOError, "failed to remove %s: %v", att.path, err)
	}
	for _, suffix := range []string{"-journal", "-wal", "-shm"} {
		_ = os.Remove(att.path + suffix)
	}
	e.logger.Info("Dropped database", "path", att.path)
	return nil
}

// detach unregisters an attachment together with everything it owns.
func (e *Engine) detach(id native.AttachmentID) (*attachment, error) {
	e.mu.Lock()
	att, ok := e.attachments[id]
	if !ok {
		e.mu.Unlock()
		return nil, native.NewStatus(native.StatusBadDBHandle, "invalid database handle %s", id)
	}
	delete(e.attachments, id)

	var leaked []*transaction
	for trID, t := range e.transactions {
		if t.att == att {
			leaked = append(leaked, t)
			delete(e.transactions, trID)
		}
	}
	for stmtID, s := range e.statements {
		if s.att == att {
			_ = s.stmt.Close()
			delete(e.statements, stmtID)
		}
	}
	for curID, c := range e.cursors {
		if c.att == att {
			delete(e.cursors, curID)
		}
	}
	for h, b := range e.blobs {
		if b.att == att {
			delete(e.blobs, h)
		}
	}
	e.mu.Unlock()

	for _, t := range leaked {
		e.logger.Warn("Rolling back transaction on detach", "transactionID", t.id)
		if err := t.current().Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			e.logger.Warn("Failed to roll back transaction", "transactionID", t.id, "error", err)
		}
	}
	return att, nil
}

// Ping checks that the database file is still reachable.
func (e *Engine) Ping(ctx context.Context, id native.AttachmentID) error {
	att, err := e.attachment(id)
	if err != nil {
		return err
	}
	if err := att.db.PingContext(ctx); err != nil {
		return engineError(native.StatusUnavailable, err)
	}
	return nil
}

// --- Transactions ---

func txOptions(opts native.TransactionOptions) *sql.TxOptions {
	level := sql.LevelSnapshot
	switch opts.Isolation {
	case native.IsolationReadCommitted:
		level = sql.LevelReadCommitted
	case native.IsolationConsistency:
		level = sql.LevelSerializable
	}
	return &sql.TxOptions{Isolation: level, ReadOnly: opts.ReadOnly}
}

// begin starts a SQLite transaction that is not tied to ctx.
func (e *Engine) begin(ctx context.Context, att *attachment, opts native.TransactionOptions) (*sqlx.Tx, error) {
	tx, err := att.db.BeginTxx(context.WithoutCancel(ctx), txOptions(opts))
	if err != nil {
		return nil, engineError(native.StatusUnavailable, err)
	}

	timeout := defaultBusyTimeout
	switch {
	case opts.NoWait:
		timeout = 0
	case opts.WaitTimeout > 0:
		timeout = opts.WaitTimeout * 1000
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", timeout)); err != nil {
		_ = tx.Rollback()
		return nil, engineError(native.StatusDSQLError, err)
	}
	return tx, nil
}

// StartTransaction begins a transaction on the attachment.
func (e *Engine) StartTransaction(ctx context.Context, id native.AttachmentID, opts native.TransactionOptions) (native.TransactionID, error) {
	att, err := e.attachment(id)
	if err != nil {
		return "", err
	}
	tx, err := e.begin(ctx, att, opts)
	if err != nil {
		return "", err
	}

	t := &transaction{
		id:   native.TransactionID(uuid.NewString()),
		att:  att,
		opts: opts,
		tx:   tx,
	}
	e.mu.Lock()
	e.transactions[t.id] = t
	e.mu.Unlock()
	return t.id, nil
}

func (e *Engine) transaction(id native.TransactionID) (*transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.transactions[id]
	if !ok {
		return nil, native.NewStatus(native.StatusBadTransHandle, "invalid transaction handle %s", id)
	}
	return t, nil
}

// current returns the live SQLite transaction behind t.
func (t *transaction) current() *sqlx.Tx {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tx
}

// EndTransaction commits or rolls back. The retaining variants start a fresh
// SQLite transaction under the same handle.
func (e *Engine) EndTransaction(ctx context.Context, id native.TransactionID, end native.TransactionEnd) error {
	t, err := e.transaction(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var endErr error
	switch end {
	case native.Commit, native.CommitRetaining:
		endErr = t.tx.Commit()
	case native.Rollback, native.RollbackRetaining:
		endErr = t.tx.Rollback()
	default:
		return native.NewStatus(native.StatusDSQLError, "unknown transaction end %s", end)
	}

	if !end.Retaining() {
		e.mu.Lock()
		delete(e.transactions, id)
		e.mu.Unlock()
		if endErr != nil {
			return engineError(native.StatusDSQLError, endErr)
		}
		return nil
	}

	if endErr != nil {
		return engineError(native.StatusDSQLError, endErr)
	}
	tx, err := e.begin(ctx, t.att, t.opts)
	if err != nil {
		e.mu.Lock()
		delete(e.transactions, id)
		e.mu.Unlock()
		return err
	}
	t.tx = tx
	return nil
}
