// Package native describes the boundary between the driver and the engine's
// handle-based client library.
//
// A Client hands out opaque handles (attachments, transactions, statements,
// cursors and blobs) and moves values through message buffers whose layout is
// described by Metadata. Every call reports failure through its error result,
// which is a *Status when the engine itself rejected the call.
//
// The driver never talks to an engine except through this interface, so an
// engine-specific adapter only has to translate these calls.
package native

import "context"

// Client is the capability set of the native client library.
type Client interface {
	// Attach opens a connection to an existing database.
	Attach(ctx context.Context, opts ConnectOptions) (AttachmentID, error)
	// CreateDatabase creates a database and returns a connection to it.
	CreateDatabase(ctx context.Context, opts ConnectOptions) (AttachmentID, error)
	// Detach closes a connection.
	Detach(ctx context.Context, att AttachmentID) error
	// DropDatabase deletes the database and closes the connection.
	DropDatabase(ctx context.Context, att AttachmentID) error
	// Ping verifies that the connection is still usable.
	Ping(ctx context.Context, att AttachmentID) error

	StartTransaction(ctx context.Context, att AttachmentID, opts TransactionOptions) (TransactionID, error)
	EndTransaction(ctx context.Context, tr TransactionID, end TransactionEnd) error

	// Prepare compiles sql, which uses positional '?' markers only.
	Prepare(ctx context.Context, att AttachmentID, tr TransactionID, sql string) (StatementID, StatementType, error)
	FreeStatement(ctx context.Context, stmt StatementID) error
	InputMetadata(ctx context.Context, stmt StatementID) (*Metadata, error)
	OutputMetadata(ctx context.Context, stmt StatementID) (*Metadata, error)

	// Execute runs a statement to completion. When out is non-empty the first
	// result row is written to outBuf. The returned count is the number of
	// affected rows, or of produced rows for statements with output.
	Execute(ctx context.Context, stmt StatementID, tr TransactionID, in *Metadata, inBuf []byte, out *Metadata, outBuf []byte) (int64, error)
	// OpenCursor runs a statement and leaves its result set open for Fetch.
	OpenCursor(ctx context.Context, stmt StatementID, tr TransactionID, in *Metadata, inBuf []byte, out *Metadata) (CursorID, error)
	// Fetch moves the cursor and writes the row it lands on into outBuf.
	// pos is only used by FetchAbsolute (1-based, negative counts from the
	// end) and FetchRelative.
	Fetch(ctx context.Context, cur CursorID, dir FetchDirection, pos int32, outBuf []byte) (FetchStatus, error)
	CloseCursor(ctx context.Context, cur CursorID) error

	CreateBlob(ctx context.Context, att AttachmentID, tr TransactionID) (BlobHandleID, BlobID, error)
	OpenBlob(ctx context.Context, att AttachmentID, tr TransactionID, id BlobID) (BlobHandleID, error)
	// GetSegment reads the next segment into buf. It returns io.EOF once the
	// blob is exhausted.
	GetSegment(ctx context.Context, blob BlobHandleID, buf []byte) (int, error)
	PutSegment(ctx context.Context, blob BlobHandleID, data []byte) error
	CloseBlob(ctx context.Context, blob BlobHandleID) error
	CancelBlob(ctx context.Context, blob BlobHandleID) error
}
