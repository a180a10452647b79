package native

import (
	"fmt"
	"strconv"
)

// --- Handles ---

// Handles are opaque identifiers minted by the native layer. The empty value
// never names a live resource.
type (
	AttachmentID  string
	TransactionID string
	StatementID   string
	CursorID      string
	BlobHandleID  string
)

// BlobID is the engine's 8-byte identifier of a stored large object.
type BlobID [8]byte

// IsZero reports whether the id is unset.
func (id BlobID) IsZero() bool {
	return id == BlobID{}
}

// --- SQL type codes ---

// SQLType is the engine type code reported for a parameter or column.
type SQLType int16

const (
	SQLVarying     SQLType = 448
	SQLText        SQLType = 452
	SQLDouble      SQLType = 480
	SQLFloat       SQLType = 482
	SQLLong        SQLType = 496
	SQLShort       SQLType = 500
	SQLTimestamp   SQLType = 510
	SQLBlob        SQLType = 520
	SQLDFloat      SQLType = 530
	SQLArray       SQLType = 540
	SQLQuad        SQLType = 550
	SQLTypeTime    SQLType = 560
	SQLTypeDate    SQLType = 570
	SQLInt64       SQLType = 580
	SQLInt128      SQLType = 32752
	SQLTimestampTZ SQLType = 32754
	SQLTimeTZ      SQLType = 32756
	SQLDec16       SQLType = 32760
	SQLDec34       SQLType = 32762
	SQLBoolean     SQLType = 32764
	SQLNull        SQLType = 32766
)

var sqlTypeNames = map[SQLType]string{
	SQLVarying:     "VARYING",
	SQLText:        "TEXT",
	SQLDouble:      "DOUBLE",
	SQLFloat:       "FLOAT",
	SQLLong:        "LONG",
	SQLShort:       "SHORT",
	SQLTimestamp:   "TIMESTAMP",
	SQLBlob:        "BLOB",
	SQLDFloat:      "D_FLOAT",
	SQLArray:       "ARRAY",
	SQLQuad:        "QUAD",
	SQLTypeTime:    "TIME",
	SQLTypeDate:    "DATE",
	SQLInt64:       "INT64",
	SQLInt128:      "INT128",
	SQLTimestampTZ: "TIMESTAMP_TZ",
	SQLTimeTZ:      "TIME_TZ",
	SQLDec16:       "DEC16",
	SQLDec34:       "DEC34",
	SQLBoolean:     "BOOLEAN",
	SQLNull:        "NULL",
}

func (t SQLType) String() string {
	if name, ok := sqlTypeNames[t]; ok {
		return name
	}
	return "SQLType(" + strconv.Itoa(int(t)) + ")"
}

// Blob sub-types.
const (
	BlobSubTypeBinary int16 = 0
	BlobSubTypeText   int16 = 1
)

// --- Metadata ---

// Field is the raw shape of one input parameter or output column as reported
// by the engine.
type Field struct {
	Alias      string
	Field      string
	Relation   string
	Type       SQLType
	SubType    int16
	Length     uint32 // declared length in bytes, excluding any length prefix
	Scale      int16
	CharSet    int16
	Nullable   bool
	Offset     uint32 // data slot offset inside the message buffer
	NullOffset uint32 // 2-byte null indicator offset inside the message buffer
}

// Metadata is the ordered field list of one message shape together with the
// size of the message buffer it describes.
type Metadata struct {
	Fields []Field
	Length uint32
}

// Count returns the number of fields.
func (m *Metadata) Count() int {
	if m == nil {
		return 0
	}
	return len(m.Fields)
}

// NewBuffer allocates a zeroed message buffer for this shape.
func (m *Metadata) NewBuffer() []byte {
	if m == nil {
		return nil
	}
	return make([]byte, m.Length)
}

// Clone returns a deep copy.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	fields := make([]Field, len(m.Fields))
	copy(fields, m.Fields)
	return &Metadata{Fields: fields, Length: m.Length}
}

// --- Statement and transaction options ---

// StatementType classifies a prepared statement.
type StatementType int

const (
	StatementUnknown StatementType = iota
	StatementSelect
	StatementInsert
	StatementUpdate
	StatementDelete
	StatementDDL
	StatementExecProcedure
	StatementSelectForUpdate
	StatementStartTransaction
	StatementCommit
	StatementRollback
)

// HasCursor reports whether statements of this type produce a result set.
func (t StatementType) HasCursor() bool {
	return t == StatementSelect || t == StatementSelectForUpdate
}

// Isolation is the transaction isolation level.
type Isolation int

const (
	IsolationSnapshot Isolation = iota
	IsolationReadCommitted
	IsolationConsistency
)

// TransactionOptions configures StartTransaction.
type TransactionOptions struct {
	Isolation   Isolation
	ReadOnly    bool
	NoWait      bool
	WaitTimeout int // seconds; 0 waits indefinitely
}

// TransactionEnd selects how EndTransaction finishes a transaction.
type TransactionEnd int

const (
	Commit TransactionEnd = iota
	Rollback
	CommitRetaining
	RollbackRetaining
)

func (e TransactionEnd) String() string {
	switch e {
	case Commit:
		return "commit"
	case Rollback:
		return "rollback"
	case CommitRetaining:
		return "commitRetaining"
	case RollbackRetaining:
		return "rollbackRetaining"
	}
	return fmt.Sprintf("TransactionEnd(%d)", int(e))
}

// Retaining reports whether the transaction handle survives the call.
func (e TransactionEnd) Retaining() bool {
	return e == CommitRetaining || e == RollbackRetaining
}

// FetchDirection selects which row a Fetch call moves to.
type FetchDirection int

const (
	FetchNext FetchDirection = iota
	FetchPrior
	FetchFirst
	FetchLast
	FetchAbsolute
	FetchRelative
)

// FetchStatus is the outcome of a successful Fetch call.
type FetchStatus int

const (
	FetchOK FetchStatus = iota
	FetchNoData
)

// --- Connection options ---

// ConnectOptions identifies a database and the credentials used to attach.
type ConnectOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	Path     string
	Role     string
}

// URI renders the engine connection string: [host[/port]:]path.
func (o ConnectOptions) URI() string {
	if o.Host == "" {
		return o.Path
	}
	host := o.Host
	if o.Port != 0 {
		host += "/" + strconv.Itoa(o.Port)
	}
	return host + ":" + o.Path
}
