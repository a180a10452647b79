// Package nativetest provides an in-memory native.Client for tests.
package nativetest

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tomyedwab/nativedb/codec"
	"github.com/tomyedwab/nativedb/native"
	"github.com/tomyedwab/nativedb/sqlparams"
)

// MockResult scripts what a prepared SQL text describes and produces.
type MockResult struct {
	Type native.StatementType
	// Params describes the inputs. When nil, every '?' becomes a nullable
	// VARYING(255) parameter.
	Params   []native.Field
	Columns  []native.Field
	Rows     [][]any
	Affected int64
}

// MockCall is one recorded call on the mock.
type MockCall struct {
	Method string
	Handle string
	SQL    string
	Params []any
}

type mockStatement struct {
	att    native.AttachmentID
	sql    string
	in     *native.Metadata
	out    *native.Metadata
	result *MockResult
}

type mockCursor struct {
	att  native.AttachmentID
	out  *native.Metadata
	rows [][]any
	pos  int
}

type mockBlob struct {
	id     native.BlobID
	data   *bytes.Buffer
	write  bool
	reader *bytes.Reader
}

// MockClient implements native.Client without an engine.
type MockClient struct {
	mu           sync.Mutex
	results      map[string]*MockResult
	errors       map[string]error
	history      []MockCall
	nextID       int
	attachments  map[native.AttachmentID]bool
	transactions map[native.TransactionID]native.AttachmentID
	statements   map[native.StatementID]*mockStatement
	cursors      map[native.CursorID]*mockCursor
	blobs        map[native.BlobID][]byte
	blobHandles  map[native.BlobHandleID]*mockBlob
}

var _ native.Client = (*MockClient)(nil)

// NewMockClient creates an empty mock.
func NewMockClient() *MockClient {
	return &MockClient{
		results:      make(map[string]*MockResult),
		errors:       make(map[string]error),
		attachments:  make(map[native.AttachmentID]bool),
		transactions: make(map[native.TransactionID]native.AttachmentID),
		statements:   make(map[native.StatementID]*mockStatement),
		cursors:      make(map[native.CursorID]*mockCursor),
		blobs:        make(map[native.BlobID][]byte),
		blobHandles:  make(map[native.BlobHandleID]*mockBlob),
	}
}

// SetMockResult scripts the statement prepared from sql. Surrounding white
// space is ignored when matching.
func (m *MockClient) SetMockResult(sql string, result *MockResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[strings.TrimSpace(sql)] = result
}

// SetMockError makes every call of method fail with err until cleared.
func (m *MockClient) SetMockError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

// ClearMockError removes a failure set with SetMockError.
func (m *MockClient) ClearMockError(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.errors, method)
}

// History returns every recorded call in order.
func (m *MockClient) History() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.history))
	copy(out, m.history)
	return out
}

// Calls counts the recorded calls of method.
func (m *MockClient) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.history {
		if c.Method == method {
			n++
		}
	}
	return n
}

// LastCall returns the most recent call of method.
func (m *MockClient) LastCall(method string) (MockCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].Method == method {
			return m.history[i], true
		}
	}
	return MockCall{}, false
}

// OpenAttachments counts live attachment handles.
func (m *MockClient) OpenAttachments() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attachments)
}

// OpenTransactions counts live transaction handles.
func (m *MockClient) OpenTransactions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transactions)
}

// OpenStatements counts live statement handles.
func (m *MockClient) OpenStatements() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.statements)
}

// OpenCursors counts live cursor handles.
func (m *MockClient) OpenCursors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cursors)
}

// Blob returns the stored content of a blob.
func (m *MockClient) Blob(id native.BlobID) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[id]
	return data, ok
}

// record logs the call and returns the scripted failure for method, if any.
// The caller holds m.mu.
func (m *MockClient) record(call MockCall) error {
	m.history = append(m.history, call)
	return m.errors[call.Method]
}

func (m *MockClient) newID(kind string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", kind, m.nextID)
}

// --- Attachments ---

func (m *MockClient) Attach(ctx context.Context, opts native.ConnectOptions) (native.AttachmentID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(MockCall{Method: "Attach", Handle: opts.URI()}); err != nil {
		return "", err
	}
	att := native.AttachmentID(m.newID("att"))
	m.attachments[att] = true
	return att, nil
}

func (m *MockClient) CreateDatabase(ctx context.Context, opts native.ConnectOptions) (native.AttachmentID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(MockCall{Method: "CreateDatabase", Handle: opts.URI()}); err != nil {
		return "", err
	}
	att := native.AttachmentID(m.newID("att"))
	m.attachments[att] = true
	return att, nil
}

func (m *MockClient) Detach(ctx context.Context, att native.AttachmentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(MockCall{Method: "Detach", Handle: string(att)}); err != nil {
		return err
	}
	return m.dropAttachment(att)
}

func (m *MockClient) DropDatabase(ctx context.Context, att native.AttachmentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(MockCall{Method: "DropDatabase", Handle: string(att)}); err != nil {
		return err
	}
	return m.dropAttachment(att)
}

func (m *MockClient) dropAttachment(att native.AttachmentID) error {
	if !m.attachments[att] {
		return native.NewStatus(native.StatusBadDBHandle, "invalid database handle %s", att)
	}
	delete(m.attachments, att)
	for tr, owner := range m.transactions {
		if owner == att {
			delete(m.transactions, tr)
		}
	}
	for id, stmt := range m.statements {
		if stmt.att == att {
			delete(m.statements, id)
		}
	}
	for id, cur := range m.cursors {
		if cur.att == att {
			delete(m.cursors, id)
		}
	}
	return nil
}

func (m *MockClient) Ping(ctx context.Context, att native.AttachmentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(MockCall{Method: "Ping", Handle: string(att)}); err != nil {
		return err
	}
	if !m.attachments[att] {
		return native.NewStatus(native.StatusBadDBHandle, "invalid database handle %s", att)
	}
	return nil
}

// --- Transactions ---

func (m *MockClient) StartTransaction(ctx context.Context, att native.AttachmentID, opts native.TransactionOptions) (native.TransactionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(MockCall{Method: "StartTransaction", Handle: string(att)}); err != nil {
		return "", err
	}
	if !m.attachments[att] {
		return "", native.NewStatus(native.StatusBadDBHandle, "invalid database handle %s", att)
	}
	tr := native.TransactionID(m.newID("tr"))
	m.transactions[tr] = att
	return tr, nil
}

func (m *MockClient) EndTransaction(ctx context.Context, tr native.TransactionID, end native.TransactionEnd) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(MockCall{Method: "EndTransaction", Handle: string(tr), SQL: end.String()}); err != nil {
		return err
	}
	if _, ok := m.transactions[tr]; !ok {
		return native.NewStatus(native.StatusBadTransHandle, "invalid transaction handle %s", tr)
	}
	if !end.Retaining() {
		delete(m.transactions, tr)
	}
	return nil
}

// --- Statements ---

func (m *MockClient) Prepare(ctx context.Context, att native.AttachmentID, tr native.TransactionID, sql string) (native.StatementID, native.StatementType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(MockCall{Method: "Prepare", Handle: string(tr), SQL: sql}); err != nil {
		return "", native.StatementUnknown, err
	}
	if !m.attachments[att] {
		return "", native.StatementUnknown, native.NewStatus(native.StatusBadDBHandle, "invalid database handle %s", att)
	}
	if _, ok := m.transactions[tr]; !ok {
		return "", native.StatementUnknown, native.NewStatus(native.StatusBadTransHandle, "invalid transaction handle %s", tr)
	}

	result, ok := m.results[strings.TrimSpace(sql)]
	if !ok {
		result = &MockResult{Type: sqlparams.Classify(sql)}
	}

	in := &native.Metadata{Fields: append([]native.Field(nil), result.Params...)}
	if result.Params == nil {
		for i := 0; i < sqlparams.CountPositional(sql); i++ {
			in.Fields = append(in.Fields, native.Field{Type: native.SQLVarying, Length: 255, Nullable: true})
		}
	}
	in.Length = codec.Layout(in.Fields)
	out := &native.Metadata{Fields: append([]native.Field(nil), result.Columns...)}
	out.Length = codec.Layout(out.Fields)

	id := native.StatementID(m.newID("stmt"))
	m.statements[id] = &mockStatement{att: att, sql: sql, in: in, out: out, result: result}
	return id, result.Type, nil
}

func (m *MockClient) FreeStatement(ctx context.Context, stmt native.StatementID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(MockCall{Method: "FreeStatement", Handle: string(stmt)}); err != nil {
		return err
	}
	if _, ok := m.statements[stmt]; !ok {
		return native.NewStatus(native.StatusBadStmtHandle, "invalid statement handle %s", stmt)
	}
	delete(m.statements, stmt)
	return nil
}

func (m *MockClient) InputMetadata(ctx context.Context, stmt native.StatementID) (*native.Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(MockCall{Method: "InputMetadata", Handle: string(stmt)}); err != nil {
		return nil, err
	}
	s, ok := m.statements[stmt]
	if !ok {
		return nil, native.NewStatus(native.StatusBadStmtHandle, "invalid statement handle %s", stmt)
	}
	return s.in.Clone(), nil
}

func (m *MockClient) OutputMetadata(ctx context.Context, stmt native.StatementID) (*native.Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(MockCall{Method: "OutputMetadata", Handle: string(stmt)}); err != nil {
		return nil, err
	}
	s, ok := m.statements[stmt]
	if !ok {
		return nil, native.NewStatus(native.StatusBadStmtHandle, "invalid statement handle %s", stmt)
	}
	return s.out.Clone(), nil
}

// lookup resolves a statement and its transaction and decodes the input
// buffer. The caller holds m.mu.
func (m *MockClient) lookup(stmt native.StatementID, tr native.TransactionID, in *native.Metadata, inBuf []byte) (*mockStatement, []any, error) {
	s, ok := m.statements[stmt]
	if !ok {
		return nil, nil, native.NewStatus(native.StatusBadStmtHandle, "invalid statement handle %s", stmt)
	}
	if _, ok := m.transactions[tr]; !ok {
		return nil, nil, native.NewStatus(native.StatusBadTransHandle, "invalid transaction handle %s", tr)
	}
	params, err := codec.ReadAll(codec.BuildDescriptors(in), inBuf, s.att)
	if err != nil {
		return nil, nil, native.NewStatus(native.StatusConvertError, "%v", err)
	}
	return s, params, nil
}

func (m *MockClient) Execute(ctx context.Context, stmt native.StatementID, tr native.TransactionID, in *native.Metadata, inBuf []byte, out *native.Metadata, outBuf []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := MockCall{Method: "Execute", Handle: string(stmt)}
	s, params, lookupErr := m.lookup(stmt, tr, in, inBuf)
	call.Params = params
	if s != nil {
		call.SQL = s.sql
	}
	if err := m.record(call); err != nil {
		return 0, err
	}
	if lookupErr != nil {
		return 0, lookupErr
	}

	if out.Count() > 0 {
		if len(s.result.Rows) > 0 {
			if err := m.writeRow(ctx, s.att, out, outBuf, s.result.Rows[0]); err != nil {
				return 0, err
			}
		}
		return int64(len(s.result.Rows)), nil
	}
	return s.result.Affected, nil
}

func (m *MockClient) OpenCursor(ctx context.Context, stmt native.StatementID, tr native.TransactionID, in *native.Metadata, inBuf []byte, out *native.Metadata) (native.CursorID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := MockCall{Method: "OpenCursor", Handle: string(stmt)}
	s, params, lookupErr := m.lookup(stmt, tr, in, inBuf)
	call.Params = params
	if s != nil {
		call.SQL = s.sql
	}
	if err := m.record(call); err != nil {
		return "", err
	}
	if lookupErr != nil {
		return "", lookupErr
	}
	cur := native.CursorID(m.newID("cur"))
	m.cursors[cur] = &mockCursor{att: s.att, out: out, rows: s.result.Rows, pos: -1}
	return cur, nil
}

func (m *MockClient) Fetch(ctx context.Context, cur native.CursorID, dir native.FetchDirection, pos int32, outBuf []byte) (native.FetchStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(MockCall{Method: "Fetch", Handle: string(cur)}); err != nil {
		return native.FetchNoData, err
	}
	c, ok := m.cursors[cur]
	if !ok {
		return native.FetchNoData, native.NewStatus(native.StatusBadStmtHandle, "cursor %s is not open", cur)
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

	if target < 0 {
		c.pos = -1
		return native.FetchNoData, nil
	}
	if target >= n {
		c.pos = n
		return native.FetchNoData, nil
	}
	c.pos = target
	if err := m.writeRow(ctx, c.att, c.out, outBuf, c.rows[target]); err != nil {
		return native.FetchNoData, err
	}
	return native.FetchOK, nil
}

func (m *MockClient) CloseCursor(ctx context.Context, cur native.CursorID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(MockCall{Method: "CloseCursor", Handle: string(cur)}); err != nil {
		return err
	}
	if _, ok := m.cursors[cur]; !ok {
		return native.NewStatus(native.StatusBadStmtHandle, "cursor %s is not open", cur)
	}
	delete(m.cursors, cur)
	return nil
}

// writeRow encodes a scripted row. []byte cells of blob columns are stored
// as new blobs. The caller holds m.mu.
func (m *MockClient) writeRow(ctx context.Context, att native.AttachmentID, out *native.Metadata, buf []byte, row []any) error {
	descs := codec.BuildDescriptors(out)
	if len(row) != len(descs) {
		return native.NewStatus(native.StatusDSQLError, "scripted row has %d values for %d columns", len(row), len(descs))
	}
	if err := codec.WriteAll(ctx, lockedWriter{m: m, att: att}, descs, buf, row); err != nil {
		return native.NewStatus(native.StatusConvertError, "%v", err)
	}
	return nil
}

// lockedWriter stores blobs while the mock lock is already held.
type lockedWriter struct {
	m   *MockClient
	att native.AttachmentID
}

func (w lockedWriter) Attachment() native.AttachmentID {
	return w.att
}

func (w lockedWriter) WriteBlob(ctx context.Context, r io.Reader) (native.BlobID, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return native.BlobID{}, err
	}
	id := w.m.newBlobID()
	w.m.blobs[id] = data
	return id, nil
}

func (m *MockClient) newBlobID() native.BlobID {
	m.nextID++
	var id native.BlobID
	binary.BigEndian.PutUint64(id[:], uint64(m.nextID))
	return id
}

// --- Blobs ---

func (m *MockClient) CreateBlob(ctx context.Context, att native.AttachmentID, tr native.TransactionID) (native.BlobHandleID, native.BlobID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(MockCall{Method: "CreateBlob", Handle: string(tr)}); err != nil {
		return "", native.BlobID{}, err
	}
	if _, ok := m.transactions[tr]; !ok {
		return "", native.BlobID{}, native.NewStatus(native.StatusBadTransHandle, "invalid transaction handle %s", tr)
	}
	id := m.newBlobID()
	h := native.BlobHandleID(m.newID("blob"))
	m.blobHandles[h] = &mockBlob{id: id, data: &bytes.Buffer{}, write: true}
	return h, id, nil
}

func (m *MockClient) OpenBlob(ctx context.Context, att native.AttachmentID, tr native.TransactionID, id native.BlobID) (native.BlobHandleID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(MockCall{Method: "OpenBlob", Handle: string(tr)}); err != nil {
		return "", err
	}
	if _, ok := m.transactions[tr]; !ok {
		return "", native.NewStatus(native.StatusBadTransHandle, "invalid transaction handle %s", tr)
	}
	data, ok := m.blobs[id]
	if !ok {
		return "", native.NewStatus(native.StatusBadBlobID, "invalid blob id %x", id[:])
	}
	h := native.BlobHandleID(m.newID("blob"))
	m.blobHandles[h] = &mockBlob{id: id, reader: bytes.NewReader(data)}
	return h, nil
}

func (m *MockClient) GetSegment(ctx context.Context, blob native.BlobHandleID, buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(MockCall{Method: "GetSegment", Handle: string(blob)}); err != nil {
		return 0, err
	}
	b, ok := m.blobHandles[blob]
	if !ok || b.reader == nil {
		return 0, native.NewStatus(native.StatusBadSegstrHandle, "blob %s is not open for reading", blob)
	}
	return b.reader.Read(buf)
}

func (m *MockClient) PutSegment(ctx context.Context, blob native.BlobHandleID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(MockCall{Method: "PutSegment", Handle: string(blob)}); err != nil {
		return err
	}
	b, ok := m.blobHandles[blob]
	if !ok || !b.write {
		return native.NewStatus(native.StatusBadSegstrHandle, "blob %s is not open for writing", blob)
	}
	b.data.Write(data)
	return nil
}

func (m *MockClient) CloseBlob(ctx context.Context, blob native.BlobHandleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(MockCall{Method: "CloseBlob", Handle: string(blob)}); err != nil {
		return err
	}
	b, ok := m.blobHandles[blob]
	if !ok {
		return native.NewStatus(native.StatusBadSegstrHandle, "invalid blob handle %s", blob)
	}
	if b.write {
		m.blobs[b.id] = b.data.Bytes()
	}
	delete(m.blobHandles, blob)
	return nil
}

func (m *MockClient) CancelBlob(ctx context.Context, blob native.BlobHandleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(MockCall{Method: "CancelBlob", Handle: string(blob)}); err != nil {
		return err
	}
	if _, ok := m.blobHandles[blob]; !ok {
		return native.NewStatus(native.StatusBadSegstrHandle, "invalid blob handle %s", blob)
	}
	delete(m.blobHandles, blob)
	return nil
}
