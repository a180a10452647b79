package host

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/tomyedwab/nativedb/native"
)

// blobStore keeps the blobs of one attachment in memory, keyed by 8-byte ids.
type blobStore struct {
	mu    sync.Mutex
	next  uint64
	blobs map[native.BlobID][]byte
}

func newBlobStore() *blobStore {
	return &blobStore{blobs: make(map[native.BlobID][]byte)}
}

func (s *blobStore) reserve() native.BlobID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	var id native.BlobID
	binary.BigEndian.PutUint64(id[:], s.next)
	return id
}

func (s *blobStore) put(id native.BlobID, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[id] = data
}

func (s *blobStore) get(id native.BlobID) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[id]
	return data, ok
}

// storeWriter lets the codec move blob cells of a result row into the store.
type storeWriter struct {
	store *blobStore
	att   native.AttachmentID
}

func (s *blobStore) writer(att native.AttachmentID) storeWriter {
	return storeWriter{store: s, att: att}
}

func (w storeWriter) Attachment() native.AttachmentID {
	return w.att
}

func (w storeWriter) WriteBlob(ctx context.Context, r io.Reader) (native.BlobID, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return native.BlobID{}, err
	}
	id := w.store.reserve()
	w.store.put(id, data)
	return id, nil
}

type blobHandle struct {
	att    *attachment
	id     native.BlobID
	buf    *bytes.Buffer // set while writing
	reader *bytes.Reader // set while reading
}

// CreateBlob opens a new blob for writing. Its content becomes visible under
// the returned id once the handle is closed.
func (e *Engine) CreateBlob(ctx context.Context, attID native.AttachmentID, trID native.TransactionID) (native.BlobHandleID, native.BlobID, error) {
	att, err := e.blobOwner(attID, trID)
	if err != nil {
		return "", native.BlobID{}, err
	}
	b := &blobHandle{att: att, id: att.store.reserve(), buf: &bytes.Buffer{}}
	h := native.BlobHandleID(uuid.NewString())
	e.mu.Lock()
	e.blobs[h] = b
	e.mu.Unlock()
	return h, b.id, nil
}

// OpenBlob opens a stored blob for reading.
func (e *Engine) OpenBlob(ctx context.Context, attID native.AttachmentID, trID native.TransactionID, id native.BlobID) (native.BlobHandleID, error) {
	att, err := e.blobOwner(attID, trID)
	if err != nil {
		return "", err
	}
	data, ok := att.store.get(id)
	if !ok {
		return "", native.NewStatus(native.StatusBadBlobID, "invalid blob id %x", id[:])
	}
	h := native.BlobHandleID(uuid.NewString())
	e.mu.Lock()
	e.blobs[h] = &blobHandle{att: att, id: id, reader: bytes.NewReader(data)}
	e.mu.Unlock()
	return h, nil
}

func (e *Engine) blobOwner(attID native.AttachmentID, trID native.TransactionID) (*attachment, error) {
	t, err := e.transaction(trID)
	if err != nil {
		return nil, err
	}
	if t.att.id != attID {
		return nil, native.NewStatus(native.StatusBadTransHandle,
			"transaction %s does not belong to attachment %s", trID, attID)
	}
	return t.att, nil
}

func (e *Engine) blobHandle(h native.BlobHandleID) (*blobHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.blobs[h]
	if !ok {
		return nil, native.NewStatus(native.StatusBadSegstrHandle, "invalid blob handle %s", h)
	}
	return b, nil
}

// GetSegment reads the next part of a blob opened with OpenBlob.
func (e *Engine) GetSegment(ctx context.Context, h native.BlobHandleID, buf []byte) (int, error) {
	b, err := e.blobHandle(h)
	if err != nil {
		return 0, err
	}
	if b.reader == nil {
		return 0, native.NewStatus(native.StatusBadSegstrHandle, "blob %s is not open for reading", h)
	}
	return b.reader.Read(buf)
}

// PutSegment appends data to a blob created with CreateBlob.
func (e *Engine) PutSegment(ctx context.Context, h native.BlobHandleID, data []byte) error {
	b, err := e.blobHandle(h)
	if err != nil {
		return err
	}
	if b.buf == nil {
		return native.NewStatus(native.StatusBadSegstrHandle, "blob %s is not open for writing", h)
	}
	b.buf.Write(data)
	return nil
}

// CloseBlob closes the handle, storing the content of a written blob.
func (e *Engine) CloseBlob(ctx context.Context, h native.BlobHandleID) error {
	e.mu.Lock()
	b, ok := e.blobs[h]
	delete(e.blobs, h)
	e.mu.Unlock()
	if !ok {
		return native.NewStatus(native.StatusBadSegstrHandle, "invalid blob handle %s", h)
	}
	if b.buf != nil {
		b.att.store.put(b.id, b.buf.Bytes())
	}
	return nil
}

// CancelBlob closes the handle and discards anything written.
func (e *Engine) CancelBlob(ctx context.Context, h native.BlobHandleID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.blobs[h]; !ok {
		return native.NewStatus(native.StatusBadSegstrHandle, "invalid blob handle %s", h)
	}
	delete(e.blobs, h)
	return nil
}
