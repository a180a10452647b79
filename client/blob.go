package client

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/tomyedwab/nativedb/codec"
	"github.com/tomyedwab/nativedb/dberrors"
	"github.com/tomyedwab/nativedb/native"
)

// SegmentSize is the largest chunk moved by one segment call.
const SegmentSize = 64 * 1024

// BlobStream reads or writes the content of one blob. A stream from
// CreateBlob is write-only; one from OpenBlob is read-only. A stream can be
// passed as a statement parameter to reference the blob it wrote.
type BlobStream struct {
	att   *Attachment
	h     handle[native.BlobHandleID]
	link  codec.BlobLink
	write bool
}

// BlobLink returns the link of the blob behind the stream.
func (b *BlobStream) BlobLink() codec.BlobLink {
	return b.link
}

// IsValid reports whether the stream is still open.
func (b *BlobStream) IsValid() bool {
	return b.h.open
}

// Read reads the next segment into p. It returns io.EOF at the end of the
// blob.
func (b *BlobStream) Read(ctx context.Context, p []byte) (int, error) {
	id, err := b.h.get("blob stream")
	if err != nil {
		return 0, err
	}
	if len(p) > SegmentSize {
		p = p[:SegmentSize]
	}
	n, err := b.att.nc().GetSegment(ctx, id, p)
	if errors.Is(err, io.EOF) {
		return n, io.EOF
	}
	if err != nil {
		return n, dberrors.NativeCallFailed("GetSegment", err)
	}
	return n, nil
}

// ReadAll reads the stream to its end.
func (b *BlobStream) ReadAll(ctx context.Context) ([]byte, error) {
	var out bytes.Buffer
	buf := make([]byte, SegmentSize)
	for {
		n, err := b.Read(ctx, buf)
		out.Write(buf[:n])
		if err == io.EOF {
			return out.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// Write appends p to the blob, one segment at a time.
func (b *BlobStream) Write(ctx context.Context, p []byte) (int, error) {
	id, err := b.h.get("blob stream")
	if err != nil {
		return 0, err
	}
	written := 0
	for written < len(p) {
		end := written + SegmentSize
		if end > len(p) {
			end = len(p)
		}
		if err := b.att.nc().PutSegment(ctx, id, p[written:end]); err != nil {
			return written, dberrors.NativeCallFailed("PutSegment", err)
		}
		written = end
	}
	return written, nil
}

// ReadFrom copies r into the blob until r is exhausted.
func (b *BlobStream) ReadFrom(ctx context.Context, r io.Reader) (int64, error) {
	buf := make([]byte, SegmentSize)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := b.Write(ctx, buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// Close closes the stream. For a written blob this makes the content
// available under its id.
func (b *BlobStream) Close(ctx context.Context) error {
	id, err := b.h.get("blob stream")
	if err != nil {
		return err
	}
	if err := b.att.nc().CloseBlob(ctx, id); err != nil {
		return dberrors.NativeCallFailed("CloseBlob", err)
	}
	b.h.close()
	return nil
}

// Cancel discards a blob being written.
func (b *BlobStream) Cancel(ctx context.Context) error {
	id, err := b.h.get("blob stream")
	if err != nil {
		return err
	}
	if err := b.att.nc().CancelBlob(ctx, id); err != nil {
		return dberrors.NativeCallFailed("CancelBlob", err)
	}
	b.h.close()
	return nil
}

// blobWriter stores blob parameters for the codec within one transaction.
type blobWriter struct {
	att *Attachment
	tr  *Transaction
}

func (w blobWriter) Attachment() native.AttachmentID {
	return w.att.ID()
}

func (w blobWriter) WriteBlob(ctx context.Context, r io.Reader) (native.BlobID, error) {
	stream, err := w.att.CreateBlob(ctx, w.tr)
	if err != nil {
		return native.BlobID{}, err
	}
	if _, err := stream.ReadFrom(ctx, r); err != nil {
		if cancelErr := stream.Cancel(ctx); cancelErr != nil {
			w.att.logger.Warn("Failed to cancel blob", "error", cancelErr)
		}
		return native.BlobID{}, err
	}
	if err := stream.Close(ctx); err != nil {
		return native.BlobID{}, err
	}
	return stream.link.ID, nil
}
