package codec

import (
	"context"
	"io"

	"github.com/tomyedwab/nativedb/native"
)

// BlobLink is the token a blob column decodes to. It names a stored blob but
// does not carry its content: the bytes are read with a separate streaming
// call on the attachment that owns the link.
type BlobLink struct {
	Attachment native.AttachmentID
	ID         native.BlobID
	SubType    int16
}

// BlobLink lets a bare link be used wherever a BlobLinker is expected.
func (l BlobLink) BlobLink() BlobLink {
	return l
}

// IsText reports whether the blob holds text rather than binary data.
func (l BlobLink) IsText() bool {
	return l.SubType == native.BlobSubTypeText
}

// BlobLinker is implemented by values that reference an existing blob.
type BlobLinker interface {
	BlobLink() BlobLink
}

// BlobWriter stores blob content on behalf of Encode. It is bound to one
// attachment and one transaction.
type BlobWriter interface {
	Attachment() native.AttachmentID
	// WriteBlob creates a blob, copies r into it and closes it.
	WriteBlob(ctx context.Context, r io.Reader) (native.BlobID, error)
}
