package client

import (
	"bytes"
	"context"
	"testing"

	"github.com/tomyedwab/nativedb/codec"
	"github.com/tomyedwab/nativedb/dberrors"
	"github.com/tomyedwab/nativedb/native"
	"github.com/tomyedwab/nativedb/native/nativetest"
)

func TestBlobStreamRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, mock, _ := setupTestClient(t)
	att := connect(t, c)
	tr := startTransaction(t, att)

	data := bytes.Repeat([]byte("0123456789"), 7000)
	w, err := att.CreateBlob(ctx, tr)
	if err != nil {
		t.Fatalf("CreateBlob failed: %v", err)
	}
	if _, err := w.Write(ctx, data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if n := mock.Calls("PutSegment"); n != 2 {
		t.Errorf("PutSegment called %d times, want 2 for %d bytes", n, len(data))
	}

	got, err := att.ReadBlob(ctx, tr, w)
	if err != nil {
		t.Fatalf("ReadBlob failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("read %d bytes, want %d", len(got), len(data))
	}
	if err := w.Close(ctx); !dberrors.IsAlreadyDisposed(err) {
		t.Fatalf("expected AlreadyDisposed, got %v", err)
	}
}

func TestBlobParameterIsWrittenBeforeExecute(t *testing.T) {
	ctx := context.Background()
	c, mock, _ := setupTestClient(t)
	att := connect(t, c)
	tr := startTransaction(t, att)

	mock.SetMockResult("INSERT INTO docs (body) VALUES (?)", &nativetest.MockResult{
		Type:     native.StatementInsert,
		Params:   []native.Field{{Type: native.SQLBlob, Length: 8, SubType: native.BlobSubTypeText}},
		Affected: 1,
	})

	if _, err := att.Execute(ctx, tr, "INSERT INTO docs (body) VALUES (?)", []any{"hello"}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	var sequence []string
	for _, call := range mock.History() {
		switch call.Method {
		case "CreateBlob", "PutSegment", "CloseBlob", "Execute":
			sequence = append(sequence, call.Method)
		}
	}
	want := []string{"CreateBlob", "PutSegment", "CloseBlob", "Execute"}
	if len(sequence) != len(want) {
		t.Fatalf("call sequence = %v, want %v", sequence, want)
	}
	for i := range want {
		if sequence[i] != want[i] {
			t.Fatalf("call sequence = %v, want %v", sequence, want)
		}
	}

	call, _ := mock.LastCall("Execute")
	link, ok := call.Params[0].(codec.BlobLink)
	if !ok {
		t.Fatalf("engine received %T, want a blob link", call.Params[0])
	}
	stored, ok := mock.Blob(link.ID)
	if !ok || string(stored) != "hello" {
		t.Fatalf("stored blob = %q", stored)
	}
}

func TestBlobLinkFromAnotherAttachment(t *testing.T) {
	ctx := context.Background()
	c, mock, _ := setupTestClient(t)
	att := connect(t, c)
	other := connect(t, c)
	tr := startTransaction(t, att)
	otherTr := startTransaction(t, other)

	w, err := other.CreateBlob(ctx, otherTr)
	if err != nil {
		t.Fatalf("CreateBlob failed: %v", err)
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	mock.SetMockResult("INSERT INTO docs (body) VALUES (?)", &nativetest.MockResult{
		Type:   native.StatementInsert,
		Params: []native.Field{{Type: native.SQLBlob, Length: 8}},
	})
	_, err = att.Execute(ctx, tr, "INSERT INTO docs (body) VALUES (?)", []any{w})
	if !dberrors.Is(err, dberrors.ErrorTypeInvalidBlobReference) {
		t.Fatalf("expected InvalidBlobReference, got %v", err)
	}
	if _, err := att.OpenBlob(ctx, tr, w); !dberrors.Is(err, dberrors.ErrorTypeInvalidBlobReference) {
		t.Fatalf("expected InvalidBlobReference from OpenBlob, got %v", err)
	}
}

func TestBlobColumnDecodesToLink(t *testing.T) {
	ctx := context.Background()
	c, mock, _ := setupTestClient(t)
	att := connect(t, c)
	tr := startTransaction(t, att)

	mock.SetMockResult("SELECT body FROM docs", &nativetest.MockResult{
		Type:    native.StatementSelect,
		Columns: []native.Field{{Alias: "BODY", Type: native.SQLBlob, Length: 8, SubType: native.BlobSubTypeText}},
		Rows:    [][]any{{[]byte("stored text")}},
	})

	row, err := att.ExecuteSingleton(ctx, tr, "SELECT body FROM docs", nil)
	if err != nil {
		t.Fatalf("ExecuteSingleton failed: %v", err)
	}
	link, ok := row[0].(codec.BlobLink)
	if !ok {
		t.Fatalf("column decoded to %T, want a blob link", row[0])
	}
	if link.Attachment != att.ID() || !link.IsText() {
		t.Fatalf("unexpected link %+v", link)
	}

	data, err := att.ReadBlob(ctx, tr, link)
	if err != nil {
		t.Fatalf("ReadBlob failed: %v", err)
	}
	if string(data) != "stored text" {
		t.Fatalf("blob content = %q", data)
	}
}
