package codec

import (
	"bytes"
	"context"
	"io"
	"math"
	"testing"
	"time"

	"github.com/tomyedwab/nativedb/dberrors"
	"github.com/tomyedwab/nativedb/native"
)

// recordingWriter stores written blobs in memory and hands out sequential ids.
type recordingWriter struct {
	att   native.AttachmentID
	blobs [][]byte
}

func (w *recordingWriter) Attachment() native.AttachmentID {
	return w.att
}

func (w *recordingWriter) WriteBlob(ctx context.Context, r io.Reader) (native.BlobID, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return native.BlobID{}, err
	}
	w.blobs = append(w.blobs, data)
	var id native.BlobID
	id[7] = byte(len(w.blobs))
	return id, nil
}

func layout(fields ...native.Field) ([]Descriptor, []byte) {
	meta := &native.Metadata{Fields: fields}
	meta.Length = Layout(meta.Fields)
	return BuildDescriptors(meta), meta.NewBuffer()
}

func TestLayoutAlignment(t *testing.T) {
	meta := &native.Metadata{Fields: []native.Field{
		{Type: native.SQLText, Length: 3},
		{Type: native.SQLDouble, Length: 8},
		{Type: native.SQLVarying, Length: 5},
		{Type: native.SQLBoolean, Length: 1},
	}}
	meta.Length = Layout(meta.Fields)

	want := []struct{ offset, null uint32 }{
		{0, 4},
		{8, 16},
		{18, 26},
		{28, 30},
	}
	for i, w := range want {
		f := meta.Fields[i]
		if f.Offset != w.offset || f.NullOffset != w.null {
			t.Errorf("field %d: offset %d null %d, want %d %d", i, f.Offset, f.NullOffset, w.offset, w.null)
		}
	}
	if meta.Length != 32 {
		t.Errorf("Length = %d, want 32", meta.Length)
	}
}

func TestFixMetadataWidens(t *testing.T) {
	raw := &native.Metadata{Fields: []native.Field{
		{Alias: "A", Type: native.SQLShort, Length: 2, Scale: -2},
		{Alias: "B", Type: native.SQLText, Length: 10},
		{Alias: "C", Type: native.SQLInt64, Length: 8},
		{Alias: "D", Type: native.SQLFloat, Length: 4},
		{Alias: "E", Type: native.SQLTimestampTZ, Length: 10},
		{Alias: "F", Type: native.SQLBlob, Length: 8, SubType: 1},
		{Alias: "G", Type: native.SQLLong, Length: 4},
	}}
	raw.Length = Layout(raw.Fields)

	fixed := FixMetadata(raw)

	wantTypes := []native.SQLType{
		native.SQLDouble, native.SQLVarying, native.SQLDouble, native.SQLDouble,
		native.SQLTimestamp, native.SQLBlob, native.SQLDouble,
	}
	for i, want := range wantTypes {
		f := fixed.Fields[i]
		if f.Type != want {
			t.Errorf("field %s: type %s, want %s", f.Alias, f.Type, want)
		}
		if f.Scale != 0 {
			t.Errorf("field %s: scale %d, want 0", f.Alias, f.Scale)
		}
	}
	if fixed.Fields[1].Length != 10 {
		t.Errorf("text length changed to %d", fixed.Fields[1].Length)
	}
	if raw.Fields[0].Type != native.SQLShort || raw.Fields[0].Scale != -2 {
		t.Error("FixMetadata mutated its input")
	}

	descs := BuildDescriptors(fixed)
	for _, d := range descs {
		if d.Offset+d.Size() > fixed.Length || d.NullOffset+2 > fixed.Length {
			t.Errorf("slot %s does not fit message of %d bytes", d.Alias, fixed.Length)
		}
	}
}

func TestFixMetadataNil(t *testing.T) {
	fixed := FixMetadata(nil)
	if fixed == nil || fixed.Count() != 0 || fixed.Length != 0 {
		t.Fatalf("unexpected metadata for nil input: %+v", fixed)
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		field native.Field
		value any
	}{
		{"varying", native.Field{Type: native.SQLVarying, Length: 20}, "héllo wörld"},
		{"varying empty", native.Field{Type: native.SQLVarying, Length: 4}, ""},
		{"double", native.Field{Type: native.SQLDouble, Length: 8}, 3.25},
		{"double negative", native.Field{Type: native.SQLDouble, Length: 8}, -1e300},
		{"boolean true", native.Field{Type: native.SQLBoolean, Length: 1}, true},
		{"boolean false", native.Field{Type: native.SQLBoolean, Length: 1}, false},
		{"int64", native.Field{Type: native.SQLInt64, Length: 8}, int64(math.MaxInt64)},
		{"long", native.Field{Type: native.SQLLong, Length: 4}, int64(-42)},
		{"date", native.Field{Type: native.SQLTypeDate, Length: 4}, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"date before epoch", native.Field{Type: native.SQLTypeDate, Length: 4}, time.Date(1800, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"time", native.Field{Type: native.SQLTypeTime, Length: 4}, time.Date(0, 1, 1, 13, 45, 30, 123000000, time.UTC)},
		{"timestamp", native.Field{Type: native.SQLTimestamp, Length: 8}, time.Date(2023, 7, 1, 8, 9, 10, 500000000, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			descs, buf := layout(tt.field)
			if err := Encode(context.Background(), nil, descs[0], buf, tt.value); err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := Decode(descs[0], buf, "att")
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if want, ok := tt.value.(time.Time); ok {
				gotTime, ok := got.(time.Time)
				if !ok || !gotTime.Equal(want) {
					t.Fatalf("got %v, want %v", got, want)
				}
				return
			}
			if got != tt.value {
				t.Fatalf("got %#v, want %#v", got, tt.value)
			}
		})
	}
}

func TestTextIsPadded(t *testing.T) {
	descs, buf := layout(native.Field{Type: native.SQLText, Length: 5})
	if err := Encode(context.Background(), nil, descs[0], buf, "ab"); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, _ := Decode(descs[0], buf, "")
	if got != "ab   " {
		t.Fatalf("got %q", got)
	}
}

func TestScaledNumeric(t *testing.T) {
	descs, buf := layout(native.Field{Type: native.SQLInt64, Length: 8, Scale: -2})
	if err := Encode(context.Background(), nil, descs[0], buf, 12.34); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if raw := int64(le.Uint64(buf[descs[0].Offset:])); raw != 1234 {
		t.Fatalf("stored %d, want 1234", raw)
	}
	got, _ := Decode(descs[0], buf, "")
	if f, ok := got.(float64); !ok || math.Abs(f-12.34) > 1e-9 {
		t.Fatalf("got %#v", got)
	}
}

func TestNullRoundTrip(t *testing.T) {
	descs, buf := layout(
		native.Field{Type: native.SQLVarying, Length: 10, Nullable: true},
		native.Field{Type: native.SQLDouble, Length: 8, Nullable: true},
	)
	for _, d := range descs {
		if err := Encode(context.Background(), nil, d, buf, nil); err != nil {
			t.Fatalf("Encode(nil): %v", err)
		}
		if !IsNull(d, buf) {
			t.Fatal("null flag not set")
		}
		got, err := Decode(d, buf, "")
		if err != nil || got != nil {
			t.Fatalf("Decode = %v, %v", got, err)
		}
	}
}

func TestCoercions(t *testing.T) {
	descs, buf := layout(
		native.Field{Type: native.SQLVarying, Length: 32},
		native.Field{Type: native.SQLDouble, Length: 8},
		native.Field{Type: native.SQLBoolean, Length: 1},
		native.Field{Type: native.SQLTypeTime, Length: 4},
	)
	ctx := context.Background()
	if err := WriteAll(ctx, nil, descs, buf, []any{5, int32(7), "true", "12:30:00"}); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	row, err := ReadAll(descs, buf, "")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if row[0] != "5" || row[1] != 7.0 || row[2] != true {
		t.Fatalf("unexpected row %#v", row)
	}
	if tm := row[3].(time.Time); tm.Hour() != 12 || tm.Minute() != 30 {
		t.Fatalf("unexpected time %v", tm)
	}

	ints, ibuf := layout(
		native.Field{Type: native.SQLInt64, Length: 8},
		native.Field{Type: native.SQLLong, Length: 4},
	)
	for _, v := range []any{float64(math.MaxInt64), uint64(1 << 63), -0x1p64, math.NaN(), "1e19"} {
		if err := Encode(ctx, nil, ints[0], ibuf, v); !dberrors.Is(err, dberrors.ErrorTypeInvalidValue) {
			t.Errorf("Encode(int64, %v): expected InvalidValue, got %v", v, err)
		}
	}
	if err := Encode(ctx, nil, ints[1], ibuf, float64(math.MaxInt32)+1); !dberrors.Is(err, dberrors.ErrorTypeInvalidValue) {
		t.Errorf("Encode(int32, MaxInt32+1): expected InvalidValue, got %v", err)
	}
	if err := Encode(ctx, nil, ints[0], ibuf, float64(math.MinInt64)); err != nil {
		t.Fatalf("Encode(int64, MinInt64): %v", err)
	}
	if v, err := Decode(ints[0], ibuf, ""); err != nil || v != int64(math.MinInt64) {
		t.Errorf("Decode = %v, %v; want MinInt64", v, err)
	}
}

func TestParameterTooLong(t *testing.T) {
	descs, buf := layout(native.Field{Alias: "NAME", Type: native.SQLVarying, Length: 3})
	err := Encode(context.Background(), nil, descs[0], buf, "abcd")
	if !dberrors.Is(err, dberrors.ErrorTypeParameterTooLong) {
		t.Fatalf("expected ParameterTooLong, got %v", err)
	}
	// Multi-byte characters count in bytes.
	err = Encode(context.Background(), nil, descs[0], buf, "éé")
	if !dberrors.Is(err, dberrors.ErrorTypeParameterTooLong) {
		t.Fatalf("expected ParameterTooLong for 4-byte string, got %v", err)
	}
}

func TestUnsupportedType(t *testing.T) {
	descs, buf := layout(native.Field{Type: native.SQLArray, Length: 8})
	if _, err := Decode(descs[0], buf, ""); !dberrors.Is(err, dberrors.ErrorTypeUnsupportedType) {
		t.Fatalf("Decode: expected UnsupportedType, got %v", err)
	}
	if err := Encode(context.Background(), nil, descs[0], buf, 1); !dberrors.Is(err, dberrors.ErrorTypeUnsupportedType) {
		t.Fatalf("Encode: expected UnsupportedType, got %v", err)
	}
}

func TestInvalidValue(t *testing.T) {
	descs, buf := layout(native.Field{Type: native.SQLTypeDate, Length: 4})
	err := Encode(context.Background(), nil, descs[0], buf, struct{}{})
	if !dberrors.Is(err, dberrors.ErrorTypeInvalidValue) {
		t.Fatalf("expected InvalidValue, got %v", err)
	}
}

func TestParameterCountMismatch(t *testing.T) {
	descs, buf := layout(native.Field{Type: native.SQLDouble, Length: 8})
	err := WriteAll(context.Background(), nil, descs, buf, []any{1, 2})
	if !dberrors.Is(err, dberrors.ErrorTypeParameterCountMismatch) {
		t.Fatalf("expected ParameterCountMismatch, got %v", err)
	}
}

func TestDescriptorMustFitBuffer(t *testing.T) {
	descs, buf := layout(native.Field{Type: native.SQLDouble, Length: 8})
	if _, err := Decode(descs[0], buf[:4], ""); !dberrors.Is(err, dberrors.ErrorTypeInvalidValue) {
		t.Fatalf("expected InvalidValue for short buffer, got %v", err)
	}
}

func TestBlobEncoding(t *testing.T) {
	ctx := context.Background()
	descs, buf := layout(native.Field{Alias: "DATA", Type: native.SQLBlob, Length: 8, SubType: native.BlobSubTypeText})
	w := &recordingWriter{att: "att-1"}

	if err := Encode(ctx, w, descs[0], buf, []byte("payload")); err != nil {
		t.Fatalf("Encode bytes: %v", err)
	}
	if len(w.blobs) != 1 || !bytes.Equal(w.blobs[0], []byte("payload")) {
		t.Fatalf("blob not written: %q", w.blobs)
	}

	got, err := Decode(descs[0], buf, "att-1")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	link, ok := got.(BlobLink)
	if !ok {
		t.Fatalf("expected BlobLink, got %T", got)
	}
	if link.Attachment != "att-1" || link.ID[7] != 1 || !link.IsText() {
		t.Fatalf("unexpected link %+v", link)
	}

	// An existing link of the same attachment is stored without writing.
	buf2 := make([]byte, len(buf))
	if err := Encode(ctx, w, descs[0], buf2, link); err != nil {
		t.Fatalf("Encode link: %v", err)
	}
	if len(w.blobs) != 1 {
		t.Fatal("re-encoding a link wrote a new blob")
	}
	if !bytes.Equal(buf2[descs[0].Offset:descs[0].Offset+8], link.ID[:]) {
		t.Fatal("link id not stored")
	}

	other := &recordingWriter{att: "att-2"}
	if err := Encode(ctx, other, descs[0], buf2, link); !dberrors.Is(err, dberrors.ErrorTypeInvalidBlobReference) {
		t.Fatalf("expected InvalidBlobReference, got %v", err)
	}
	if err := Encode(ctx, nil, descs[0], buf2, "text"); !dberrors.Is(err, dberrors.ErrorTypeNeedTransaction) {
		t.Fatalf("expected NeedTransaction without a writer, got %v", err)
	}
}

func TestEngineCalendar(t *testing.T) {
	if d := EncodeDate(Epoch); d != 0 {
		t.Errorf("EncodeDate(epoch) = %d", d)
	}
	unix := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	if d := EncodeDate(unix); d != 40587 {
		t.Errorf("EncodeDate(1970-01-01) = %d, want 40587", d)
	}
	if got := DecodeDate(40587); !got.Equal(unix) {
		t.Errorf("DecodeDate(40587) = %v", got)
	}
	oneSecondOneMilli := time.Date(0, 1, 1, 0, 0, 1, int(time.Millisecond), time.UTC)
	if ticks := EncodeTime(oneSecondOneMilli); ticks != TicksPerSecond+TicksPerMillisecond {
		t.Errorf("EncodeTime = %d, want %d", ticks, TicksPerSecond+TicksPerMillisecond)
	}
}
