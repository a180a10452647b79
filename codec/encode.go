package codec

import (
	"bytes"
	"context"
	"database/sql/driver"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tomyedwab/nativedb/dberrors"
	"github.com/tomyedwab/nativedb/native"
)

// Encode stores value into the slot described by d. A nil value sets the null
// indicator. Values implementing driver.Valuer are resolved first.
//
// Blob slots accept raw content ([]byte, string or io.Reader), which is
// written through w before its id is stored, or a BlobLinker owned by the same
// attachment as w.
func Encode(ctx context.Context, w BlobWriter, d Descriptor, buf []byte, value any) error {
	if err := d.fits(buf); err != nil {
		return err
	}
	if valuer, ok := value.(driver.Valuer); ok {
		v, err := valuer.Value()
		if err != nil {
			return dberrors.Wrap(dberrors.ErrorTypeInvalidValue, fmt.Sprintf("value for %q", d.Label()), err)
		}
		value = v
	}
	if value == nil {
		le.PutUint16(buf[d.NullOffset:], 0xFFFF)
		return nil
	}
	le.PutUint16(buf[d.NullOffset:], 0)
	data := buf[d.Offset : d.Offset+d.Size()]

	switch d.Type {
	case native.SQLVarying, native.SQLText:
		b, err := textBytes(d, value)
		if err != nil {
			return err
		}
		if uint32(len(b)) > d.Length {
			return dberrors.Newf(dberrors.ErrorTypeParameterTooLong,
				"length in bytes of %q (%d) is greater than maximum expected length %d", d.Label(), len(b), d.Length)
		}
		if d.Type == native.SQLVarying {
			le.PutUint16(data, uint16(len(b)))
			copy(data[2:], b)
			return nil
		}
		n := copy(data, b)
		for i := n; i < len(data); i++ {
			data[i] = ' '
		}
		return nil

	case native.SQLDouble, native.SQLDFloat:
		f, err := toFloat(d, value)
		if err != nil {
			return err
		}
		le.PutUint64(data, math.Float64bits(f))
		return nil

	case native.SQLFloat:
		f, err := toFloat(d, value)
		if err != nil {
			return err
		}
		le.PutUint32(data, math.Float32bits(float32(f)))
		return nil

	case native.SQLShort:
		n, err := toScaledInt(d, value, math.MinInt16, math.MaxInt16)
		if err != nil {
			return err
		}
		le.PutUint16(data, uint16(int16(n)))
		return nil

	case native.SQLLong:
		n, err := toScaledInt(d, value, math.MinInt32, math.MaxInt32)
		if err != nil {
			return err
		}
		le.PutUint32(data, uint32(int32(n)))
		return nil

	case native.SQLInt64:
		n, err := toScaledInt(d, value, math.MinInt64, math.MaxInt64)
		if err != nil {
			return err
		}
		le.PutUint64(data, uint64(n))
		return nil

	case native.SQLTypeDate:
		t, err := toTime(d, value)
		if err != nil {
			return err
		}
		le.PutUint32(data, uint32(EncodeDate(t)))
		return nil

	case native.SQLTypeTime:
		t, err := toTime(d, value)
		if err != nil {
			return err
		}
		le.PutUint32(data, EncodeTime(t))
		return nil

	case native.SQLTimestamp:
		t, err := toTime(d, value)
		if err != nil {
			return err
		}
		le.PutUint32(data, uint32(EncodeDate(t)))
		le.PutUint32(data[4:], EncodeTime(t))
		return nil

	case native.SQLBoolean:
		b, err := toBool(d, value)
		if err != nil {
			return err
		}
		data[0] = 0
		if b {
			data[0] = 1
		}
		return nil

	case native.SQLBlob:
		id, err := blobID(ctx, w, d, value)
		if err != nil {
			return err
		}
		copy(data, id[:])
		return nil

	case native.SQLNull:
		return nil
	}

	return unsupported(d)
}

// WriteAll encodes one value per descriptor into buf.
func WriteAll(ctx context.Context, w BlobWriter, descs []Descriptor, buf []byte, values []any) error {
	if len(values) != len(descs) {
		return dberrors.Newf(dberrors.ErrorTypeParameterCountMismatch,
			"statement expects %d parameters, %d given", len(descs), len(values))
	}
	for i, d := range descs {
		if err := Encode(ctx, w, d, buf, values[i]); err != nil {
			return fmt.Errorf("parameter %d: %w", i+1, err)
		}
	}
	return nil
}

func blobID(ctx context.Context, w BlobWriter, d Descriptor, value any) (native.BlobID, error) {
	var r io.Reader
	switch v := value.(type) {
	case BlobLinker:
		link := v.BlobLink()
		if w == nil || link.Attachment != w.Attachment() {
			return native.BlobID{}, dberrors.Newf(dberrors.ErrorTypeInvalidBlobReference,
				"blob for %q belongs to a different connection", d.Label())
		}
		return link.ID, nil
	case []byte:
		r = bytes.NewReader(v)
	case string:
		r = strings.NewReader(v)
	case io.Reader:
		r = v
	default:
		return native.BlobID{}, invalid(d, value)
	}
	if w == nil {
		return native.BlobID{}, dberrors.Newf(dberrors.ErrorTypeNeedTransaction,
			"writing blob content for %q needs a transaction", d.Label())
	}
	return w.WriteBlob(ctx, r)
}

func textBytes(d Descriptor, value any) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case bool:
		return []byte(strconv.FormatBool(v)), nil
	case time.Time:
		return []byte(v.Format(textTimeLayout)), nil
	case float32:
		return []byte(strconv.FormatFloat(float64(v), 'g', -1, 32)), nil
	case float64:
		return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	}
	if n, ok := asInt64(value); ok {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	if n, ok := value.(uint64); ok {
		return []byte(strconv.FormatUint(n, 10)), nil
	}
	return nil, invalid(d, value)
}

func toFloat(d Descriptor, value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, invalid(d, value)
		}
		return f, nil
	case []byte:
		return toFloat(d, string(v))
	}
	if n, ok := asInt64(value); ok {
		return float64(n), nil
	}
	return 0, invalid(d, value)
}

// toScaledInt converts value to the integer stored for an exact numeric of
// the descriptor's scale.
func toScaledInt(d Descriptor, value any, lo, hi int64) (int64, error) {
	var n int64
	if i, ok := asInt64(value); ok && d.Scale == 0 {
		n = i
	} else {
		f, err := toFloat(d, value)
		if err != nil {
			return 0, err
		}
		f = math.Round(f * math.Pow10(-int(d.Scale)))
		// float64(hi) rounds up to 2^63 for int64, so the upper bound is
		// exclusive at hi+1.
		if math.IsNaN(f) || f < float64(lo) || f >= float64(hi)+1 {
			return 0, outOfRange(d, value)
		}
		n = int64(f)
	}
	if n < lo || n > hi {
		return 0, outOfRange(d, value)
	}
	return n, nil
}

func toTime(d Descriptor, value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		if t, ok := parseTime(strings.TrimSpace(v)); ok {
			return t, nil
		}
	case []byte:
		if t, ok := parseTime(strings.TrimSpace(string(v))); ok {
			return t, nil
		}
	}
	return time.Time{}, invalid(d, value)
}

func toBool(d Descriptor, value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, invalid(d, value)
		}
		return b, nil
	case []byte:
		return toBool(d, string(v))
	}
	if n, ok := asInt64(value); ok {
		return n != 0, nil
	}
	return false, invalid(d, value)
}

func asInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), uint64(v) <= math.MaxInt64
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), v <= math.MaxInt64
	}
	return 0, false
}

func invalid(d Descriptor, value any) error {
	return dberrors.Newf(dberrors.ErrorTypeInvalidValue, "cannot store %T in %s slot %q", value, d.Type, d.Label())
}

func outOfRange(d Descriptor, value any) error {
	return dberrors.Newf(dberrors.ErrorTypeInvalidValue, "value %v is out of range for %s slot %q", value, d.Type, d.Label())
}
