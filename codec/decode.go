package codec

import (
	"encoding/binary"
	"math"

	"github.com/tomyedwab/nativedb/dberrors"
	"github.com/tomyedwab/nativedb/native"
)

var le = binary.LittleEndian

// IsNull reports whether the null indicator of d is set in buf.
func IsNull(d Descriptor, buf []byte) bool {
	return int16(le.Uint16(buf[d.NullOffset:])) == -1
}

// Decode reads the value of one slot. Null slots decode to nil. Blob slots
// decode to a BlobLink owned by owner.
func Decode(d Descriptor, buf []byte, owner native.AttachmentID) (any, error) {
	if err := d.fits(buf); err != nil {
		return nil, err
	}
	if IsNull(d, buf) {
		return nil, nil
	}
	data := buf[d.Offset : d.Offset+d.Size()]

	switch d.Type {
	case native.SQLVarying:
		n := uint32(le.Uint16(data))
		if n > d.Length {
			return nil, dberrors.Newf(dberrors.ErrorTypeInvalidValue,
				"slot %q holds %d bytes, more than its declared length %d", d.Label(), n, d.Length)
		}
		return string(data[2 : 2+n]), nil

	case native.SQLText:
		return string(data), nil

	case native.SQLDouble, native.SQLDFloat:
		return math.Float64frombits(le.Uint64(data)), nil

	case native.SQLFloat:
		return float64(math.Float32frombits(le.Uint32(data))), nil

	case native.SQLShort:
		return scaled(int64(int16(le.Uint16(data))), d.Scale), nil

	case native.SQLLong:
		return scaled(int64(int32(le.Uint32(data))), d.Scale), nil

	case native.SQLInt64:
		return scaled(int64(le.Uint64(data)), d.Scale), nil

	case native.SQLTypeDate:
		return DecodeDate(int32(le.Uint32(data))), nil

	case native.SQLTypeTime:
		return DecodeTime(le.Uint32(data)), nil

	case native.SQLTimestamp:
		return DecodeTimestamp(int32(le.Uint32(data)), le.Uint32(data[4:])), nil

	case native.SQLBoolean:
		return data[0] != 0, nil

	case native.SQLBlob:
		link := BlobLink{Attachment: owner, SubType: d.SubType}
		copy(link.ID[:], data)
		return link, nil

	case native.SQLNull:
		return nil, nil
	}

	return nil, unsupported(d)
}

// ReadAll decodes every slot of a row.
func ReadAll(descs []Descriptor, buf []byte, owner native.AttachmentID) ([]any, error) {
	row := make([]any, len(descs))
	for i, d := range descs {
		v, err := Decode(d, buf, owner)
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

func scaled(v int64, scale int16) any {
	if scale == 0 {
		return v
	}
	return float64(v) * math.Pow10(int(scale))
}

func unsupported(d Descriptor) error {
	return dberrors.Newf(dberrors.ErrorTypeUnsupportedType, "unsupported type %s for %q", d.Type, d.Label())
}
