// Package codec translates Go values to and from the message buffers that the
// native client exchanges for every execute and fetch call.
//
// A message buffer is a flat byte region. Each parameter or column owns a data
// slot and a 2-byte null indicator inside it, at offsets described by a
// Descriptor. Descriptors and buffers always travel together: a buffer is only
// meaningful for the descriptor set it was sized for.
package codec

import (
	"github.com/tomyedwab/nativedb/dberrors"
	"github.com/tomyedwab/nativedb/native"
)

// nullFlagSize is the width of the null indicator preceding every slot read.
const nullFlagSize = 2

// Descriptor is the immutable shape of one input parameter or output column.
type Descriptor struct {
	Alias      string
	Field      string
	Relation   string
	Type       native.SQLType
	SubType    int16
	Length     uint32
	Scale      int16
	CharSet    int16
	Nullable   bool
	Offset     uint32
	NullOffset uint32
}

// Label is the name a caller sees for the slot: its alias, or the underlying
// field name when no alias was given.
func (d Descriptor) Label() string {
	if d.Alias != "" {
		return d.Alias
	}
	return d.Field
}

// Size is the number of buffer bytes the data slot occupies.
func (d Descriptor) Size() uint32 {
	size, _ := storage(d.Type, d.Length)
	return size
}

// fits checks the invariant that both the data slot and the null indicator lie
// inside buf.
func (d Descriptor) fits(buf []byte) error {
	n := uint64(len(buf))
	if uint64(d.Offset)+uint64(d.Size()) > n || uint64(d.NullOffset)+nullFlagSize > n {
		return dberrors.Newf(dberrors.ErrorTypeInvalidValue,
			"slot %q (offset %d, size %d) does not fit a %d-byte message buffer", d.Label(), d.Offset, d.Size(), n)
	}
	return nil
}

// BuildDescriptors derives one descriptor per field of meta, in order.
func BuildDescriptors(meta *native.Metadata) []Descriptor {
	if meta == nil {
		return nil
	}
	descs := make([]Descriptor, len(meta.Fields))
	for i, f := range meta.Fields {
		descs[i] = Descriptor{
			Alias:      f.Alias,
			Field:      f.Field,
			Relation:   f.Relation,
			Type:       f.Type,
			SubType:    f.SubType,
			Length:     f.Length,
			Scale:      f.Scale,
			CharSet:    f.CharSet,
			Nullable:   f.Nullable,
			Offset:     f.Offset,
			NullOffset: f.NullOffset,
		}
	}
	return descs
}

// Labels returns the label of every descriptor.
func Labels(descs []Descriptor) []string {
	labels := make([]string, len(descs))
	for i, d := range descs {
		labels[i] = d.Label()
	}
	return labels
}

// FixMetadata returns a copy of meta with every slot widened onto the small
// set of types the decoder handles directly: fixed text becomes varying text,
// every exact or approximate numeric becomes a double, and zoned date/time
// values become their local variants. Offsets and the message length are
// recomputed for the new shape.
func FixMetadata(meta *native.Metadata) *native.Metadata {
	if meta == nil {
		return &native.Metadata{}
	}
	fixed := meta.Clone()
	for i := range fixed.Fields {
		f := &fixed.Fields[i]
		switch f.Type {
		case native.SQLText:
			f.Type = native.SQLVarying
		case native.SQLShort, native.SQLLong, native.SQLInt64, native.SQLFloat, native.SQLDFloat,
			native.SQLInt128, native.SQLDec16, native.SQLDec34:
			f.Type = native.SQLDouble
			f.Length = 8
			f.Scale = 0
		case native.SQLTimestampTZ:
			f.Type = native.SQLTimestamp
			f.Length = 8
		case native.SQLTimeTZ:
			f.Type = native.SQLTypeTime
			f.Length = 4
		}
	}
	fixed.Length = Layout(fixed.Fields)
	return fixed
}

// Layout assigns data and null-indicator offsets to fields, honouring each
// type's alignment, and returns the resulting message length.
func Layout(fields []native.Field) uint32 {
	var offset uint32
	for i := range fields {
		f := &fields[i]
		size, align := storage(f.Type, f.Length)
		offset = alignUp(offset, align)
		f.Offset = offset
		offset += size
		offset = alignUp(offset, nullFlagSize)
		f.NullOffset = offset
		offset += nullFlagSize
	}
	return offset
}

// storage returns the slot size and alignment of a type.
func storage(t native.SQLType, length uint32) (size, align uint32) {
	switch t {
	case native.SQLVarying:
		return length + 2, 2
	case native.SQLText:
		return length, 1
	case native.SQLShort:
		return 2, 2
	case native.SQLLong, native.SQLFloat, native.SQLTypeDate, native.SQLTypeTime:
		return 4, 4
	case native.SQLDouble, native.SQLDFloat, native.SQLInt64, native.SQLDec16:
		return 8, 8
	case native.SQLInt128, native.SQLDec34:
		return 16, 8
	case native.SQLTimestamp, native.SQLBlob, native.SQLArray, native.SQLQuad:
		return 8, 4
	case native.SQLTimestampTZ:
		return 10, 4
	case native.SQLTimeTZ:
		return 6, 4
	case native.SQLBoolean:
		return 1, 1
	case native.SQLNull:
		return 0, 1
	}
	return length, 1
}

func alignUp(n, align uint32) uint32 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}
