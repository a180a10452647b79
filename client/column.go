package client

import (
	"strconv"
	"strings"

	"github.com/tomyedwab/nativedb/codec"
	"github.com/tomyedwab/nativedb/dberrors"
)

// ColumnRef selects a result column either by zero-based position or by
// label. Build one with ByIndex or ByName.
type ColumnRef struct {
	index  int
	name   string
	byName bool
}

// ByIndex refers to the column at position i.
func ByIndex(i int) ColumnRef {
	return ColumnRef{index: i}
}

// ByName refers to the column labelled name. An exact match wins over a
// case-insensitive one.
func ByName(name string) ColumnRef {
	return ColumnRef{name: name, byName: true}
}

func (r ColumnRef) String() string {
	if r.byName {
		return strconv.Quote(r.name)
	}
	return strconv.Itoa(r.index)
}

func (r ColumnRef) resolve(descs []codec.Descriptor) (int, error) {
	if !r.byName {
		if r.index < 0 || r.index >= len(descs) {
			return 0, dberrors.Newf(dberrors.ErrorTypeIndexNotFound,
				"column index %d is out of range, result has %d columns", r.index, len(descs))
		}
		return r.index, nil
	}
	for i, d := range descs {
		if d.Label() == r.name {
			return i, nil
		}
	}
	for i, d := range descs {
		if strings.EqualFold(d.Label(), r.name) {
			return i, nil
		}
	}
	return 0, dberrors.Newf(dberrors.ErrorTypeNameNotFound, "no column named %q", r.name)
}
