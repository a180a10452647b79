package host

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tomyedwab/nativedb/codec"
	"github.com/tomyedwab/nativedb/native"
)

const (
	maxVarying   = 32765
	bytesPerChar = 4
	charSetUTF8  = 4
)

// declPattern splits a declared column type such as "NUMERIC(10, 2)" into
// its name and arguments.
var declPattern = regexp.MustCompile(`^\s*([A-Z][A-Z0-9_ ]*?)\s*(?:\(\s*(\d+)\s*(?:,\s*(\d+)\s*)?\))?\s*$`)

// inputMetadata describes n parameters. SQLite binds loosely, so every
// parameter is sent as text and converted by column affinity.
func inputMetadata(n int) *native.Metadata {
	meta := &native.Metadata{Fields: make([]native.Field, n)}
	for i := range meta.Fields {
		meta.Fields[i] = native.Field{
			Type:     native.SQLVarying,
			Length:   maxVarying,
			CharSet:  charSetUTF8,
			Nullable: true,
		}
	}
	meta.Length = codec.Layout(meta.Fields)
	return meta
}

// columnField maps a declared SQLite column type onto an engine field.
func columnField(name, decl string) native.Field {
	f := native.Field{
		Alias:    name,
		Field:    name,
		Nullable: true,
	}

	base, length, scale := parseDecl(strings.ToUpper(decl))
	switch {
	case base == "":
		f.Type, f.Length, f.CharSet = native.SQLVarying, maxVarying, charSetUTF8
	case base == "NUMERIC" || base == "DECIMAL":
		if length == 0 {
			f.Type, f.Length = native.SQLDouble, 8
			break
		}
		f.Type, f.Length, f.Scale = native.SQLInt64, 8, -int16(scale)
	case base == "BOOLEAN" || base == "BOOL":
		f.Type, f.Length = native.SQLBoolean, 1
	case base == "DATE":
		f.Type, f.Length = native.SQLTypeDate, 4
	case base == "TIME":
		f.Type, f.Length = native.SQLTypeTime, 4
	case base == "TIMESTAMP" || base == "DATETIME":
		f.Type, f.Length = native.SQLTimestamp, 8
	case base == "CLOB" || strings.HasPrefix(base, "BLOB SUB_TYPE"):
		f.Type, f.Length = native.SQLBlob, 8
		if base == "CLOB" || strings.HasSuffix(base, " TEXT") || strings.HasSuffix(base, " 1") {
			f.SubType = native.BlobSubTypeText
		}
	case base == "BLOB":
		f.Type, f.Length = native.SQLBlob, 8
	case strings.Contains(base, "INT"):
		f.Type, f.Length = native.SQLInt64, 8
	case strings.HasPrefix(base, "CHAR") && !strings.Contains(base, "VARYING") || base == "NCHAR":
		if length == 0 {
			length = 1
		}
		f.Type, f.Length, f.CharSet = native.SQLText, uint32(length*bytesPerChar), charSetUTF8
	case strings.Contains(base, "CHAR"):
		f.Type, f.Length, f.CharSet = native.SQLVarying, maxVarying, charSetUTF8
		if length > 0 && length*bytesPerChar < maxVarying {
			f.Length = uint32(length * bytesPerChar)
		}
	case strings.Contains(base, "REAL"), strings.Contains(base, "FLOA"), strings.Contains(base, "DOUB"):
		f.Type, f.Length = native.SQLDouble, 8
	default:
		f.Type, f.Length, f.CharSet = native.SQLVarying, maxVarying, charSetUTF8
	}
	return f
}

func parseDecl(decl string) (base string, length, scale int) {
	m := declPattern.FindStringSubmatch(decl)
	if m == nil {
		return strings.TrimSpace(decl), 0, 0
	}
	base = strings.Join(strings.Fields(m[1]), " ")
	length, _ = strconv.Atoi(m[2])
	scale, _ = strconv.Atoi(m[3])
	return base, length, scale
}
