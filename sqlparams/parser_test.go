package sqlparams

import (
	"reflect"
	"strings"
	"testing"

	"github.com/tomyedwab/nativedb/dberrors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		sql   string
		want  string
		names []string
	}{
		{
			name:  "single placeholder",
			sql:   "SELECT FIRST 1 * FROM T WHERE A = :a",
			want:  "SELECT FIRST 1 * FROM T WHERE A = ? ",
			names: []string{"a"},
		},
		{
			name:  "padding keeps width",
			sql:   "UPDATE t SET name = :name WHERE id = :id",
			want:  "UPDATE t SET name = ?     WHERE id = ?  ",
			names: []string{"name", "id"},
		},
		{
			name:  "duplicates kept",
			sql:   "SELECT :a + :b + :a FROM rdb$database",
			want:  "SELECT ?  + ?  + ?  FROM rdb$database",
			names: []string{"a", "b", "a"},
		},
		{
			name:  "line comment",
			sql:   "SELECT :x -- :y\nFROM t",
			want:  "SELECT ?  -- :y\nFROM t",
			names: []string{"x"},
		},
		{
			name:  "block comment",
			sql:   "SELECT /* :z\n :w */ :x FROM t",
			want:  "SELECT /* :z\n :w */ ?  FROM t",
			names: []string{"x"},
		},
		{
			name:  "string literal",
			sql:   "SELECT * FROM t WHERE a = ':w' AND b = :b",
			want:  "SELECT * FROM t WHERE a = ':w' AND b = ? ",
			names: []string{"b"},
		},
		{
			name:  "escaped quote",
			sql:   "SELECT 'it'':s' FROM t WHERE a = :p",
			want:  "SELECT 'it'':s' FROM t WHERE a = ? ",
			names: []string{"p"},
		},
		{
			name:  "comment marker inside literal",
			sql:   "SELECT 'a--b' FROM t WHERE a = :p",
			want:  "SELECT 'a--b' FROM t WHERE a = ? ",
			names: []string{"p"},
		},
		{
			name:  "literal holding only a comment marker",
			sql:   "SELECT '--' , :a FROM t",
			want:  "SELECT '--' , ?  FROM t",
			names: []string{"a"},
		},
		{
			name:  "quote inside line comment",
			sql:   "SELECT :a -- it's\nFROM t WHERE b = :b",
			want:  "SELECT ?  -- it's\nFROM t WHERE b = ? ",
			names: []string{"a", "b"},
		},
		{
			name:  "comment opener inside literal",
			sql:   "SELECT '/*' , :a , '*/' FROM t",
			want:  "SELECT '/*' , ?  , '*/' FROM t",
			names: []string{"a"},
		},
		{
			name:  "quoted identifier",
			sql:   `SELECT "col:v" FROM t WHERE a = :v`,
			want:  `SELECT "col:v" FROM t WHERE a = ? `,
			names: []string{"v"},
		},
		{
			name:  "begin end block",
			sql:   "EXECUTE BLOCK (p INT = :p) AS BEGIN x = :local; END",
			want:  "EXECUTE BLOCK (p INT = ? ) AS BEGIN x = :local; END",
			names: []string{"p"},
		},
		{
			name:  "begin end is greedy",
			sql:   "begin :a end :b BEGIN :c END :d",
			want:  "begin :a end :b BEGIN :c END ? ",
			names: []string{"d"},
		},
		{
			name:  "nested block comment closes early",
			sql:   "/* /* */ :a */",
			want:  "/* /* */ ?  */",
			names: []string{"a"},
		},
		{
			name:  "dollar in name",
			sql:   "SELECT :a$b",
			want:  "SELECT ?   ",
			names: []string{"a$b"},
		},
		{
			name:  "positional markers untouched",
			sql:   "SELECT ? FROM t WHERE a = ?",
			want:  "SELECT ? FROM t WHERE a = ?",
			names: nil,
		},
		{
			name:  "mask token already in text",
			sql:   "SELECT '#SQLPARAMS1#', :a -- c",
			want:  "SELECT '#SQLPARAMS1#', ?  -- c",
			names: []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.sql)
			if got.SQL != tt.want {
				t.Errorf("SQL = %q, want %q", got.SQL, tt.want)
			}
			if len(got.SQL) != len(tt.sql) {
				t.Errorf("rewritten length %d differs from original %d", len(got.SQL), len(tt.sql))
			}
			if !reflect.DeepEqual(got.Names, tt.names) {
				t.Errorf("Names = %v, want %v", got.Names, tt.names)
			}
		})
	}
}

func TestBind(t *testing.T) {
	p := Parse("SELECT FIRST 1 * FROM T WHERE A = :a")
	values, err := p.Bind(map[string]any{"a": 5})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if !reflect.DeepEqual(values, []any{5}) {
		t.Fatalf("values = %v", values)
	}

	p = Parse("SELECT :a, :b, :a FROM t")
	values, err = p.Bind(map[string]any{"b": "two", "a": 1, "unused": true})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if !reflect.DeepEqual(values, []any{1, "two", 1}) {
		t.Fatalf("values = %v", values)
	}

	list := []any{3, 2, 1}
	values, err = p.Bind(list)
	if err != nil || !reflect.DeepEqual(values, list) {
		t.Fatalf("list passthrough = %v, %v", values, err)
	}

	values, err = p.Bind(nil)
	if err != nil || len(values) != 0 {
		t.Fatalf("nil params = %v, %v", values, err)
	}
}

func TestBindMissingParameter(t *testing.T) {
	p := Parse("SELECT * FROM t WHERE a = :a AND b = :b")
	_, err := p.Bind(map[string]any{"a": 1})
	if !dberrors.Is(err, dberrors.ErrorTypeMissingParameter) {
		t.Fatalf("expected MissingParameter, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, `"b"`) || !strings.Contains(msg, p.SQL) {
		t.Fatalf("error should name the key and carry the rewritten SQL: %s", msg)
	}
}

func TestBindRejectsOtherTypes(t *testing.T) {
	_, err := Parse("SELECT :a").Bind(42)
	if !dberrors.Is(err, dberrors.ErrorTypeInvalidValue) {
		t.Fatalf("expected InvalidValue, got %v", err)
	}
}

func TestCountPositional(t *testing.T) {
	sql := "SELECT ? FROM t WHERE a = '?' -- ?\n AND b = ? /* ? */"
	if n := CountPositional(sql); n != 2 {
		t.Fatalf("CountPositional = %d, want 2", n)
	}
	if n := CountPositional(Parse("SELECT :a, :b").SQL); n != 2 {
		t.Fatalf("CountPositional of rewritten SQL = %d, want 2", n)
	}
}
