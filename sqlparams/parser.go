// Package sqlparams rewrites named placeholders (:name) into the positional
// markers the native engine understands.
//
// Text inside line comments, block comments, quoted literals, quoted
// identifiers and BEGIN ... END blocks is never treated as a placeholder.
// Every rewritten placeholder keeps its original width so that line and
// column positions reported by the engine still match the caller's text.
package sqlparams

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tomyedwab/nativedb/dberrors"
)

var (
	// Alternatives are tried leftmost-first, so whichever construct opens
	// earliest in the text wins: a "--" inside a literal stays in the literal.
	quotedPattern = regexp.MustCompile(`--[^\n]*|(?s:/\*.*?\*/)|'(?:[^']|'')*'|"(?:[^"]|"")*"`)

	// Greedy: the first BEGIN is paired with the last END.
	blockPattern = regexp.MustCompile(`(?is)\bBEGIN\b.*\bEND\b`)

	placeholderPattern = regexp.MustCompile(`:[A-Za-z_][A-Za-z0-9_$]*`)
)

const maskPrefix = "#SQLPARAMS"

// Parsed is the result of Parse.
type Parsed struct {
	// SQL is the rewritten statement with one '?' per placeholder.
	SQL string
	// Names lists placeholder names in order of appearance. A name used twice
	// appears twice.
	Names []string
}

// HasNames reports whether the original text used named placeholders.
func (p Parsed) HasNames() bool {
	return len(p.Names) > 0
}

// Parse rewrites the named placeholders of sql.
func Parse(sql string) Parsed {
	m := newMasker(sql)
	masked := m.mask(sql)

	var names []string
	rewritten := placeholderPattern.ReplaceAllStringFunc(masked, func(ph string) string {
		names = append(names, ph[1:])
		return "?" + strings.Repeat(" ", len(ph)-1)
	})

	return Parsed{SQL: m.restore(rewritten), Names: names}
}

// CountPositional returns the number of '?' markers outside comments, quoted
// text and BEGIN ... END blocks.
func CountPositional(sql string) int {
	m := newMasker(sql)
	return strings.Count(m.mask(sql), "?")
}

// Bind projects params onto the placeholder order of p.
//
// A nil params yields no values. A []any is returned unchanged; the caller
// vouches for its order. A map[string]any is looked up by name for each
// placeholder; the first missing name fails with MissingParameter.
func (p Parsed) Bind(params any) ([]any, error) {
	switch v := params.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return v, nil
	case map[string]any:
		values := make([]any, len(p.Names))
		for i, name := range p.Names {
			value, ok := v[name]
			if !ok {
				return nil, dberrors.Newf(dberrors.ErrorTypeMissingParameter,
					"missing value for parameter %q in %q", name, p.SQL)
			}
			values[i] = value
		}
		return values, nil
	}
	return nil, dberrors.Newf(dberrors.ErrorTypeInvalidValue,
		"parameters must be a list or a name map, got %T", params)
}

// masker swaps spans of SQL text for tokens that do not occur in the
// original text, and swaps them back afterwards.
type masker struct {
	original string
	counter  int
	tokens   []string
	spans    []string
}

func newMasker(original string) *masker {
	return &masker{original: original}
}

func (m *masker) mask(sql string) string {
	sql = quotedPattern.ReplaceAllStringFunc(sql, m.token)
	return blockPattern.ReplaceAllStringFunc(sql, m.token)
}

func (m *masker) token(span string) string {
	var tok string
	for {
		m.counter++
		tok = maskPrefix + strconv.Itoa(m.counter) + "#"
		if !strings.Contains(m.original, tok) {
			break
		}
	}
	m.tokens = append(m.tokens, tok)
	m.spans = append(m.spans, span)
	return tok
}

// restore undoes mask. Later spans may contain earlier tokens, so tokens are
// replaced newest first.
func (m *masker) restore(sql string) string {
	for i := len(m.tokens) - 1; i >= 0; i-- {
		sql = strings.Replace(sql, m.tokens[i], m.spans[i], 1)
	}
	return sql
}
