package sqlparams

import (
	"regexp"
	"strings"

	"github.com/tomyedwab/nativedb/native"
)

var (
	returningPattern = regexp.MustCompile(`(?i)\bRETURNING\b`)
	forUpdatePattern = regexp.MustCompile(`(?i)\bFOR\s+UPDATE\b`)
)

var leadingKeywords = map[string]native.StatementType{
	"SELECT":   native.StatementSelect,
	"WITH":     native.StatementSelect,
	"VALUES":   native.StatementSelect,
	"INSERT":   native.StatementInsert,
	"UPDATE":   native.StatementUpdate,
	"MERGE":    native.StatementUpdate,
	"DELETE":   native.StatementDelete,
	"CREATE":   native.StatementDDL,
	"ALTER":    native.StatementDDL,
	"DROP":     native.StatementDDL,
	"RECREATE": native.StatementDDL,
	"EXECUTE":  native.StatementExecProcedure,
	"COMMIT":   native.StatementCommit,
	"ROLLBACK": native.StatementRollback,
}

// strip blanks out comments and quoted text.
func strip(sql string) string {
	return quotedPattern.ReplaceAllString(sql, " ")
}

// Classify guesses the statement type from the first keyword of sql.
func Classify(sql string) native.StatementType {
	fields := strings.Fields(strip(sql))
	if len(fields) == 0 {
		return native.StatementUnknown
	}
	word := strings.ToUpper(strings.TrimLeft(fields[0], "("))
	typ, ok := leadingKeywords[word]
	if !ok {
		return native.StatementUnknown
	}
	if typ == native.StatementSelect && forUpdatePattern.MatchString(strip(sql)) {
		return native.StatementSelectForUpdate
	}
	return typ
}

// HasReturning reports whether a data-changing statement hands back rows
// through a RETURNING clause.
func HasReturning(sql string) bool {
	return returningPattern.MatchString(strip(sql))
}
