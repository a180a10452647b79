package native

import (
	"errors"
	"fmt"
	"strings"
)

// Engine status codes used by the bundled engines.
const (
	StatusBadDBHandle      int32 = 335544324
	StatusBadTransHandle   int32 = 335544332
	StatusBadStmtHandle    int32 = 335544485
	StatusBadSegstrHandle  int32 = 335544328
	StatusDSQLError        int32 = 335544569
	StatusIOError          int32 = 335544344
	StatusDatabaseExists   int32 = 335544773
	StatusUnavailable      int32 = 335544375
	StatusStreamNotDefined int32 = 335544577
	StatusConvertError     int32 = 335544334
	StatusSegstrEOF        int32 = 335544367
	StatusBadBlobID        int32 = 335544329
)

// Status is the error carrier returned by native calls.
type Status struct {
	Code     int32
	SQLCode  int32
	Messages []string
}

func (s *Status) Error() string {
	msg := strings.Join(s.Messages, "\n-")
	if msg == "" {
		msg = "unknown engine error"
	}
	if s.SQLCode != 0 {
		return fmt.Sprintf("%s (code %d, sqlcode %d)", msg, s.Code, s.SQLCode)
	}
	return fmt.Sprintf("%s (code %d)", msg, s.Code)
}

// NewStatus builds a Status with a single formatted message.
func NewStatus(code int32, format string, args ...any) *Status {
	return &Status{Code: code, Messages: []string{fmt.Sprintf(format, args...)}}
}

// StatusCode extracts the engine code from err, or 0 if err carries none.
func StatusCode(err error) int32 {
	var st *Status
	if errors.As(err, &st) {
		return st.Code
	}
	return 0
}
