package telemetry

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/telemetry-engine/internal/domain"
)

// Diagnostic describes a field whose text could not be converted. The field is
// left absent in the record; the parse itself still succeeds. Outcome is set
// for outcome count failures.
type Diagnostic struct {
	Field    string
	Provider domain.Provider
	Outcome  string
	Value    string
	Err      error
}

func (d Diagnostic) String() string {
	field := d.Field
	if d.Outcome != "" {
		field = field + "[" + d.Outcome + "]"
	}
	if d.Provider != "" {
		field = d.Provider.String() + "." + field
	}
	return fmt.Sprintf("%s: cannot convert %q: %v", field, d.Value, d.Err)
}

// coerced carries the result of converting one optional element text. A nil
// value with a nil err means the element was not present.
type coerced[T any] struct {
	value *T
	err   error
}

func coerceDate(raw *string) coerced[time.Time] {
	if raw == nil {
		return coerced[time.Time]{}
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		return coerced[time.Time]{err: fmt.Errorf("invalid date-time: %w", err)}
	}
	return coerced[time.Time]{value: &t}
}

func coerceInt(raw *string) coerced[int64] {
	if raw == nil {
		return coerced[int64]{}
	}
	n, err := strconv.ParseInt(*raw, 10, 64)
	if err != nil {
		return coerced[int64]{err: fmt.Errorf("invalid integer: %w", err)}
	}
	return coerced[int64]{value: &n}
}

// splitList splits a comma separated value. Entries are kept verbatim, so
// surrounding whitespace and duplicates survive. Trailing empty entries are
// dropped and an empty input yields an empty list.
func splitList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	end := len(parts)
	for end > 0 && parts[end-1] == "" {
		end--
	}
	return parts[:end]
}
