package value

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DateTimeLayout is the canonical datetime rendering. Values normalised to
// it compare lexicographically in chronological order.
const DateTimeLayout = "2006-01-02 15:04:05.000000"

var dateTimeLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000000",
	"2006-01-02T15:04:05Z",
}

// ParseDateTime accepts the MySQL date and datetime layouts as well as
// integer epoch timestamps, with optional surrounding quotes.
func ParseDateTime(raw string) (time.Time, error) {
	s := strings.Trim(raw, `'"`)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ParseTimestamp(n)
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Wrapf(ErrInvalidLiteral, "no datetime layout matches %q", raw)
}

// ParseTimestamp converts an integer epoch into a time, inferring the unit
// from the number of decimal digits: up to 10 is seconds, 13 milliseconds,
// 16 microseconds, 19 nanoseconds.
func ParseTimestamp(n int64) (time.Time, error) {
	switch digits := len(strconv.FormatInt(n, 10)); {
	case digits <= 10:
		return time.Unix(n, 0), nil
	case digits <= 13:
		return time.Unix(n/1_000, n%1_000*int64(time.Millisecond)), nil
	case digits <= 16:
		return time.Unix(n/1_000_000, n%1_000_000*int64(time.Microsecond)), nil
	case digits <= 19:
		return time.Unix(n/1_000_000_000, n%1_000_000_000), nil
	default:
		return time.Time{}, errors.Wrapf(ErrInvalidLiteral, "epoch timestamp %d has no compatible unit", n)
	}
}

// ReformatDateTime normalises a date, datetime or epoch literal to
// DateTimeLayout. The literal NULL maps to the minimum representable time.
func ReformatDateTime(raw string) (string, error) {
	if raw == NullLiteral {
		return time.Time{}.Format(DateTimeLayout), nil
	}
	t, err := ParseDateTime(raw)
	if err != nil {
		return "", err
	}
	return t.Format(DateTimeLayout), nil
}
