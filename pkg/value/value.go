// Package value decodes the literals the storage-engine plugin sends for
// histogram bounds and range conditions. MySQL serialises key values as
// strings: quoted or base64-encoded text, decimal numbers, date and datetime
// layouts, epoch timestamps, and the literal NULL.
package value

import (
	"encoding/base64"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// NullLiteral is what MySQL passes for an absent key part. Note this is
// distinct from "'NULL'", which is a string whose content is NULL.
const NullLiteral = "NULL"

var (
	// ErrInvalidLiteral reports a literal that does not parse under its
	// declared column type.
	ErrInvalidLiteral = errors.New("invalid literal")
	// ErrUnsupportedType reports a column type the codec has no rule for.
	ErrUnsupportedType = errors.New("unsupported data type")
)

// Kind enumerates the decoded representations.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindString
)

// Value is a decoded literal. Integers wider than int64 keep an exact
// big.Int; everything else fits the small fields.
type Value struct {
	kind Kind
	i    int64
	bi   *big.Int
	f    float64
	s    string
}

func Null() Value            { return Value{kind: KindNull} }
func Int(i int64) Value      { return Value{kind: KindInt, i: i} }
func Float(f float64) Value  { return Value{kind: KindFloat, f: f} }
func String(s string) Value  { return Value{kind: KindString, s: s} }
func BigInt(b *big.Int) Value {
	if b.IsInt64() {
		return Int(b.Int64())
	}
	return Value{kind: KindInt, bi: new(big.Int).Set(b)}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Int64 returns the integer payload, saturating when the value exceeds int64.
func (v Value) Int64() int64 {
	if v.bi == nil {
		return v.i
	}
	if v.bi.Sign() > 0 {
		return math.MaxInt64
	}
	return math.MinInt64
}

// Float64 returns the numeric payload as a float, valid for int and float
// kinds.
func (v Value) Float64() float64 {
	switch v.kind {
	case KindInt:
		if v.bi != nil {
			f, _ := new(big.Float).SetInt(v.bi).Float64()
			return f
		}
		return float64(v.i)
	case KindFloat:
		return v.f
	}
	return 0
}

// Str returns the string payload for string-kinded values.
func (v Value) Str() string { return v.s }

// Cmp orders two values of the same column type. NULL sorts before
// everything, numerics compare numerically and strings lexicographically
// (dates and datetimes are normalised strings, so lexicographic order is
// chronological order).
func (v Value) Cmp(o Value) int {
	if v.kind == KindNull || o.kind == KindNull {
		switch {
		case v.kind == o.kind:
			return 0
		case v.kind == KindNull:
			return -1
		default:
			return 1
		}
	}
	if v.kind == KindString || o.kind == KindString {
		return strings.Compare(v.s, o.s)
	}
	if v.kind == KindInt && o.kind == KindInt {
		if v.bi != nil || o.bi != nil {
			return v.toBig().Cmp(o.toBig())
		}
		switch {
		case v.i < o.i:
			return -1
		case v.i > o.i:
			return 1
		}
		return 0
	}
	vf, of := v.Float64(), o.Float64()
	switch {
	case vf < of:
		return -1
	case vf > of:
		return 1
	}
	return 0
}

func (v Value) toBig() *big.Int {
	if v.bi != nil {
		return v.bi
	}
	return big.NewInt(v.i)
}

// String renders the value for range strings and logs. Floats keep two
// decimals to match the server-side EXPLAIN rendering, integers and strings
// print verbatim.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return NullLiteral
	case KindInt:
		if v.bi != nil {
			return v.bi.String()
		}
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', 2, 64)
	default:
		return v.s
	}
}

// IsIntType reports whether the MySQL column type is in the integer family
// (tinyint through bigint, signed or not).
func IsIntType(dataType string) bool {
	return strings.Contains(strings.ToLower(dataType), "int")
}

// IsStringType reports whether the column type decodes to plain text.
func IsStringType(dataType string) bool {
	switch strings.ToLower(dataType) {
	case "string", "str", "varchar", "char", "json":
		return true
	}
	return false
}

// Parse decodes a raw literal under the given column type. base64Text
// controls whether string literals may arrive in the base64:type254:<data>
// envelope (histogram snapshots do, live range bounds do not).
func Parse(raw, dataType string, base64Text bool) (Value, error) {
	if raw == NullLiteral {
		return Null(), nil
	}
	dt := strings.ToLower(dataType)
	switch {
	case IsIntType(dt):
		if raw == "None" {
			return Null(), nil
		}
		return parseInt(raw)
	case dt == "float" || dt == "double" || dt == "decimal":
		if raw == "None" {
			return Null(), nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, errors.Wrapf(ErrInvalidLiteral, "%q as %s", raw, dt)
		}
		return Float(f), nil
	case IsStringType(dt):
		s := raw
		if base64Text && isBase64Envelope(raw) {
			var err error
			s, err = decodeBase64Envelope(raw)
			if err != nil {
				return Value{}, err
			}
		}
		return String(stripQuotes(s)), nil
	case dt == "date" || dt == "datetime" || dt == "timestamp":
		// zero dates do not parse, keep them verbatim
		if strings.Contains(raw, "0000-00-00") || strings.Contains(raw, "1-01-01 00:00:00") {
			return String(raw), nil
		}
		s, err := ReformatDateTime(raw)
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	default:
		return Value{}, errors.Wrapf(ErrUnsupportedType, "%q", dataType)
	}
}

// parseInt mirrors the engine's int(float(raw)) conversion: the literal may
// carry a fractional part which is truncated toward zero, and values beyond
// int64 are kept exactly when the literal is all digits.
func parseInt(raw string) (Value, error) {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return Int(i), nil
	}
	if b, ok := new(big.Int).SetString(raw, 10); ok {
		return BigInt(b), nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Value{}, errors.Wrapf(ErrInvalidLiteral, "%q as int", raw)
	}
	f = math.Trunc(f)
	if f >= math.MinInt64 && f <= math.MaxInt64 {
		return Int(int64(f)), nil
	}
	b, _ := big.NewFloat(f).Int(nil)
	return BigInt(b), nil
}

// stripQuotes removes one pair of surrounding quotes (backtick, single or
// double). The content is not trimmed, a parameter may legitimately be ' x '.
func stripQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	switch s[0] {
	case '`', '\'', '"':
		if s[len(s)-1] == s[0] {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// isBase64Envelope matches the base64:type254:<data> form MySQL uses for
// text histogram bounds (254 is the CHAR type code).
func isBase64Envelope(raw string) bool {
	parts := strings.Split(raw, ":")
	return len(parts) == 3 && parts[0] == "base64" && parts[1] == "type254"
}

func decodeBase64Envelope(raw string) (string, error) {
	parts := strings.Split(raw, ":")
	b, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", errors.Wrapf(ErrInvalidLiteral, "base64 %q", raw)
	}
	return string(b), nil
}
