package value

import (
	"bytes"
	"math/big"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// bigIntWire is the widened form for integers beyond int64.
type bigIntWire struct {
	BigInt string `json:"bigint"`
}

// FromJSON decodes a raw JSON scalar under the column type. Integers wider
// than int64 arrive as {"bigint": "<digits>"}.
func FromJSON(raw jsoniter.RawMessage, dataType string) (Value, error) {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 {
		return Value{}, errors.Wrap(ErrInvalidLiteral, "empty json value")
	}
	switch b[0] {
	case 'n':
		return Null(), nil
	case '{':
		var w bigIntWire
		if err := jsoniter.Unmarshal(b, &w); err != nil {
			return Value{}, errors.Wrapf(ErrInvalidLiteral, "%s", string(b))
		}
		bi, ok := new(big.Int).SetString(w.BigInt, 10)
		if !ok {
			return Value{}, errors.Wrapf(ErrInvalidLiteral, "bigint %q", w.BigInt)
		}
		return BigInt(bi), nil
	case '"':
		var s string
		if err := jsoniter.Unmarshal(b, &s); err != nil {
			return Value{}, errors.Wrapf(ErrInvalidLiteral, "%s", string(b))
		}
		return Parse(s, dataType, true)
	default:
		return Parse(string(b), dataType, true)
	}
}

// MarshalJSON re-emits the value in its widened wire form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindInt:
		if v.bi != nil {
			return jsoniter.Marshal(bigIntWire{BigInt: v.bi.String()})
		}
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case KindFloat:
		return jsoniter.Marshal(v.f)
	default:
		return jsoniter.Marshal(v.s)
	}
}
