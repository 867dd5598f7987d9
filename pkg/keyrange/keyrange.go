// Package keyrange turns the min_key/max_key pairs of a records_in_range
// request into per-column range conditions. The engine does not label bounds
// as min or max; its operators say whether the key sits to the left or right
// of the value, and descending index columns flip which side a bound lands
// on.
package keyrange

import (
	"fmt"
	"strings"

	"github.com/go-kit/log/level"

	"github.com/videx-project/videx/pkg/util/log"
)

// Side places a key relative to a value inside the B-tree.
type Side int

const (
	SideNone Side = iota
	SideLeft
	SideRight
)

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	default:
		return "None"
	}
}

// SideOfOp maps the engine operators onto key sides: "<" and "=" probe the
// left side of the value, ">" the right.
func SideOfOp(op string) (Side, bool) {
	switch op {
	case "<", "=":
		return SideLeft, true
	case ">":
		return SideRight, true
	}
	return SideNone, false
}

// ColumnBound is one column_and_bound entry of a key, value kept raw as the
// engine sent it.
type ColumnBound struct {
	Column string
	Value  string
}

// Key is a decoded min_key or max_key.
type Key struct {
	Present   bool
	IndexName string
	Operator  string
	Columns   []ColumnBound
}

// RangeCond is a single-column condition, e.g. 1 < c2 <= 3, reconstructed
// from the raw key bounds.
type RangeCond struct {
	Col      string
	DataType string

	MinValue string
	MaxValue string
	MinOp    string // "", "=", ">", ">="
	MaxOp    string // "", "=", "<", "<="
	MinSide  Side
	MaxSide  Side
}

// ConstructEq builds the equality condition col = value, probing the left
// side for the lower bound and the right side for the upper.
func ConstructEq(col, dataType, value string) *RangeCond {
	return &RangeCond{
		Col: col, DataType: dataType,
		MinValue: value, MinOp: "=", MinSide: SideLeft,
		MaxValue: value, MaxOp: "=", MaxSide: SideRight,
	}
}

func (rc *RangeCond) addMin(op, value string, side Side) {
	rc.MinValue, rc.MinOp, rc.MinSide = value, op, side
}

func (rc *RangeCond) addMax(op, value string, side Side) {
	rc.MaxValue, rc.MaxOp, rc.MaxSide = value, op, side
}

func (rc *RangeCond) HasMin() bool { return rc.MinOp != "" }
func (rc *RangeCond) HasMax() bool { return rc.MaxOp != "" }
func (rc *RangeCond) Valid() bool  { return rc.HasMin() || rc.HasMax() }

// IsSinglePoint reports whether the condition is an equality. The name
// follows SEL_ARG::is_singlepoint in the range optimizer.
func (rc *RangeCond) IsSinglePoint() bool { return rc.MinOp == "=" }

var reverseOp = map[string]string{">": "<", ">=": "<=", "<": ">", "<=": ">="}

// AllPossibleStrs lists every rendering of the condition that may appear in
// an EXPLAIN range string, including the quoted-NULL lower bound the server
// prints for nullable columns.
func (rc *RangeCond) AllPossibleStrs() []string {
	var res []string
	switch {
	case rc.MinOp == "=":
		res = append(res,
			fmt.Sprintf("%s = %s", rc.Col, rc.MinValue),
			fmt.Sprintf("%s = %s", rc.MinValue, rc.Col))
	case rc.HasMin() && rc.HasMax():
		// like 2 < col <= 3 and its mirrored form
		res = append(res,
			fmt.Sprintf("%s %s %s %s %s", rc.MinValue, reverseOp[rc.MinOp], rc.Col, rc.MaxOp, rc.MaxValue),
			fmt.Sprintf("%s %s %s %s %s", rc.MaxValue, reverseOp[rc.MaxOp], rc.Col, rc.MinOp, rc.MinValue))
	case rc.HasMin():
		res = append(res,
			fmt.Sprintf("%s %s %s", rc.Col, rc.MinOp, rc.MinValue),
			fmt.Sprintf("%s %s %s", rc.MinValue, reverseOp[rc.MinOp], rc.Col))
	}
	if rc.MaxOp != "" && rc.MinOp != "=" {
		res = append(res,
			fmt.Sprintf("%s %s %s", rc.Col, rc.MaxOp, rc.MaxValue),
			fmt.Sprintf("%s %s %s", rc.MaxValue, reverseOp[rc.MaxOp], rc.Col),
			fmt.Sprintf("%s %s %s > 'NULL'", rc.MaxValue, reverseOp[rc.MaxOp], rc.Col),
			fmt.Sprintf("'NULL' < %s %s %s", rc.Col, rc.MaxOp, rc.MaxValue))
	}
	return res
}

func (rc *RangeCond) String() string {
	res := rc.AllPossibleStrs()
	if len(res) == 0 {
		return "None"
	}
	return res[0]
}

// PrintFull renders the condition with the B-tree sides, for logs and
// debugging.
func (rc *RangeCond) PrintFull() string {
	return fmt.Sprintf("%s; min_side: %s, max_side: %s", rc, sideOrNone(rc.MinSide), sideOrNone(rc.MaxSide))
}

func sideOrNone(s Side) string {
	if s == SideNone {
		return "None"
	}
	return s.String()
}

// IndexRangeCond is the full condition on one index, one RangeCond per key
// column in index order.
type IndexRangeCond struct {
	IndexName string
	Ranges    []*RangeCond
}

func (irc *IndexRangeCond) RangesToStr() string {
	parts := make([]string, 0, len(irc.Ranges))
	for _, rc := range irc.Ranges {
		parts = append(parts, rc.String())
	}
	return strings.Join(parts, " AND ")
}

func (irc *IndexRangeCond) String() string {
	return fmt.Sprintf("%s: %s", irc.IndexName, irc.RangesToStr())
}

func (irc *IndexRangeCond) PrintFull() string {
	parts := make([]string, 0, len(irc.Ranges))
	for _, rc := range irc.Ranges {
		parts = append(parts, rc.PrintFull())
	}
	return fmt.Sprintf("%s: %s", irc.IndexName, strings.Join(parts, " AND "))
}

// ValidRanges returns the conditions the B-tree can actually use. When
// ignoreAfterNeq is set, columns after the first non-equality are dropped,
// matching how a multi-column index scan works.
func (irc *IndexRangeCond) ValidRanges(ignoreAfterNeq bool) []*RangeCond {
	if !ignoreAfterNeq {
		return irc.Ranges
	}
	var ranges []*RangeCond
	for _, rc := range irc.Ranges {
		ranges = append(ranges, rc)
		if !rc.IsSinglePoint() {
			break
		}
	}
	return ranges
}

// Match reports whether an EXPLAIN range string describes this condition.
func (irc *IndexRangeCond) Match(rangeStr string, ignoreAfterNeq bool) bool {
	parts := strings.Split(rangeStr, " AND ")
	ranges := irc.ValidRanges(ignoreAfterNeq)
	if len(parts) != len(ranges) {
		return false
	}
	for i, rc := range ranges {
		if !contains(rc.AllPossibleStrs(), strings.TrimSpace(parts[i])) {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// Decode reconstructs the per-column conditions from a min/max key pair.
// dataTypeOf resolves a column name to its type, isDescCol reports whether
// the index column at a position is descending; either may be nil.
func Decode(minKey, maxKey Key, dataTypeOf func(col string) string, isDescCol func(pos int) bool) *IndexRangeCond {
	if dataTypeOf == nil {
		dataTypeOf = func(string) string { return "Unknown" }
	}
	indexName := minKey.IndexName
	if indexName == "" {
		indexName = maxKey.IndexName
	}
	res := &IndexRangeCond{IndexName: indexName}

	nMin, nMax := len(minKey.Columns), len(maxKey.Columns)
	if nMin-nMax > 1 || nMax-nMin > 1 {
		level.Error(log.Logger).Log("msg", "min_key and max_key column counts can only differ by 1",
			"min_cols", nMin, "max_cols", nMax, "index", indexName)
		return res
	}

	nCol := nMin
	if nMax > nCol {
		nCol = nMax
	}
	for c := 0; c < nCol; c++ {
		desc := isDescCol != nil && isDescCol(c)
		hasMin, hasMax := c < nMin, c < nMax

		var col string
		switch {
		case hasMin:
			col = minKey.Columns[c].Column
		case hasMax:
			col = maxKey.Columns[c].Column
		default:
			level.Error(log.Logger).Log("msg", "key column without min and max bound", "index", indexName, "pos", c)
			return res
		}

		if hasMin && hasMax && minKey.Columns[c].Value == maxKey.Columns[c].Value {
			res.Ranges = append(res.Ranges, ConstructEq(col, dataTypeOf(col), minKey.Columns[c].Value))
			continue
		}

		rc := &RangeCond{Col: col, DataType: dataTypeOf(col)}
		if hasMin {
			v := minKey.Columns[c].Value
			switch minKey.Operator {
			case "=":
				if !desc {
					rc.addMin(">=", v, SideLeft)
				} else {
					rc.addMax("<=", v, SideRight)
				}
			case ">":
				if !desc {
					rc.addMin(">", v, SideRight)
				} else {
					rc.addMax("<", v, SideLeft)
				}
			}
		}
		if hasMax {
			v := maxKey.Columns[c].Value
			switch maxKey.Operator {
			case ">":
				if !desc {
					rc.addMax("<=", v, SideRight)
				} else {
					rc.addMin(">=", v, SideLeft)
				}
			case "<":
				if !desc {
					rc.addMax("<", v, SideLeft)
				} else {
					rc.addMin(">", v, SideRight)
				}
			}
		}
		res.Ranges = append(res.Ranges, rc)
	}
	return res
}
