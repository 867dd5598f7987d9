package keyrange

import (
	"strings"

	"github.com/go-kit/log/level"

	"github.com/videx-project/videx/pkg/util/log"
)

// GTEntry is one measured records_in_range result: the EXPLAIN range string
// and the row count the real engine reported.
type GTEntry struct {
	RangeStr string  `json:"range_str"`
	Rows     float64 `json:"rows"`
}

// GTTable holds the measured row counts of one table, grouped by index.
type GTTable struct {
	IndexEntries map[string][]GTEntry `json:"idx_gt_pair_dict"`
}

// RawGTRecInRange is an entry as extracted from an EXPLAIN trace. Ranges
// holds one string per or/in alternative; Table may name several backquoted
// aliases separated by spaces.
type RawGTRecInRange struct {
	Table  string   `json:"table"`
	Index  string   `json:"index"`
	Ranges []string `json:"ranges"`
	Rows   float64  `json:"rows"`
}

// ParseRawGTRecInRanges groups trace entries by (lowercased) table name.
// Multi-range entries split their row count uniformly across the ranges.
func ParseRawGTRecInRanges(raw []RawGTRecInRange) map[string]*GTTable {
	out := make(map[string]*GTTable)
	for _, rr := range raw {
		if len(rr.Ranges) == 0 {
			continue
		}
		perRows := rr.Rows / float64(len(rr.Ranges))
		for _, table := range strings.Split(rr.Table, " ") {
			table = strings.ToLower(strings.Trim(table, "`"))
			if table == "" {
				continue
			}
			gt, ok := out[table]
			if !ok {
				gt = &GTTable{IndexEntries: make(map[string][]GTEntry)}
				out[table] = gt
			}
			for _, rangeStr := range rr.Ranges {
				gt.IndexEntries[rr.Index] = append(gt.IndexEntries[rr.Index],
					GTEntry{RangeStr: rangeStr, Rows: perRows})
			}
		}
	}
	return out
}

// Find returns the measured row count for a decoded range condition, or
// false when no entry matches.
func (gt *GTTable) Find(cond *IndexRangeCond, ignoreAfterNeq bool) (int64, bool) {
	entries, ok := gt.IndexEntries[cond.IndexName]
	if !ok {
		level.Warn(log.Logger).Log("msg", "no ground truth for index",
			"index", cond.IndexName, "range", cond.RangesToStr())
		return 0, false
	}
	for _, e := range entries {
		if cond.Match(e.RangeStr, ignoreAfterNeq) {
			return int64(e.Rows), true
		}
	}
	level.Warn(log.Logger).Log("msg", "index found but no ground truth range matches",
		"index", cond.IndexName, "range", cond.RangesToStr())
	return 0, false
}
