// Package estimator turns table statistics and decoded range conditions
// into the numbers the optimizer asks for: records in range, scan cost,
// per-key densities. Primitives degrade to wide defaults instead of
// failing, a broken statistic must not crash the optimizer.
package estimator

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/go-kit/log/level"

	"github.com/videx-project/videx/pkg/api"
	"github.com/videx-project/videx/pkg/keyrange"
	"github.com/videx-project/videx/pkg/stats"
	"github.com/videx-project/videx/pkg/util/log"
)

// keySep separates the parts of flat info_low response keys.
const keySep = " #@# "

// defaultRangeSelectivity applies when a column has no histogram.
const defaultRangeSelectivity = 1.0 / 3

// Strategy is one estimation model over a single table.
type Strategy interface {
	ScanTime() float64
	MemoryBufferSize() int64
	RecordsInRange(ctx context.Context, cond *keyrange.IndexRangeCond) (int64, error)
	NDV(index string, prefixCols []string) int64
	InfoLow(req *api.Item) (map[string]string, error)
}

// InnoDB mimics how InnoDB itself answers the optimizer: histogram
// interpolation per column, independence across columns, and the classic
// records/20+10 scan cost.
type InnoDB struct {
	table *stats.TableStats

	// ignoreRangeAfterNeq drops key columns after the first non-equality,
	// matching what a B-tree scan can use.
	ignoreRangeAfterNeq bool
}

// NewInnoDB builds the InnoDB-like strategy for one table.
func NewInnoDB(table *stats.TableStats) *InnoDB {
	return &InnoDB{table: table, ignoreRangeAfterNeq: true}
}

func (m *InnoDB) ScanTime() float64 {
	return float64(m.table.Records)/20 + 10
}

// MemoryBufferSize returns the sentinel -1, the caller sizes the buffer
// pool itself.
func (m *InnoDB) MemoryBufferSize() int64 { return -1 }

// RecordsInRange estimates the rows matching a decoded range condition,
// multiplying per-column selectivities under the independence assumption.
func (m *InnoDB) RecordsInRange(ctx context.Context, cond *keyrange.IndexRangeCond) (int64, error) {
	ranges := cond.ValidRanges(m.ignoreRangeAfterNeq)
	selectivity := 1.0
	for _, rc := range ranges {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		s, err := m.rangeSelectivity(rc)
		if err != nil {
			return 0, err
		}
		selectivity *= s
	}
	rows := int64(math.Round(float64(m.table.Records) * selectivity))
	if rows < 1 {
		rows = 1
	}
	return rows, nil
}

func (m *InnoDB) rangeSelectivity(rc *keyrange.RangeCond) (float64, error) {
	h := m.table.GetColHist(rc.Col)
	if h == nil {
		// no histogram harvested, degrade to the NDV estimate
		if rc.IsSinglePoint() {
			if ndv, ok := m.table.GetNdvSingle(rc.Col); ok && ndv > 0 {
				return 1 / float64(ndv), nil
			}
		}
		level.Warn(log.Logger).Log("msg", "no histogram for column, using default selectivity",
			"table", m.table.Name, "column", rc.Col)
		return defaultRangeSelectivity, nil
	}

	lo := 0.0
	if rc.HasMin() {
		var err error
		lo, err = h.FractionBelow(rc.MinValue, rc.MinSide)
		if err != nil {
			return 0, err
		}
	}
	hi := 1.0
	if rc.HasMax() {
		var err error
		hi, err = h.FractionBelow(rc.MaxValue, rc.MaxSide)
		if err != nil {
			return 0, err
		}
	}
	if hi < lo {
		return 0, nil
	}
	return hi - lo, nil
}

// NDV returns the distinct-value count of an index prefix.
func (m *InnoDB) NDV(index string, prefixCols []string) int64 {
	return m.table.GetNdvMulcol(index, prefixCols)
}

// InfoLow answers the engine's info() call: row and size statistics plus
// flat per-index keys. rec_per_key follows the key layout of the request
// (the engine appends primary-key columns to secondary indexes), not the
// declared index.
func (m *InnoDB) InfoLow(req *api.Item) (map[string]string, error) {
	t := m.table
	out := map[string]string{
		"stat_n_rows":                   strconv.FormatInt(t.Records, 10),
		"stat_clustered_index_size":     strconv.FormatInt(t.ClusteredIndexSize, 10),
		"stat_sum_of_other_index_sizes": strconv.FormatInt(t.SumOfOtherIndexSizes, 10),
		"data_file_length":              strconv.FormatInt(t.DataFileLength, 10),
		"index_file_length":             strconv.FormatInt(t.IndexFileLength, 10),
		"data_free_length":              strconv.FormatInt(t.DataFreeLength, 10),
	}

	for i := range req.Data {
		key := &req.Data[i]
		if key.ItemType != api.ItemTypeKey {
			continue
		}
		keyName := key.Prop("name")
		out["pct_cached"+keySep+keyName] = formatFloat(t.GetPctCached(keyName))

		var prefix []string
		for j := range key.Data {
			field := &key.Data[j]
			if field.ItemType != api.ItemTypeField {
				continue
			}
			prefix = append(prefix, field.Prop("name"))
			recPerKey := float64(t.Records)
			if ndv := t.GetNdvMulcol(keyName, prefix); ndv > 0 {
				recPerKey = float64(t.Records) / float64(ndv)
			}
			out["rec_per_key"+keySep+keyName+keySep+field.Prop("name")] = formatFloat(recPerKey)
		}
	}
	return out, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// RecordsInRangeWithGT consults the measured ground truth of a table before
// falling back to the model.
func RecordsInRangeWithGT(ctx context.Context, gt *keyrange.GTTable, m Strategy, cond *keyrange.IndexRangeCond) (int64, error) {
	if gt != nil {
		if rows, ok := gt.Find(cond, true); ok {
			return rows, nil
		}
	}
	return m.RecordsInRange(ctx, cond)
}

// Fallback produces the degenerate answers served for unknown tables:
// records_in_range 1 and zeroed statistics, so the optimizer keeps working
// while the task is being loaded.
func Fallback(req *api.Item) map[string]string {
	out := map[string]string{
		"stat_n_rows":                   "0",
		"stat_clustered_index_size":     "0",
		"stat_sum_of_other_index_sizes": "0",
		"data_file_length":              "0",
		"index_file_length":             "0",
		"data_free_length":              "0",
	}
	for i := range req.Data {
		key := &req.Data[i]
		if key.ItemType != api.ItemTypeKey {
			continue
		}
		keyName := key.Prop("name")
		out[fmt.Sprintf("pct_cached%s%s", keySep, keyName)] = "1"
		for j := range key.Data {
			field := &key.Data[j]
			if field.ItemType != api.ItemTypeField {
				continue
			}
			out[fmt.Sprintf("rec_per_key%s%s%s%s", keySep, keyName, keySep, field.Prop("name"))] = "1"
		}
	}
	return out
}
