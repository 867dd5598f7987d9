// Package stats aggregates everything the estimator knows about one table:
// row counts, per-index sizes, NDV maps, column histograms and buffer-pool
// residency. Instances are immutable after construction and safe for
// concurrent readers.
package stats

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/videx-project/videx/pkg/api"
	"github.com/videx-project/videx/pkg/histogram"
	"github.com/videx-project/videx/pkg/keyrange"
	"github.com/videx-project/videx/pkg/meta"
)

// ErrNotFound reports an unknown (task, db, table) triple.
var ErrNotFound = errors.New("not found")

// TableStats is the statistics bundle of one table.
type TableStats struct {
	DB   string `json:"db"`
	Name string `json:"name"`

	Records              int64 `json:"records"`
	Deleted              int64 `json:"deleted"`
	ClusteredIndexSize   int64 `json:"clustered_index_size"`
	SumOfOtherIndexSizes int64 `json:"sum_of_other_index_sizes"`
	DataFileLength       int64 `json:"data_file_length"`
	IndexFileLength      int64 `json:"index_file_length"`
	DataFreeLength       int64 `json:"data_free_length"`
	AvgRowLength         int64 `json:"avg_row_length"`

	// PctCached maps index name to the measured buffer-pool residency.
	PctCached map[string]float64 `json:"pct_cached,omitempty"`
	// NdvsSingle maps column name to its distinct-value count.
	NdvsSingle map[string]int64 `json:"ndvs_single,omitempty"`
	// NdvsMulcol maps index name to the NDV of each key prefix, keyed by
	// the last column of the prefix.
	NdvsMulcol map[string]map[string]int64 `json:"ndvs_mulcol,omitempty"`
	// ColHists maps column name to its histogram.
	ColHists map[string]*histogram.Histogram `json:"col_hists,omitempty"`

	Schema *meta.Table `json:"schema,omitempty"`

	// PctCachedDefault is used for indexes without a measured residency,
	// chosen at task load.
	PctCachedDefault float64 `json:"pct_cached_default,omitempty"`
}

func lookupCI[V any](m map[string]V, key string) (V, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	var zero V
	return zero, false
}

// GetColHist returns the histogram of a column, nil when none was
// harvested. Column names compare case-insensitively.
func (t *TableStats) GetColHist(col string) *histogram.Histogram {
	h, _ := lookupCI(t.ColHists, col)
	return h
}

// GetNdvSingle returns the single-column NDV.
func (t *TableStats) GetNdvSingle(col string) (int64, bool) {
	return lookupCI(t.NdvsSingle, col)
}

// GetNdvMulcol returns the NDV of an index prefix: the measured value when
// present, otherwise the independence estimate min(records, product of the
// single-column NDVs).
func (t *TableStats) GetNdvMulcol(index string, prefixCols []string) int64 {
	if len(prefixCols) > 0 {
		if m, ok := lookupCI(t.NdvsMulcol, index); ok {
			if ndv, ok := lookupCI(m, prefixCols[len(prefixCols)-1]); ok {
				return ndv
			}
		}
	}
	prod := float64(1)
	for _, col := range prefixCols {
		if ndv, ok := t.GetNdvSingle(col); ok && ndv > 0 {
			prod *= float64(ndv)
		}
	}
	if t.Records > 0 && prod > float64(t.Records) {
		return t.Records
	}
	return int64(prod)
}

// GetPctCached returns the buffer-pool residency of an index, falling back
// to the configured default.
func (t *TableStats) GetPctCached(index string) float64 {
	if v, ok := lookupCI(t.PctCached, index); ok {
		return v
	}
	return t.PctCachedDefault
}

// TaskMeta is the full metadata of one tuning session.
type TaskMeta struct {
	TaskID  string
	VidexDB string
	// Tables is keyed by lowercased table name.
	Tables map[string]*TableStats
	// GT holds measured records_in_range results, keyed by lowercased
	// table name.
	GT map[string]*keyrange.GTTable
	// ReqResp maps request fingerprints to recorded responses for
	// bit-exact replays.
	ReqResp map[string]*api.Response
}

// Table returns the statistics of a table, case-insensitively.
func (tm *TaskMeta) Table(name string) (*TableStats, bool) {
	t, ok := tm.Tables[strings.ToLower(name)]
	return t, ok
}

// GTTable returns the ground-truth table for a table name, nil when absent.
func (tm *TaskMeta) GTTable(name string) *keyrange.GTTable {
	return tm.GT[strings.ToLower(name)]
}
