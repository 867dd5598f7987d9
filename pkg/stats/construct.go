package stats

import (
	"strings"

	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/videx-project/videx/pkg/api"
	"github.com/videx-project/videx/pkg/histogram"
	"github.com/videx-project/videx/pkg/keyrange"
	"github.com/videx-project/videx/pkg/meta"
	"github.com/videx-project/videx/pkg/util/log"
)

// pageSize converts between InnoDB page counts and file lengths.
const pageSize = 16 * 1024

// RawTaskMeta is the ingest payload of /create_task_meta and the metadata
// file format: the independently gathered statistic maps, all keyed by
// table name, plus the optional ground-truth records.
type RawTaskMeta struct {
	TaskID  string `json:"task_id,omitempty"`
	VidexDB string `json:"videx_db"`

	StatsDict     map[string]*TableStats                     `json:"stats_dict"`
	HistDict      map[string]map[string]*histogram.Histogram `json:"hist_dict,omitempty"`
	NdvSingleDict map[string]map[string]int64                `json:"ndv_single_dict,omitempty"`
	NdvMulcolDict map[string]map[string]map[string]int64     `json:"ndv_mulcol_dict,omitempty"`

	GtRecInRanges []keyrange.RawGTRecInRange `json:"gt_rec_in_ranges,omitempty"`
	GtReqResp     map[string]*api.Response   `json:"gt_req_resp,omitempty"`

	// PctCachedDefault applies to indexes without a measured residency;
	// nil means fully cached.
	PctCachedDefault *float64 `json:"pct_cached_default,omitempty"`
}

// Construct merges the raw maps into a TaskMeta, validating the schema and
// backfilling sizes that were not harvested. Table names are lowercased;
// columns keep their declared casing and compare case-insensitively.
func Construct(raw *RawTaskMeta) (*TaskMeta, error) {
	if raw.VidexDB == "" {
		return nil, errors.Wrap(meta.ErrValidation, "videx_db is required")
	}

	pctDefault := 1.0
	if raw.PctCachedDefault != nil {
		pctDefault = *raw.PctCachedDefault
	}

	tm := &TaskMeta{
		TaskID:  raw.TaskID,
		VidexDB: raw.VidexDB,
		Tables:  make(map[string]*TableStats, len(raw.StatsDict)),
		GT:      keyrange.ParseRawGTRecInRanges(raw.GtRecInRanges),
		ReqResp: raw.GtReqResp,
	}

	var errs *multierror.Error
	for name, ts := range raw.StatsDict {
		if ts == nil {
			ts = &TableStats{}
		}
		key := strings.ToLower(name)
		ts.Name = name
		ts.DB = raw.VidexDB
		ts.PctCachedDefault = pctDefault

		if hists, ok := lookupCI(raw.HistDict, name); ok {
			ts.ColHists = hists
		}
		if ndvs, ok := lookupCI(raw.NdvSingleDict, name); ok {
			ts.NdvsSingle = ndvs
		}
		if mulcol, ok := lookupCI(raw.NdvMulcolDict, name); ok {
			ts.NdvsMulcol = mulcol
		}

		if err := ts.normalize(); err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "table %s", name))
			continue
		}
		tm.Tables[key] = ts
	}
	return tm, errs.ErrorOrNil()
}

// normalize validates one table and fills derived fields.
func (t *TableStats) normalize() error {
	if t.Records < 0 {
		return errors.Wrapf(meta.ErrValidation, "records must be >= 0, got %d", t.Records)
	}
	if t.Schema != nil {
		t.Schema.DB = t.DB
		if t.Schema.Name == "" {
			t.Schema.Name = t.Name
		}
		if t.Schema.Rows == 0 {
			t.Schema.Rows = t.Records
		}
		t.Schema.Normalize()
		if err := t.Schema.Validate(); err != nil {
			return err
		}
		if t.Records == 0 {
			t.Records = t.Schema.Rows
		}
		if t.Records == 0 {
			return errors.Wrap(meta.ErrValidation, "no rows declared")
		}
	}

	for col, ndv := range t.NdvsSingle {
		if ndv > t.Records {
			level.Warn(log.Logger).Log("msg", "single-column ndv exceeds row count, clamping",
				"table", t.Name, "column", col, "ndv", ndv, "records", t.Records)
			t.NdvsSingle[col] = t.Records
		}
	}
	for index, m := range t.NdvsMulcol {
		for col, ndv := range m {
			if ndv > t.Records {
				level.Warn(log.Logger).Log("msg", "multi-column ndv exceeds row count, clamping",
					"table", t.Name, "index", index, "column", col, "ndv", ndv, "records", t.Records)
				m[col] = t.Records
			}
		}
	}

	t.fillSizes()
	return nil
}

// fillSizes derives the size fields that were not harvested. Page counts
// and file lengths are kept consistent at 16KiB per page; when neither is
// known the schema-based estimate fills in.
func (t *TableStats) fillSizes() {
	if t.DataFileLength == 0 && t.ClusteredIndexSize > 0 {
		t.DataFileLength = t.ClusteredIndexSize * pageSize
	}
	if t.IndexFileLength == 0 && t.SumOfOtherIndexSizes > 0 {
		t.IndexFileLength = t.SumOfOtherIndexSizes * pageSize
	}

	if t.DataFileLength == 0 && t.Schema != nil {
		if t.Schema.TableSize > 0 {
			est := meta.EstimateDataLength(t.Schema, t.DataFreeLength > 0, 0.1)
			t.DataFileLength = est.DataLength
			t.IndexFileLength = est.IndexLength
			if t.DataFreeLength == 0 {
				t.DataFreeLength = est.DataFree
			}
			if t.AvgRowLength == 0 {
				t.AvgRowLength = est.AvgRowLength
			}
		} else {
			var rowLen float64
			for i := range t.Schema.Columns {
				rowLen += meta.EstimateColumnLength(t.Schema.Columns[i].ColumnType)
			}
			if t.AvgRowLength == 0 {
				t.AvgRowLength = int64(rowLen) + 10
			}
			t.DataFileLength = t.Records * t.AvgRowLength
			t.IndexFileLength = int64(meta.EstimateTotalIndexLength(t.Records, t.Schema.Indexes, t.Schema.Columns))
		}
	}

	if t.ClusteredIndexSize == 0 {
		t.ClusteredIndexSize = t.DataFileLength / pageSize
	}
	if t.SumOfOtherIndexSizes == 0 {
		t.SumOfOtherIndexSizes = t.IndexFileLength / pageSize
	}
}
