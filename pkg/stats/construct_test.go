package stats

import (
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"

	"github.com/videx-project/videx/pkg/histogram"
	"github.com/videx-project/videx/pkg/keyrange"
	"github.com/videx-project/videx/pkg/meta"
)

func rawFixture() *RawTaskMeta {
	return &RawTaskMeta{
		TaskID:  "task1",
		VidexDB: "videx_tpcc",
		StatsDict: map[string]*TableStats{
			"ITEM": {Records: 100},
		},
		NdvSingleDict: map[string]map[string]int64{
			"item": {"I_IM_ID": 4, "I_PRICE": 60},
		},
		NdvMulcolDict: map[string]map[string]map[string]int64{
			"ITEM": {"idx_im_price": {"I_IM_ID": 4, "I_PRICE": 90}},
		},
	}
}

func TestConstructLowercasesTableKeys(t *testing.T) {
	tm, err := Construct(rawFixture())
	require.NoError(t, err)

	ts, ok := tm.Table("item")
	require.True(t, ok)
	require.Equal(t, "ITEM", ts.Name)
	require.Equal(t, "videx_tpcc", ts.DB)

	// lookup by original casing works too
	_, ok = tm.Table("ITEM")
	require.True(t, ok)

	// the ndv maps merged despite differing key casing
	ndv, ok := ts.GetNdvSingle("i_im_id")
	require.True(t, ok)
	require.Equal(t, int64(4), ndv)
}

func TestConstructRequiresVidexDB(t *testing.T) {
	raw := rawFixture()
	raw.VidexDB = ""
	_, err := Construct(raw)
	require.ErrorIs(t, err, meta.ErrValidation)
}

func TestConstructClampsNdv(t *testing.T) {
	raw := rawFixture()
	raw.NdvSingleDict["item"]["I_PRICE"] = 1000

	tm, err := Construct(raw)
	require.NoError(t, err)
	ts, _ := tm.Table("item")
	ndv, _ := ts.GetNdvSingle("I_PRICE")
	require.Equal(t, int64(100), ndv)
}

func TestConstructClampsNdvMulcol(t *testing.T) {
	raw := rawFixture()
	raw.NdvMulcolDict["ITEM"]["idx_im_price"]["I_PRICE"] = 1000

	tm, err := Construct(raw)
	require.NoError(t, err)
	ts, _ := tm.Table("item")

	// a measured prefix NDV can never exceed the row count, otherwise
	// rec_per_key drops below 1
	require.Equal(t, int64(100), ts.GetNdvMulcol("idx_im_price", []string{"I_IM_ID", "I_PRICE"}))
}

func TestGetNdvMulcol(t *testing.T) {
	tm, err := Construct(rawFixture())
	require.NoError(t, err)
	ts, _ := tm.Table("item")

	// exact prefix entry, keyed by the last column
	require.Equal(t, int64(90), ts.GetNdvMulcol("idx_im_price", []string{"I_IM_ID", "I_PRICE"}))
	require.Equal(t, int64(4), ts.GetNdvMulcol("idx_im_price", []string{"I_IM_ID"}))

	// unknown index falls back to the independence product, capped at the
	// row count
	require.Equal(t, int64(100), ts.GetNdvMulcol("idx_other", []string{"I_IM_ID", "I_PRICE"}))
	require.Equal(t, int64(60), ts.GetNdvMulcol("idx_other", []string{"I_PRICE"}))
}

func TestGetPctCached(t *testing.T) {
	tm, err := Construct(rawFixture())
	require.NoError(t, err)
	ts, _ := tm.Table("item")
	require.Equal(t, 1.0, ts.GetPctCached("PRIMARY"))

	ts.PctCached = map[string]float64{"PRIMARY": 0.25}
	require.Equal(t, 0.25, ts.GetPctCached("primary"))
}

func TestConstructMergesHistograms(t *testing.T) {
	h := &histogram.Histogram{}
	require.NoError(t, jsoniter.UnmarshalFromString(`{
		"data_type": "int", "null_values": 0,
		"buckets": [[1, 4, 1.0, 4]]
	}`, h))

	raw := rawFixture()
	raw.HistDict = map[string]map[string]*histogram.Histogram{
		"Item": {"I_IM_ID": h},
	}
	tm, err := Construct(raw)
	require.NoError(t, err)
	ts, _ := tm.Table("item")
	require.NotNil(t, ts.GetColHist("i_im_id"))
	require.Nil(t, ts.GetColHist("I_PRICE"))
}

func TestConstructGroundTruth(t *testing.T) {
	raw := rawFixture()
	raw.GtRecInRanges = []keyrange.RawGTRecInRange{
		{Table: "`ITEM`", Index: "idx_I_IM_ID", Ranges: []string{"I_IM_ID = 3"}, Rows: 25},
	}
	tm, err := Construct(raw)
	require.NoError(t, err)

	gt := tm.GTTable("ITEM")
	require.NotNil(t, gt)
	cond := &keyrange.IndexRangeCond{IndexName: "idx_I_IM_ID",
		Ranges: []*keyrange.RangeCond{keyrange.ConstructEq("I_IM_ID", "int", "3")}}
	rows, ok := gt.Find(cond, true)
	require.True(t, ok)
	require.Equal(t, int64(25), rows)
}

func TestNormalizeRejectsNegativeRecords(t *testing.T) {
	raw := rawFixture()
	raw.StatsDict["ITEM"].Records = -1
	_, err := Construct(raw)
	require.ErrorIs(t, err, meta.ErrValidation)
}

func TestNormalizeValidatesSchema(t *testing.T) {
	raw := rawFixture()
	raw.StatsDict["ITEM"].Schema = &meta.Table{
		Columns: []meta.Column{{Name: "I_IM_ID", DataType: "int", ColumnType: "int"}},
		Indexes: []meta.Index{{Name: "idx_bad", Columns: []meta.IndexColumn{{Name: "MISSING"}}}},
	}
	_, err := Construct(raw)
	require.ErrorIs(t, err, meta.ErrValidation)
}

func TestFillSizesFromPages(t *testing.T) {
	raw := rawFixture()
	raw.StatsDict["ITEM"].ClusteredIndexSize = 3
	raw.StatsDict["ITEM"].SumOfOtherIndexSizes = 2

	tm, err := Construct(raw)
	require.NoError(t, err)
	ts, _ := tm.Table("item")
	require.Equal(t, int64(3*16384), ts.DataFileLength)
	require.Equal(t, int64(2*16384), ts.IndexFileLength)
}

func TestFillSizesFromSchema(t *testing.T) {
	raw := rawFixture()
	raw.StatsDict["ITEM"].Schema = &meta.Table{
		Columns: []meta.Column{
			{Name: "I_IM_ID", DataType: "int", ColumnType: "int"},
			{Name: "I_PRICE", DataType: "decimal", ColumnType: "decimal(5,2)"},
		},
		Indexes: []meta.Index{
			{Name: "PRIMARY", Type: meta.IndexPrimary, Columns: []meta.IndexColumn{{Name: "I_IM_ID"}}},
		},
	}

	tm, err := Construct(raw)
	require.NoError(t, err)
	ts, _ := tm.Table("item")

	// rows * (4 + 8 + overhead 10)
	require.Equal(t, int64(22), ts.AvgRowLength)
	require.Equal(t, int64(2200), ts.DataFileLength)
	require.Greater(t, ts.IndexFileLength, int64(0))
	// page counts derived back from the byte lengths
	require.Equal(t, ts.DataFileLength/16384, ts.ClusteredIndexSize)
}
