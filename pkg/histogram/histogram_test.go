package histogram

import (
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"

	"github.com/videx-project/videx/pkg/keyrange"
	"github.com/videx-project/videx/pkg/value"
)

// The integer fixture mirrors the tpcc ITEM column used while validating
// against a real engine: three buckets over [1,6] with a gap between 3 and
// 4 and a singleton bucket at 4, 100 table rows.
func intHistogram(dataType string) *Histogram {
	return &Histogram{
		DataType: dataType,
		Buckets: []Bucket{
			{Min: value.Int(1), Max: value.Int(3), CumFreq: 0.6, RowCount: 60},
			{Min: value.Int(4), Max: value.Int(4), CumFreq: 0.8, RowCount: 20},
			{Min: value.Int(5), Max: value.Int(6), CumFreq: 1, RowCount: 20},
		},
	}
}

func floatHistogram() *Histogram {
	return &Histogram{
		DataType: "float",
		Buckets: []Bucket{
			{Min: value.Float(1), Max: value.Float(3), CumFreq: 0.6, RowCount: 60},
			{Min: value.Float(4), Max: value.Float(4), CumFreq: 0.8, RowCount: 20},
			{Min: value.Float(5), Max: value.Float(6), CumFreq: 1, RowCount: 20},
		},
	}
}

func rowsBelow(t *testing.T, h *Histogram, raw string, side keyrange.Side, tableRows float64) float64 {
	t.Helper()
	frac, err := h.FractionBelow(raw, side)
	require.NoError(t, err)
	return frac * tableRows
}

func TestFractionBelowIntRight(t *testing.T) {
	h := intHistogram("int")
	for _, tc := range []struct {
		val  string
		want float64
	}{
		{"0", 0},
		{"1", 20},
		{"2", 40},
		{"4", 80},
		{"5", 90},
		{"6", 100},
		{"10", 100},
	} {
		require.InDelta(t, tc.want, rowsBelow(t, h, tc.val, keyrange.SideRight, 100), 1e-9, "value %s", tc.val)
	}
}

func TestFractionBelowIntLeft(t *testing.T) {
	h := intHistogram("int")
	for _, tc := range []struct {
		val  string
		want float64
	}{
		{"0", 0},
		{"1", 0},
		{"2", 20},
		{"3", 40},
		{"4", 60},
		{"5", 80},
		{"6", 90},
		{"10", 100},
	} {
		require.InDelta(t, tc.want, rowsBelow(t, h, tc.val, keyrange.SideLeft, 100), 1e-9, "value %s", tc.val)
	}
}

func TestFractionBelowFloat(t *testing.T) {
	h := floatHistogram()
	// unlike int, a float value has no 1/(max-min+1) floor: its width stays
	// at 1/bucket_ndv
	for _, tc := range []struct {
		val  string
		side keyrange.Side
		want float64
	}{
		{"0", keyrange.SideRight, 0},
		{"1", keyrange.SideRight, 1},
		{"2", keyrange.SideRight, 31},
		{"4", keyrange.SideRight, 80},
		{"5", keyrange.SideRight, 81},
		{"6", keyrange.SideRight, 100},
		{"10", keyrange.SideRight, 100},
		{"2", keyrange.SideLeft, 30},
		{"3", keyrange.SideLeft, 59},
		{"4", keyrange.SideLeft, 60},
		{"5", keyrange.SideLeft, 80},
		{"6", keyrange.SideLeft, 99},
		{"10", keyrange.SideLeft, 100},
	} {
		require.InDelta(t, tc.want, rowsBelow(t, h, tc.val, tc.side, 100), 1e-9, "value %s side %v", tc.val, tc.side)
	}
}

const stringHistogramJSON = `{
  "buckets": [
    {"min_value": "base64:type254:YXhhaGtyc2I=", "max_value": "base64:type254:ZHZ1bXV1eWVh", "cum_freq": 0.1, "row_count": 8},
    {"min_value": "base64:type254:ZHltb2p3bW94", "max_value": "base64:type254:ZnBtZmty", "cum_freq": 0.2, "row_count": 8},
    {"min_value": "base64:type254:ZnR1cXY=", "max_value": "base64:type254:aGN2Ympx", "cum_freq": 0.3, "row_count": 8},
    {"min_value": "base64:type254:aGpqY2JxcQ==", "max_value": "base64:type254:aXlkd3Fk", "cum_freq": 0.4, "row_count": 8},
    {"min_value": "base64:type254:aXlld21tdg==", "max_value": "base64:type254:bHdvdmZi", "cum_freq": 0.5, "row_count": 8},
    {"min_value": "base64:type254:bHl2ZmVi", "max_value": "base64:type254:cWxoemxjd3c=", "cum_freq": 0.6, "row_count": 8},
    {"min_value": "base64:type254:cXh2ZXJm", "max_value": "base64:type254:c3lwaGQ=", "cum_freq": 0.7, "row_count": 8},
    {"min_value": "base64:type254:dGlmdW1lYQ==", "max_value": "base64:type254:dWJ0cmN2Zng=", "cum_freq": 0.8, "row_count": 8},
    {"min_value": "base64:type254:dWZlcGhhZ3Nm", "max_value": "base64:type254:eHdlYW5ma3A=", "cum_freq": 0.9, "row_count": 8},
    {"min_value": "base64:type254:eHlmdnZubXc=", "max_value": "base64:type254:emd6em5q", "cum_freq": 1, "row_count": 8}
  ],
  "data_type": "string",
  "null_values": 0,
  "collation_id": 8,
  "last_updated": "2023-11-19 03:04:12.606021",
  "sampling_rate": 1,
  "histogram_type": "equi-height",
  "number_of_buckets_specified": 10
}`

func TestFractionBelowString(t *testing.T) {
	h := &Histogram{}
	require.NoError(t, jsoniter.UnmarshalFromString(stringHistogramJSON, h))
	require.Len(t, h.Buckets, 10)
	require.Equal(t, "axahkrsb", h.Buckets[0].Min.Str())

	// 80 rows, 8 per bucket; interior strings sit at the bucket middle
	for _, tc := range []struct {
		val  string
		side keyrange.Side
		want float64
	}{
		{"'ax'", keyrange.SideLeft, 0},
		{"'axahkrsb'", keyrange.SideLeft, 0},
		{"'bqqmc'", keyrange.SideLeft, 4},
		{"'dvumuuyea'", keyrange.SideLeft, 7},
		// between buckets, clamped to the nearer boundary
		{"'dvumuuyea_'", keyrange.SideLeft, 7},
		{"'ax'", keyrange.SideRight, 0},
		{"'axahkrsb'", keyrange.SideRight, 1},
		{"'bqqmc'", keyrange.SideRight, 5},
		{"'dvumuuyea'", keyrange.SideRight, 8},
	} {
		require.InDelta(t, tc.want, rowsBelow(t, h, tc.val, tc.side, 80), 1e-9, "value %s side %v", tc.val, tc.side)
	}
}

func TestFractionBelowNulls(t *testing.T) {
	h := intHistogram("int")
	h.NullValues = 0.5
	for i := range h.Buckets {
		h.Buckets[i].CumFreq /= 2
	}

	// left of NULL nothing, right of NULL all the nulls
	require.InDelta(t, 0.0, rowsBelow(t, h, "NULL", keyrange.SideLeft, 100), 1e-9)
	require.InDelta(t, 50.0, rowsBelow(t, h, "NULL", keyrange.SideRight, 100), 1e-9)
	// below the histogram minimum only nulls sort first
	require.InDelta(t, 50.0, rowsBelow(t, h, "0", keyrange.SideLeft, 100), 1e-9)
	require.InDelta(t, 100.0, rowsBelow(t, h, "10", keyrange.SideRight, 100), 1e-9)
}

func TestUnmarshalArrayBuckets(t *testing.T) {
	h := &Histogram{}
	err := jsoniter.UnmarshalFromString(`{
		"data-type": "int",
		"histogram-type": "equi-height",
		"null-values": 0,
		"buckets": [[1, 3, 0.6, 60], [4, 4, 0.8, 20], [5, 6, 1, 20]]
	}`, h)
	require.NoError(t, err)
	require.Equal(t, "int", h.DataType)
	require.Len(t, h.Buckets, 3)
	require.Equal(t, int64(4), h.Buckets[1].Min.Int64())
	require.Equal(t, 0.8, h.Buckets[1].CumFreq)
}

func TestUnmarshalSingletonBuckets(t *testing.T) {
	h := &Histogram{}
	err := jsoniter.UnmarshalFromString(`{
		"data_type": "int",
		"histogram_type": "singleton",
		"null_values": 0,
		"buckets": [[1, 0.25], [2, 0.5], [3, 0.75], [4, 1]]
	}`, h)
	require.NoError(t, err)
	require.Len(t, h.Buckets, 4)
	require.Equal(t, 0, h.Buckets[2].Min.Cmp(h.Buckets[2].Max))

	// an equality on a singleton bucket spans exactly that bucket
	lo, err := h.FractionBelow("3", keyrange.SideLeft)
	require.NoError(t, err)
	hi, err := h.FractionBelow("3", keyrange.SideRight)
	require.NoError(t, err)
	require.InDelta(t, 0.25, hi-lo, 1e-9)
}

func TestNormalizeRescales(t *testing.T) {
	h := &Histogram{}
	err := jsoniter.UnmarshalFromString(`{
		"data_type": "int",
		"null_values": 0.5,
		"buckets": [[1, 3, 0.5, 60], [4, 6, 1.0, 20]]
	}`, h)
	require.NoError(t, err)
	// null fraction plus last cumulative frequency was 1.5, everything is
	// rescaled so it lands on 1
	require.InDelta(t, 0.25, h.Buckets[0].CumFreq, 1e-9)
	require.InDelta(t, 0.5, h.Buckets[1].CumFreq, 1e-9)
}

func TestNormalizeRejectsNegativeNulls(t *testing.T) {
	h := &Histogram{}
	err := jsoniter.UnmarshalFromString(`{"data_type": "int", "null_values": -0.5, "buckets": []}`, h)
	require.Error(t, err)
}
