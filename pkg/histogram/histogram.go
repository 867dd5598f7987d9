// Package histogram loads MySQL column histograms and answers cumulative
// frequency queries against them. Both equi-height and singleton histograms
// reduce to the same bucket list; buckets are sorted, non-overlapping and
// may have gaps.
package histogram

import (
	"math"
	"time"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/videx-project/videx/pkg/keyrange"
	"github.com/videx-project/videx/pkg/util/log"
	"github.com/videx-project/videx/pkg/value"
)

// meaninglessInt marks optional snapshot fields that carry no information.
const meaninglessInt = -1357

// Bucket is one histogram bucket. RowCount is the bucket NDV; it is a float
// because collection tools may produce fractional estimates.
type Bucket struct {
	Min      value.Value
	Max      value.Value
	CumFreq  float64
	RowCount float64
}

// Histogram holds the decoded histogram of one column.
type Histogram struct {
	Buckets       []Bucket
	DataType      string
	HistogramType string
	NullValues    float64

	CollationID      int
	LastUpdated      string
	SamplingRate     float64
	BucketsSpecified int
}

// normalize applies the load-time fixups: a meaningless null fraction reads
// as zero, and when the null fraction plus the last cumulative frequency
// drifts more than 1% from one the bucket frequencies are rescaled so the
// sum lands exactly on one.
func (h *Histogram) normalize() error {
	if int(h.NullValues) == meaninglessInt {
		h.NullValues = 0
	}
	if h.NullValues < 0 {
		return errors.Errorf("null_values must be >= 0, got %v", h.NullValues)
	}
	if len(h.Buckets) == 0 {
		return nil
	}
	last := h.Buckets[len(h.Buckets)-1].CumFreq
	if math.Abs(h.NullValues+last-1) > 0.01 {
		level.Warn(log.Logger).Log("msg", "rescaling histogram frequencies",
			"null_values", h.NullValues, "last_cum_freq", last)
		scale := (1 - h.NullValues) / last
		for i := range h.Buckets {
			h.Buckets[i].CumFreq *= scale
		}
		h.Buckets[len(h.Buckets)-1].CumFreq = 1 - h.NullValues
	}
	return nil
}

// FractionBelow returns the fraction of table rows that sort strictly below
// the key probe at the given side of the value. NULLs sort first, so the
// result ranges from 0 (left of NULL) through the null fraction (right of
// NULL, or below the smallest value) up to 1 (past the largest value).
func (h *Histogram) FractionBelow(raw string, side keyrange.Side) (float64, error) {
	// request bounds arrive as raw strings, never base64-enveloped
	v, err := value.Parse(raw, h.DataType, false)
	if err != nil {
		return 0, err
	}
	if v.IsNull() {
		switch side {
		case keyrange.SideLeft:
			return 0, nil
		case keyrange.SideRight:
			return h.NullValues, nil
		default:
			return 0, errors.Errorf("only key sides left and right are supported, got %v", side)
		}
	}
	if len(h.Buckets) == 0 {
		return h.NullValues, nil
	}
	if v.Cmp(h.Buckets[len(h.Buckets)-1].Max) > 0 {
		return 1, nil
	}
	if v.Cmp(h.Buckets[0].Min) < 0 {
		return h.NullValues, nil
	}

	for i := range h.Buckets {
		cur := &h.Buckets[i]
		if i+1 < len(h.Buckets) && v.Cmp(cur.Max) > 0 && v.Cmp(h.Buckets[i+1].Min) < 0 {
			// the value fell into a gap, clamp to the nearer boundary
			level.Warn(log.Logger).Log("msg", "value between histogram buckets",
				"value", v.String(), "bucket", i)
			v = cur.Max
		}
		if v.Cmp(cur.Min) < 0 || v.Cmp(cur.Max) > 0 {
			continue
		}

		width, offset, err := h.valuePos(cur, v)
		if err != nil {
			return 0, err
		}

		var posInBucket float64
		switch side {
		case keyrange.SideLeft:
			posInBucket = offset
		case keyrange.SideRight:
			posInBucket = offset + width
		default:
			return 0, errors.Errorf("only key sides left and right are supported, got %v", side)
		}

		preCumFreq := 0.0
		if i > 0 {
			preCumFreq = h.Buckets[i-1].CumFreq
		}
		return h.NullValues + preCumFreq + (cur.CumFreq-preCumFreq)*posInBucket, nil
	}
	return 0, errors.Errorf("value %s not located in any bucket", v.String())
}

// valuePos estimates where a value sits inside a bucket: the width a single
// value occupies and the offset of this value from the bucket start, both as
// fractions of the bucket. Uniform distribution is assumed, so the width of
// one value is at least 1/bucket_ndv.
func (h *Histogram) valuePos(cur *Bucket, v value.Value) (width, offset float64, err error) {
	width = 1 / cur.RowCount
	if cur.Min.Cmp(cur.Max) == 0 {
		return 1, 0, nil
	}
	switch {
	case value.IsIntType(h.DataType):
		span := cur.Max.Float64() + 1 - cur.Min.Float64()
		width = math.Max(1/span, width)
		offset = (v.Float64() - cur.Min.Float64()) / span
	case h.DataType == "float" || h.DataType == "double" || h.DataType == "decimal":
		// the width of a float value stays at the ndv floor
		offset = (v.Float64() - cur.Min.Float64()) / (cur.Max.Float64() - cur.Min.Float64())
	case value.IsStringType(h.DataType):
		// strings only compare, no arithmetic: pin the two ends, take the
		// middle for everything else
		switch {
		case v.Cmp(cur.Min) == 0:
			offset = 0
		case v.Cmp(cur.Max) == 0:
			offset = 1
		default:
			offset = 0.5
		}
	case h.DataType == "date":
		minT, err1 := value.ParseDateTime(cur.Min.Str())
		maxT, err2 := value.ParseDateTime(cur.Max.Str())
		valT, err3 := value.ParseDateTime(v.Str())
		if err1 != nil || err2 != nil || err3 != nil {
			return 0, 0, errors.Errorf("bad date bounds in bucket [%s, %s]", cur.Min.Str(), cur.Max.Str())
		}
		totalDays := daysBetween(minT, maxT) + 1
		width = math.Max(1/float64(totalDays), width)
		offset = float64(daysBetween(minT, valT)) / float64(totalDays)
	case h.DataType == "datetime" || h.DataType == "timestamp":
		minT, err1 := value.ParseDateTime(cur.Min.Str())
		maxT, err2 := value.ParseDateTime(cur.Max.Str())
		valT, err3 := value.ParseDateTime(v.Str())
		if err1 != nil || err2 != nil || err3 != nil {
			return 0, 0, errors.Errorf("bad datetime bounds in bucket [%s, %s]", cur.Min.Str(), cur.Max.Str())
		}
		totalSeconds := int64(maxT.Sub(minT).Seconds())
		if totalSeconds > 0 {
			width = math.Max(1/float64(totalSeconds), width)
			offset = valT.Sub(minT).Seconds() / float64(totalSeconds)
		}
	default:
		return 0, 0, errors.Wrapf(value.ErrUnsupportedType, "%q", h.DataType)
	}
	// the offset may sit at the right boundary
	offset = math.Min(offset, 1-width)
	return width, offset, nil
}

func daysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bd.Sub(ad) / (24 * time.Hour))
}
