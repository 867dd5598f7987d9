package histogram

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/videx-project/videx/pkg/value"
)

// The histogram arrives in two spellings: raw ANALYZE TABLE output uses
// hyphenated keys (data-type, null-values), harvested snapshots use
// underscores. Buckets may be objects or the raw [min, max, cum_freq,
// row_count] arrays, with singleton histograms shortened to [value,
// cum_freq].

type bucketWire struct {
	Min      jsoniter.RawMessage `json:"min_value"`
	Max      jsoniter.RawMessage `json:"max_value"`
	CumFreq  float64             `json:"cum_freq"`
	RowCount float64             `json:"row_count"`
}

func (h *Histogram) UnmarshalJSON(data []byte) error {
	var raw map[string]jsoniter.RawMessage
	if err := jsoniter.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "decoding histogram")
	}
	pick := func(out interface{}, keys ...string) error {
		for _, k := range keys {
			if v, ok := raw[k]; ok {
				return jsoniter.Unmarshal(v, out)
			}
		}
		return nil
	}

	h.SamplingRate = meaninglessInt
	h.CollationID = meaninglessInt
	h.BucketsSpecified = meaninglessInt
	if err := pick(&h.DataType, "data_type", "data-type"); err != nil {
		return err
	}
	if err := pick(&h.HistogramType, "histogram_type", "histogram-type"); err != nil {
		return err
	}
	if err := pick(&h.NullValues, "null_values", "null-values"); err != nil {
		return err
	}
	if err := pick(&h.CollationID, "collation_id", "collation-id"); err != nil {
		return err
	}
	if err := pick(&h.LastUpdated, "last_updated", "last-updated"); err != nil {
		return err
	}
	if err := pick(&h.SamplingRate, "sampling_rate", "sampling-rate"); err != nil {
		return err
	}
	if err := pick(&h.BucketsSpecified, "number_of_buckets_specified", "number-of-buckets-specified"); err != nil {
		return err
	}

	var buckets []jsoniter.RawMessage
	if err := pick(&buckets, "buckets"); err != nil {
		return err
	}
	h.Buckets = make([]Bucket, 0, len(buckets))
	for _, b := range buckets {
		bucket, err := h.decodeBucket(b)
		if err != nil {
			return err
		}
		h.Buckets = append(h.Buckets, bucket)
	}
	return h.normalize()
}

func (h *Histogram) decodeBucket(raw jsoniter.RawMessage) (Bucket, error) {
	if len(raw) > 0 && raw[0] == '[' {
		var parts []jsoniter.RawMessage
		if err := jsoniter.Unmarshal(raw, &parts); err != nil {
			return Bucket{}, errors.Wrap(err, "decoding bucket array")
		}
		switch len(parts) {
		case 2:
			v, err := value.FromJSON(parts[0], h.DataType)
			if err != nil {
				return Bucket{}, err
			}
			var cum float64
			if err := jsoniter.Unmarshal(parts[1], &cum); err != nil {
				return Bucket{}, errors.Wrap(err, "decoding bucket cum_freq")
			}
			return Bucket{Min: v, Max: v, CumFreq: cum, RowCount: 1}, nil
		case 4:
			min, err := value.FromJSON(parts[0], h.DataType)
			if err != nil {
				return Bucket{}, err
			}
			max, err := value.FromJSON(parts[1], h.DataType)
			if err != nil {
				return Bucket{}, err
			}
			var cum, rowCount float64
			if err := jsoniter.Unmarshal(parts[2], &cum); err != nil {
				return Bucket{}, errors.Wrap(err, "decoding bucket cum_freq")
			}
			if err := jsoniter.Unmarshal(parts[3], &rowCount); err != nil {
				return Bucket{}, errors.Wrap(err, "decoding bucket row_count")
			}
			return Bucket{Min: min, Max: max, CumFreq: cum, RowCount: rowCount}, nil
		default:
			return Bucket{}, errors.Errorf("bucket arrays must have 2 or 4 elements, got %d", len(parts))
		}
	}

	var w bucketWire
	if err := jsoniter.Unmarshal(raw, &w); err != nil {
		return Bucket{}, errors.Wrap(err, "decoding bucket object")
	}
	min, err := value.FromJSON(w.Min, h.DataType)
	if err != nil {
		return Bucket{}, err
	}
	max, err := value.FromJSON(w.Max, h.DataType)
	if err != nil {
		return Bucket{}, err
	}
	return Bucket{Min: min, Max: max, CumFreq: w.CumFreq, RowCount: w.RowCount}, nil
}

type histogramWire struct {
	DataType         string  `json:"data_type"`
	HistogramType    string  `json:"histogram_type"`
	NullValues       float64 `json:"null_values"`
	CollationID      int     `json:"collation_id"`
	LastUpdated      string  `json:"last_updated"`
	SamplingRate     float64 `json:"sampling_rate"`
	BucketsSpecified int     `json:"number_of_buckets_specified"`
}

// MarshalJSON writes the snapshot (underscore) spelling with object buckets.
func (h *Histogram) MarshalJSON() ([]byte, error) {
	type outBucket struct {
		Min      value.Value `json:"min_value"`
		Max      value.Value `json:"max_value"`
		CumFreq  float64     `json:"cum_freq"`
		RowCount float64     `json:"row_count"`
	}
	out := struct {
		Buckets []outBucket `json:"buckets"`
		histogramWire
	}{
		Buckets: make([]outBucket, 0, len(h.Buckets)),
		histogramWire: histogramWire{
			DataType:         h.DataType,
			HistogramType:    h.HistogramType,
			NullValues:       h.NullValues,
			CollationID:      h.CollationID,
			LastUpdated:      h.LastUpdated,
			SamplingRate:     h.SamplingRate,
			BucketsSpecified: h.BucketsSpecified,
		},
	}
	for _, b := range h.Buckets {
		out.Buckets = append(out.Buckets, outBucket{Min: b.Min, Max: b.Max, CumFreq: b.CumFreq, RowCount: b.RowCount})
	}
	return jsoniter.Marshal(out)
}
