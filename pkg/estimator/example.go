package estimator

import (
	"context"

	"github.com/videx-project/videx/pkg/api"
	"github.com/videx-project/videx/pkg/keyrange"
	"github.com/videx-project/videx/pkg/stats"
)

// Example is the trivial reference strategy: constant answers everywhere a
// model would interpolate. Useful as a template for new models and as a
// baseline in tests.
type Example struct {
	table *stats.TableStats
}

// NewExample builds the example strategy for one table.
func NewExample(table *stats.TableStats) *Example {
	return &Example{table: table}
}

// ScanTime counts deleted rows too, a full scan still touches them.
func (m *Example) ScanTime() float64 {
	return float64(m.table.Records+m.table.Deleted)/20 + 10
}

func (m *Example) MemoryBufferSize() int64 { return -1 }

// RecordsInRange always answers 10 rows per range condition.
func (m *Example) RecordsInRange(_ context.Context, cond *keyrange.IndexRangeCond) (int64, error) {
	return 10, nil
}

func (m *Example) NDV(string, []string) int64 { return 1 }

func (m *Example) InfoLow(req *api.Item) (map[string]string, error) {
	out := map[string]string{
		"stat_n_rows":                   "10",
		"stat_clustered_index_size":     "1",
		"stat_sum_of_other_index_sizes": "1",
		"data_file_length":              "16384",
		"index_file_length":             "16384",
		"data_free_length":              "0",
	}
	for i := range req.Data {
		key := &req.Data[i]
		if key.ItemType != api.ItemTypeKey {
			continue
		}
		keyName := key.Prop("name")
		out["pct_cached"+keySep+keyName] = "1"
		for j := range key.Data {
			field := &key.Data[j]
			if field.ItemType != api.ItemTypeField {
				continue
			}
			out["rec_per_key"+keySep+keyName+keySep+field.Prop("name")] = "1"
		}
	}
	return out, nil
}
