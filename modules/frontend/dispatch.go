package frontend

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/videx-project/videx/pkg/api"
	"github.com/videx-project/videx/pkg/estimator"
	"github.com/videx-project/videx/pkg/keyrange"
	"github.com/videx-project/videx/pkg/stats"
	"github.com/videx-project/videx/pkg/util/log"
	"github.com/videx-project/videx/pkg/value"
)

// The function property carries the full C++ signature of the engine
// callback, e.g.
// "virtual ha_rows ha_videx::records_in_range(uint, key_range*, key_range*)".
// Routing only looks at the callback name.
var knownFunctions = []string{
	"records_in_range",
	"info_low",
	"scan_time",
	"get_memory_buffer_size",
}

func functionFragment(function string) string {
	for _, fn := range knownFunctions {
		if strings.Contains(function, fn) {
			return fn
		}
	}
	return "unknown"
}

// dispatch routes one decoded request to its handler. Handler-level
// degradation stays inside the 200 envelope; only transport problems
// surface as errors.
func (f *Frontend) dispatch(ctx context.Context, req *api.Item, fn string) (*api.Response, error) {
	opts, err := req.ParseOptions()
	if err != nil {
		level.Warn(log.Logger).Log("msg", "unparseable videx_options, ignoring",
			"options", req.Prop(api.PropVidexOptions), "err", err)
	}

	tableName := req.Prop(api.PropTableName)
	tm, ok := f.registry.Lookup(opts.TaskID)
	if !ok {
		level.Warn(log.Logger).Log("msg", "unknown task, serving fallback",
			"task_id", opts.TaskID, "table", tableName, "function", fn)
		return fallbackResponse(req, fn), nil
	}

	if opts.UseGT && tm.ReqResp != nil {
		if resp, ok := tm.ReqResp[api.FingerprintKey(req)]; ok {
			return resp, nil
		}
	}

	table, ok := tm.Table(tableName)
	if !ok {
		level.Warn(log.Logger).Log("msg", "unknown table, serving fallback",
			"task_id", opts.TaskID, "db", req.Prop(api.PropDBName), "table", tableName, "function", fn)
		return fallbackResponse(req, fn), nil
	}

	m := estimator.NewInnoDB(table)
	switch fn {
	case "records_in_range":
		return f.recordsInRange(ctx, tm, table, m, req, opts)
	case "scan_time":
		return api.OK(map[string]string{"value": formatFloat(m.ScanTime())}), nil
	case "get_memory_buffer_size":
		return api.OK(map[string]string{"value": strconv.FormatInt(m.MemoryBufferSize(), 10)}), nil
	case "info_low":
		data, err := m.InfoLow(req)
		if err != nil {
			return nil, err
		}
		return api.OK(data), nil
	default:
		return api.NotSupported("function not supported: " + req.Prop(api.PropFunction)), nil
	}
}

func (f *Frontend) recordsInRange(ctx context.Context, tm *stats.TaskMeta, table *stats.TableStats, m estimator.Strategy, req *api.Item, opts api.Options) (*api.Response, error) {
	cond := decodeRange(table, req)

	var (
		rows int64
		err  error
	)
	if opts.UseGT {
		rows, err = estimator.RecordsInRangeWithGT(ctx, tm.GTTable(table.Name), m, cond)
	} else {
		rows, err = m.RecordsInRange(ctx, cond)
	}
	if err != nil {
		if errors.Is(err, value.ErrUnsupportedType) || errors.Is(err, value.ErrInvalidLiteral) {
			// a literal or type the codec cannot handle degrades to the
			// widest safe answer
			level.Warn(log.Logger).Log("msg", "records_in_range degraded",
				"table", table.Name, "range", cond.PrintFull(), "err", err)
			return &api.Response{
				Code:    200,
				Message: err.Error(),
				Data:    map[string]string{"value": "1"},
			}, nil
		}
		return nil, err
	}
	return api.OK(map[string]string{"value": strconv.FormatInt(rows, 10)}), nil
}

// decodeRange turns the min_key/max_key records of a request into the
// range condition, resolving data types from the schema and falling back
// to histogram metadata when no schema was loaded.
func decodeRange(table *stats.TableStats, req *api.Item) *keyrange.IndexRangeCond {
	minKey := keyFromItem(req.Child(api.ItemTypeMinKey))
	maxKey := keyFromItem(req.Child(api.ItemTypeMaxKey))

	idxName := minKey.IndexName
	if idxName == "" {
		idxName = maxKey.IndexName
	}

	dataTypeOf := func(col string) string {
		if table.Schema != nil {
			if c := table.Schema.Column(col); c != nil {
				return c.DataType
			}
		}
		if h := table.GetColHist(col); h != nil {
			return h.DataType
		}
		return ""
	}
	isDescCol := func(pos int) bool {
		if table.Schema == nil {
			return false
		}
		idx := table.Schema.Index(idxName)
		if idx == nil || pos >= len(idx.Columns) {
			return false
		}
		return idx.Columns[pos].IsDesc()
	}

	return keyrange.Decode(minKey, maxKey, dataTypeOf, isDescCol)
}

func keyFromItem(it *api.Item) keyrange.Key {
	if it == nil {
		return keyrange.Key{}
	}
	k := keyrange.Key{
		Present:   true,
		IndexName: it.Prop("index_name"),
		Operator:  it.Prop("operator"),
	}
	for j := range it.Data {
		child := &it.Data[j]
		k.Columns = append(k.Columns, keyrange.ColumnBound{
			Column: child.Prop("column"),
			Value:  child.Prop("value"),
		})
	}
	return k
}

// fallbackResponse serves degenerate answers for unknown tasks or tables,
// keeping the optimizer alive while metadata is being loaded.
func fallbackResponse(req *api.Item, fn string) *api.Response {
	switch fn {
	case "records_in_range":
		return api.OK(map[string]string{"value": "1"})
	case "scan_time":
		return api.OK(map[string]string{"value": "10"})
	case "get_memory_buffer_size":
		return api.OK(map[string]string{"value": "-1"})
	case "info_low":
		return api.OK(estimator.Fallback(req))
	default:
		return api.NotSupported("function not supported: " + req.Prop(api.PropFunction))
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
