package frontend

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/videx-project/videx/modules/registry"
	"github.com/videx-project/videx/pkg/api"
)

const taskPayload = `{
	"task_id": "test_rr_tpcc",
	"videx_db": "videx_tpcc",
	"stats_dict": {"ITEM": {"records": 100}},
	"hist_dict": {
		"ITEM": {
			"I_PRICE": {
				"data_type": "decimal",
				"null_values": 0,
				"buckets": [[1, 3, 0.6, 60], [4, 4, 0.8, 20], [5, 6, 1, 20]]
			},
			"I_IM_ID": {
				"data_type": "int",
				"null_values": 0,
				"buckets": [[1, 0.25], [2, 0.5], [3, 0.75], [4, 1]]
			}
		}
	},
	"ndv_single_dict": {"ITEM": {"I_IM_ID": 4, "I_PRICE": 60}},
	"gt_rec_in_ranges": [
		{"table": "` + "`ITEM`" + `", "index": "idx_I_IM_ID", "ranges": ["I_IM_ID = 3"], "rows": 42}
	]
}`

func setup(t *testing.T) *mux.Router {
	t.Helper()
	reg := registry.New(registry.Config{MaxPayloadBytes: 1 << 20})
	fe := New(Config{MaxRequestBodyBytes: 1 << 20, MetaDir: t.TempDir()}, reg)
	router := mux.NewRouter()
	fe.RegisterRoutes(router)
	return router
}

func do(t *testing.T, router *mux.Router, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func loadTask(t *testing.T, router *mux.Router) {
	t.Helper()
	w := do(t, router, http.MethodPost, "/create_task_meta", taskPayload, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func askVidex(t *testing.T, router *mux.Router, reqBody string) *api.Response {
	t.Helper()
	w := do(t, router, http.MethodPost, "/ask_videx", reqBody, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := &api.Response{}
	require.NoError(t, jsoniter.Unmarshal(w.Body.Bytes(), resp))
	return resp
}

func recordsInRangeRequest(taskID string, useGT bool) string {
	req := map[string]interface{}{
		"item_type": "videx_request",
		"properties": map[string]string{
			"dbname":                "videx_tpcc",
			"function":              "virtual ha_rows ha_videx::records_in_range(uint, key_range*, key_range*)",
			"table_name":            "ITEM",
			"target_storage_engine": "INNODB",
			"videx_options":         `{"task_id": "` + taskID + `", "use_gt": ` + map[bool]string{true: "true", false: "false"}[useGT] + `}`,
		},
		"data": []interface{}{
			map[string]interface{}{
				"item_type":  "min_key",
				"properties": map[string]string{"index_name": "idx_I_IM_ID", "length": "4", "operator": "="},
				"data": []interface{}{map[string]interface{}{
					"item_type":  "column_and_bound",
					"properties": map[string]string{"column": "I_IM_ID", "value": "3"},
				}},
			},
			map[string]interface{}{
				"item_type":  "max_key",
				"properties": map[string]string{"index_name": "idx_I_IM_ID", "length": "4", "operator": ">"},
				"data": []interface{}{map[string]interface{}{
					"item_type":  "column_and_bound",
					"properties": map[string]string{"column": "I_IM_ID", "value": "3"},
				}},
			},
		},
	}
	buf, _ := jsoniter.Marshal(req)
	return string(buf)
}

func simpleRequest(taskID, function string) string {
	req := map[string]interface{}{
		"item_type": "videx_request",
		"properties": map[string]string{
			"dbname":        "videx_tpcc",
			"function":      function,
			"table_name":    "ITEM",
			"videx_options": `{"task_id": "` + taskID + `"}`,
		},
		"data": []interface{}{},
	}
	buf, _ := jsoniter.Marshal(req)
	return string(buf)
}

func TestCreateTaskMeta(t *testing.T) {
	router := setup(t)
	loadTask(t, router)

	// replacing the task is fine
	loadTask(t, router)
}

func TestCreateTaskMetaGzip(t *testing.T) {
	router := setup(t)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(taskPayload))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	w := do(t, router, http.MethodPost, "/create_task_meta", buf.String(),
		http.Header{"Content-Encoding": []string{"gzip"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestCreateTaskMetaValidationError(t *testing.T) {
	router := setup(t)
	w := do(t, router, http.MethodPost, "/create_task_meta", `{"task_id": "x"}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAskVidexRecordsInRange(t *testing.T) {
	router := setup(t)
	loadTask(t, router)

	resp := askVidex(t, router, recordsInRangeRequest("test_rr_tpcc", false))
	require.Equal(t, 200, resp.Code)
	require.Equal(t, "OK", resp.Message)
	require.Equal(t, map[string]string{"value": "25"}, resp.Data)
}

func TestAskVidexRecordsInRangeGroundTruth(t *testing.T) {
	router := setup(t)
	loadTask(t, router)

	resp := askVidex(t, router, recordsInRangeRequest("test_rr_tpcc", true))
	require.Equal(t, map[string]string{"value": "42"}, resp.Data)
}

func TestAskVidexScanTime(t *testing.T) {
	router := setup(t)
	loadTask(t, router)

	resp := askVidex(t, router, simpleRequest("test_rr_tpcc", "virtual double ha_videx::scan_time()"))
	require.Equal(t, map[string]string{"value": "15"}, resp.Data)
}

func TestAskVidexMemoryBufferSize(t *testing.T) {
	router := setup(t)
	loadTask(t, router)

	resp := askVidex(t, router, simpleRequest("test_rr_tpcc", "virtual longlong ha_videx::get_memory_buffer_size() const"))
	require.Equal(t, map[string]string{"value": "-1"}, resp.Data)
}

func TestAskVidexInfoLow(t *testing.T) {
	router := setup(t)
	loadTask(t, router)

	resp := askVidex(t, router, simpleRequest("test_rr_tpcc", "virtual int ha_videx::info_low(uint, dd::Table*)"))
	require.Equal(t, 200, resp.Code)
	require.Equal(t, "100", resp.Data["stat_n_rows"])
}

func TestAskVidexUnsupportedFunction(t *testing.T) {
	router := setup(t)
	loadTask(t, router)

	resp := askVidex(t, router, simpleRequest("test_rr_tpcc", "virtual double ha_videx::read_time(uint, uint, ha_rows)"))
	require.Equal(t, 200, resp.Code)
	require.Contains(t, resp.Message, "not supported")
}

func TestAskVidexUnknownTaskFallsBack(t *testing.T) {
	router := setup(t)
	loadTask(t, router)

	resp := askVidex(t, router, recordsInRangeRequest("no_such_task", false))
	require.Equal(t, 200, resp.Code)
	require.Equal(t, map[string]string{"value": "1"}, resp.Data)
}

func TestAskVidexBadBody(t *testing.T) {
	router := setup(t)
	w := do(t, router, http.MethodPost, "/ask_videx", "{", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleErrorStatusCodes(t *testing.T) {
	fe := New(Config{MaxRequestBodyBytes: 1 << 20, MetaDir: t.TempDir()},
		registry.New(registry.Config{MaxPayloadBytes: 1 << 20}))
	newReq := func(ctx context.Context) *http.Request {
		return httptest.NewRequest(http.MethodPost, "/ask_videx", nil).WithContext(ctx)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	w := httptest.NewRecorder()
	fe.handleError(w, newReq(cancelled), cancelled.Err())
	require.Equal(t, statusClientClosedRequest, w.Code)

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	w = httptest.NewRecorder()
	fe.handleError(w, newReq(expired), expired.Err())
	require.Equal(t, http.StatusGatewayTimeout, w.Code)

	w = httptest.NewRecorder()
	fe.handleError(w, newReq(context.Background()), errors.New("boom"))
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetStats(t *testing.T) {
	router := setup(t)
	loadTask(t, router)

	w := do(t, router, http.MethodGet, "/videx/visualization/get_stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "test_rr_tpcc")
	require.Contains(t, w.Body.String(), "videx_tpcc")
}

func TestMetadataFiles(t *testing.T) {
	router := setup(t)
	target := "/save_metadata?db_name=tpcc&files_server_ip_port=127_0_0_1_13308"

	w := do(t, router, http.MethodPost, target, `{"stats_dict": {"ITEM": {"records": 100}}}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// a second save merges at the top level instead of overwriting
	w = do(t, router, http.MethodPost, target, `{"ndv_single_dict": {"ITEM": {}}}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/get_metadata?db_name=tpcc&files_server_ip_port=127_0_0_1_13308", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	doc := map[string]jsoniter.RawMessage{}
	require.NoError(t, jsoniter.Unmarshal(w.Body.Bytes(), &doc))
	require.Contains(t, doc, "stats_dict")
	require.Contains(t, doc, "ndv_single_dict")
}

func TestMetadataFilesRejectBadParams(t *testing.T) {
	router := setup(t)
	w := do(t, router, http.MethodPost, "/save_metadata?db_name=../etc&files_server_ip_port=x", "{}", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodGet, "/get_metadata?db_name=tpcc&files_server_ip_port=1_2", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestFunctionFragment(t *testing.T) {
	require.Equal(t, "records_in_range",
		functionFragment("virtual ha_rows ha_videx::records_in_range(uint, key_range*, key_range*)"))
	require.Equal(t, "scan_time", functionFragment("virtual double ha_videx::scan_time()"))
	require.Equal(t, "unknown", functionFragment("virtual double ha_videx::read_time(uint, uint, ha_rows)"))
}
