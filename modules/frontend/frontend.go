// Package frontend is the HTTP surface of the server: task metadata ingest,
// the /ask_videx dispatcher the storage-engine plugin talks to, and the
// metadata file exchange.
package frontend

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/videx-project/videx/modules/registry"
	"github.com/videx-project/videx/pkg/api"
	"github.com/videx-project/videx/pkg/meta"
	"github.com/videx-project/videx/pkg/util/log"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "videx",
		Name:      "frontend_requests_total",
		Help:      "Total /ask_videx requests by function and outcome.",
	}, []string{"function", "status"})
	metricRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "videx",
		Name:      "frontend_request_duration_seconds",
		Help:      "Time spent answering /ask_videx requests.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	}, []string{"function"})
)

// Config holds the frontend settings.
type Config struct {
	// MaxRequestBodyBytes caps an /ask_videx or metadata request body.
	MaxRequestBodyBytes int64 `yaml:"max_request_body_bytes"`
	// MetaDir is where metadata files are exchanged.
	MetaDir string `yaml:"meta_dir"`
}

// RegisterFlagsAndApplyDefaults registers the frontend flags.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.Int64Var(&cfg.MaxRequestBodyBytes, prefix+"max-request-body-bytes", 64<<20, "max bytes of one request body")
	f.StringVar(&cfg.MetaDir, prefix+"meta-dir", "videx_metadata", "directory for exchanged metadata files")
}

// Frontend wires the HTTP handlers to the task registry.
type Frontend struct {
	cfg      Config
	registry *registry.Registry
}

// New builds a frontend over a registry.
func New(cfg Config, reg *registry.Registry) *Frontend {
	return &Frontend{cfg: cfg, registry: reg}
}

// RegisterRoutes attaches the handlers to a router.
func (f *Frontend) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ask_videx", f.AskVidexHandler).Methods(http.MethodPost)
	router.HandleFunc("/create_task_meta", f.CreateTaskMetaHandler).Methods(http.MethodPost)
	router.HandleFunc("/videx/visualization/get_stats", f.GetStatsHandler).Methods(http.MethodGet)
	router.HandleFunc("/save_metadata", f.SaveMetadataHandler).Methods(http.MethodPost)
	router.HandleFunc("/get_metadata", f.GetMetadataHandler).Methods(http.MethodGet)
}

// CreateTaskMetaHandler ingests one task metadata payload, optionally
// gzip-encoded.
func (f *Frontend) CreateTaskMetaHandler(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, f.cfg.MaxRequestBodyBytes)
	defer body.Close()

	gzipped := strings.Contains(r.Header.Get("Content-Encoding"), "gzip")
	raw, err := f.registry.DecodeRaw(body, gzipped)
	if err != nil {
		f.handleError(w, r, err)
		return
	}
	if _, err := f.registry.AddTaskMeta(raw); err != nil {
		f.handleError(w, r, err)
		return
	}
	writeResponse(w, api.OK(map[string]string{}))
}

// AskVidexHandler answers one optimizer question.
func (f *Frontend) AskVidexHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body := http.MaxBytesReader(w, r.Body, f.cfg.MaxRequestBodyBytes)
	defer body.Close()

	req := &api.Item{}
	if err := jsoniter.NewDecoder(body).Decode(req); err != nil {
		metricRequests.WithLabelValues("unknown", "bad_request").Inc()
		f.handleError(w, r, errors.Wrap(meta.ErrValidation, err.Error()))
		return
	}

	fn := functionFragment(req.Prop(api.PropFunction))
	resp, err := f.dispatch(r.Context(), req, fn)
	if err != nil {
		metricRequests.WithLabelValues(fn, "error").Inc()
		f.handleError(w, r, err)
		return
	}

	metricRequests.WithLabelValues(fn, "ok").Inc()
	metricRequestDuration.WithLabelValues(fn).Observe(time.Since(start).Seconds())
	writeResponse(w, resp)
}

// GetStatsHandler dumps a summary of the loaded tasks for debugging.
func (f *Frontend) GetStatsHandler(w http.ResponseWriter, r *http.Request) {
	type tableSummary struct {
		Records    int64 `json:"records"`
		Histograms int   `json:"histograms"`
		NdvsSingle int   `json:"ndvs_single"`
		HasSchema  bool  `json:"has_schema"`
	}
	type taskSummary struct {
		VidexDB string                  `json:"videx_db"`
		Tables  map[string]tableSummary `json:"tables"`
	}

	out := map[string]taskSummary{}
	for id, tm := range f.registry.TasksSnapshot() {
		ts := taskSummary{VidexDB: tm.VidexDB, Tables: map[string]tableSummary{}}
		for name, t := range tm.Tables {
			ts.Tables[name] = tableSummary{
				Records:    t.Records,
				Histograms: len(t.ColHists),
				NdvsSingle: len(t.NdvsSingle),
				HasSchema:  t.Schema != nil,
			}
		}
		out[id] = ts
	}

	w.Header().Set(api.HeaderContentType, api.HeaderAcceptJSON)
	if err := jsoniter.NewEncoder(w).Encode(out); err != nil {
		level.Error(log.Logger).Log("msg", "failed to write stats snapshot", "err", err)
	}
}

// statusClientClosedRequest is the nginx convention for a client that went
// away before the response was written.
const statusClientClosedRequest = 499

func (f *Frontend) handleError(w http.ResponseWriter, r *http.Request, err error) {
	ctxErr := r.Context().Err()
	if errors.Is(err, context.DeadlineExceeded) || ctxErr == context.DeadlineExceeded {
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
		return
	}
	if errors.Is(err, context.Canceled) || ctxErr == context.Canceled {
		http.Error(w, err.Error(), statusClientClosedRequest)
		return
	}
	if errors.Is(err, meta.ErrValidation) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	errID := uuid.New().String()
	level.Error(log.Logger).Log("msg", "request failed", "path", r.URL.Path, "error_id", errID, "err", err)
	http.Error(w, fmt.Sprintf("internal error, id %s", errID), http.StatusInternalServerError)
}

func writeResponse(w http.ResponseWriter, resp *api.Response) {
	w.Header().Set(api.HeaderContentType, api.HeaderAcceptJSON)
	if err := jsoniter.NewEncoder(w).Encode(resp); err != nil {
		level.Error(log.Logger).Log("msg", "failed to write response", "err", err)
	}
}
