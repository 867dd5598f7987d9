// Package registry keeps the task metadata loaded into the server: every
// /create_task_meta payload lands here, every /ask_videx request resolves
// its task through here. Reads vastly outnumber writes, so the task map is
// replaced wholesale under a write lock and read lock-free copies are
// handed out.
package registry

import (
	"flag"
	"io"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/videx-project/videx/pkg/meta"
	"github.com/videx-project/videx/pkg/stats"
	"github.com/videx-project/videx/pkg/util/log"
)

var (
	metricTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "videx",
		Name:      "registry_tasks",
		Help:      "Number of task metadata bundles currently loaded.",
	})
	metricTaskLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "videx",
		Name:      "registry_task_loads_total",
		Help:      "Total task metadata loads by outcome.",
	}, []string{"status"})
	metricTaskLoadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "videx",
		Name:      "registry_task_load_bytes_total",
		Help:      "Total decoded task metadata bytes.",
	})
)

// Config limits what the registry accepts.
type Config struct {
	// MaxPayloadBytes caps a decoded /create_task_meta payload.
	MaxPayloadBytes int64 `yaml:"max_payload_bytes"`
}

// RegisterFlagsAndApplyDefaults registers the registry flags.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.Int64Var(&cfg.MaxPayloadBytes, prefix+"max-payload-bytes", 1<<30, "max decoded bytes of one task metadata payload")
}

// Registry holds the loaded tasks.
type Registry struct {
	cfg Config

	mtx   sync.RWMutex
	tasks map[string]*stats.TaskMeta
}

// New builds an empty registry.
func New(cfg Config) *Registry {
	return &Registry{
		cfg:   cfg,
		tasks: map[string]*stats.TaskMeta{},
	}
}

// DecodeRaw reads one task metadata payload, transparently inflating gzip,
// and enforces the configured size cap on the decoded bytes.
func (r *Registry) DecodeRaw(body io.Reader, gzipped bool) (*stats.RawTaskMeta, error) {
	if gzipped {
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip payload")
		}
		defer zr.Close()
		body = zr
	}

	// one extra byte so an exactly-at-cap payload is told apart from an
	// oversized one
	buf, err := io.ReadAll(io.LimitReader(body, r.cfg.MaxPayloadBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "read task metadata payload")
	}
	if int64(len(buf)) > r.cfg.MaxPayloadBytes {
		return nil, errors.Wrapf(meta.ErrValidation, "task metadata payload exceeds %s",
			humanize.IBytes(uint64(r.cfg.MaxPayloadBytes)))
	}
	metricTaskLoadBytes.Add(float64(len(buf)))

	raw := &stats.RawTaskMeta{}
	if err := jsoniter.Unmarshal(buf, raw); err != nil {
		return nil, errors.Wrap(meta.ErrValidation, err.Error())
	}
	return raw, nil
}

// AddTaskMeta constructs and publishes a task. An existing task with the
// same id is replaced.
func (r *Registry) AddTaskMeta(raw *stats.RawTaskMeta) (*stats.TaskMeta, error) {
	tm, err := stats.Construct(raw)
	if err != nil {
		metricTaskLoads.WithLabelValues("failed").Inc()
		return nil, err
	}

	r.mtx.Lock()
	next := make(map[string]*stats.TaskMeta, len(r.tasks)+1)
	for k, v := range r.tasks {
		next[k] = v
	}
	next[tm.TaskID] = tm
	r.tasks = next
	r.mtx.Unlock()

	metricTasks.Set(float64(len(next)))
	metricTaskLoads.WithLabelValues("ok").Inc()
	level.Info(log.Logger).Log("msg", "task metadata loaded",
		"task_id", tm.TaskID, "videx_db", tm.VidexDB, "tables", len(tm.Tables))
	return tm, nil
}

// Lookup resolves a task id. An empty id matches when exactly one task is
// loaded, so single-task deployments need not thread ids through every
// request.
func (r *Registry) Lookup(taskID string) (*stats.TaskMeta, bool) {
	r.mtx.RLock()
	tasks := r.tasks
	r.mtx.RUnlock()

	if taskID == "" {
		if len(tasks) == 1 {
			for _, tm := range tasks {
				return tm, true
			}
		}
		return nil, false
	}
	tm, ok := tasks[taskID]
	return tm, ok
}

// Drop removes a task. Dropping an unknown id is a no-op.
func (r *Registry) Drop(taskID string) {
	r.mtx.Lock()
	next := make(map[string]*stats.TaskMeta, len(r.tasks))
	for k, v := range r.tasks {
		if k != taskID {
			next[k] = v
		}
	}
	r.tasks = next
	r.mtx.Unlock()

	metricTasks.Set(float64(len(next)))
}

// TasksSnapshot lists the loaded tasks for the stats endpoint.
func (r *Registry) TasksSnapshot() map[string]*stats.TaskMeta {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.tasks
}
