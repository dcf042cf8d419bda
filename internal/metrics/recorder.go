package metrics

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jackzampolin/underwrite/internal/defra"
	"github.com/jackzampolin/underwrite/internal/schema"
)

// latencyWindow bounds the samples kept per stage for percentiles.
const latencyWindow = 1024

// Recorder aggregates stage runs in memory and, when a sink is configured,
// persists each run as a StageMetric row. A nil *Recorder discards.
type Recorder struct {
	sink   *defra.Sink
	logger *slog.Logger

	mu      sync.Mutex
	byStage map[string]*stageAgg
	order   []string
}

type stageAgg struct {
	stats     StageStats
	latencies []float64 // ring of seconds
	next      int
}

// NewRecorder creates a recorder. sink may be nil.
func NewRecorder(sink *defra.Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		sink:    sink,
		logger:  logger,
		byStage: make(map[string]*stageAgg),
	}
}

// Record adds one stage run. It never blocks on storage.
func (r *Recorder) Record(m Metric) {
	if r == nil {
		return
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	r.mu.Lock()
	agg, ok := r.byStage[m.Stage]
	if !ok {
		agg = &stageAgg{stats: StageStats{Stage: m.Stage}}
		r.byStage[m.Stage] = agg
		r.order = append(r.order, m.Stage)
	}
	agg.add(m)
	r.mu.Unlock()

	if r.sink != nil {
		if err := r.sink.Send(defra.WriteOp{Collection: schema.StageMetric, Document: m.ToMap()}); err != nil {
			r.logger.Debug("metric not persisted", "stage", m.Stage, "error", err)
		}
	}
}

func (a *stageAgg) add(m Metric) {
	s := &a.stats
	s.Count++
	switch m.Outcome {
	case OutcomeCompleted:
		s.Completed++
	case OutcomeRecoverable:
		s.Recoverable++
	default:
		s.NonRecoverable++
	}
	s.PromptTokens += m.PromptTokens
	s.CompletionTokens += m.CompletionTokens
	s.TotalCostUSD += m.CostUSD

	secs := m.Duration.Seconds()
	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, secs)
	} else {
		a.latencies[a.next] = secs
		a.next = (a.next + 1) % latencyWindow
	}
}

// StageStats summarizes the runs of one stage.
type StageStats struct {
	Stage          string `json:"stage"`
	Count          int    `json:"count"`
	Completed      int    `json:"completed"`
	Recoverable    int    `json:"recoverable"`
	NonRecoverable int    `json:"non_recoverable"`

	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalCostUSD     float64 `json:"total_cost_usd"`

	// Latency over the most recent runs, in seconds.
	LatencyAvg float64 `json:"latency_avg"`
	LatencyP50 float64 `json:"latency_p50"`
	LatencyP95 float64 `json:"latency_p95"`
	LatencyMax float64 `json:"latency_max"`
}

// Summary returns per-stage stats in first-seen order.
func (r *Recorder) Summary() []StageStats {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]StageStats, 0, len(r.order))
	for _, name := range r.order {
		agg := r.byStage[name]
		s := agg.stats

		if len(agg.latencies) > 0 {
			sorted := append([]float64(nil), agg.latencies...)
			sort.Float64s(sorted)
			var sum float64
			for _, l := range sorted {
				sum += l
			}
			s.LatencyAvg = sum / float64(len(sorted))
			s.LatencyP50 = percentile(sorted, 50)
			s.LatencyP95 = percentile(sorted, 95)
			s.LatencyMax = sorted[len(sorted)-1]
		}
		out = append(out, s)
	}
	return out
}

// percentile interpolates the p-th percentile of sorted values.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}

	idx := (p / 100.0) * float64(len(sorted)-1)
	lower := int(idx)
	if lower+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	weight := idx - float64(lower)
	return sorted[lower]*(1-weight) + sorted[lower+1]*weight
}
