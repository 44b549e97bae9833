package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics tracks sync run outcomes and certificate health for alerting.
type SyncMetrics struct {
	runs              *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	documentsSaved    *prometheus.CounterVec
	itemsSkipped      *prometheus.CounterVec
	cursorPosition    *prometheus.GaugeVec
	certificateExpiry *prometheus.GaugeVec
	exportJobs        *prometheus.CounterVec
}

// Reasons an item is passed over by the cursor without being stored.
const (
	SkipUndecodable = "undecodable"
	SkipOrphanEvent = "orphan_event"
)

var (
	syncMetricsOnce sync.Once
	syncMetrics     *SyncMetrics
)

func Sync() *SyncMetrics {
	return SyncWithConfig(Config{})
}

func SyncWithConfig(cfg Config) *SyncMetrics {
	syncMetricsOnce.Do(func() {
		syncMetrics = newSyncMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return syncMetrics
}

func ResetSyncMetricsForTest() {
	syncMetricsOnce = sync.Once{}
	syncMetrics = nil
}

func newSyncMetrics(registerer prometheus.Registerer, cfg Config) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := constLabels(cfg)

	m := &SyncMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fiscalsync_sync_runs_total",
			Help:        "Sync runs by scope and terminal status.",
			ConstLabels: labels,
		}, []string{"scope", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "fiscalsync_sync_run_duration_seconds",
			Help:        "Wall time of a sync run.",
			Buckets:     []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: labels,
		}, []string{"scope"}),
		documentsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fiscalsync_sync_documents_saved_total",
			Help:        "New documents saved by sync runs.",
			ConstLabels: labels,
		}, []string{"scope"}),
		itemsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fiscalsync_sync_items_skipped_total",
			Help:        "Items a sync run moved past without storing, by reason.",
			ConstLabels: labels,
		}, []string{"scope", "reason"}),
		cursorPosition: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "fiscalsync_sync_cursor_position",
			Help:        "Last completed NSU cursor per scope.",
			ConstLabels: labels,
		}, []string{"scope"}),
		certificateExpiry: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "fiscalsync_certificates_expiring",
			Help:        "Active certificates inside the expiry warning window, by class.",
			ConstLabels: labels,
		}, []string{"class"}),
		exportJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fiscalsync_export_jobs_total",
			Help:        "Export jobs by terminal status.",
			ConstLabels: labels,
		}, []string{"status"}),
	}

	registerer.MustRegister(
		m.runs,
		m.runDuration,
		m.documentsSaved,
		m.itemsSkipped,
		m.cursorPosition,
		m.certificateExpiry,
		m.exportJobs,
	)
	return m
}

// ObserveRun records a finished sync run.
func (m *SyncMetrics) ObserveRun(scope, status string, duration time.Duration, saved int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(scope, status).Inc()
	m.runDuration.WithLabelValues(scope).Observe(duration.Seconds())
	if saved > 0 {
		m.documentsSaved.WithLabelValues(scope).Add(float64(saved))
	}
}

func (m *SyncMetrics) AddSkipped(scope, reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.itemsSkipped.WithLabelValues(scope, reason).Add(float64(n))
}

// SetCursor is only meaningful on single-tenant deployments; scope is the category list.
func (m *SyncMetrics) SetCursor(scope string, cursor int64) {
	if m == nil {
		return
	}
	m.cursorPosition.WithLabelValues(scope).Set(float64(cursor))
}

func (m *SyncMetrics) SetCertificatesExpiring(class string, count int) {
	if m == nil {
		return
	}
	m.certificateExpiry.WithLabelValues(class).Set(float64(count))
}

func (m *SyncMetrics) IncExportJob(status string) {
	if m == nil {
		return
	}
	m.exportJobs.WithLabelValues(status).Inc()
}
