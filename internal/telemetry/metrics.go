package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — счётчики и датчики оркестрации.
// Создаётся один раз в main и передаётся компонентам явно.
type Metrics struct {
	TasksPublished  *prometheus.CounterVec
	ResultsConsumed *prometheus.CounterVec
	Retries         *prometheus.CounterVec
	DLQRejects      *prometheus.CounterVec
	Timeouts        *prometheus.CounterVec
	NodesByState    *prometheus.GaugeVec
	StageDuration   *prometheus.HistogramVec
}

// NewMetrics регистрирует метрики в reg.
// reg == nil — используется реестр по умолчанию.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TasksPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fabrica_tasks_published_total",
			Help: "Published task envelopes by entity type.",
		}, []string{"entity"}),

		ResultsConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fabrica_results_consumed_total",
			Help: "Applied result envelopes by status.",
		}, []string{"status"}),

		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fabrica_stage_retries_total",
			Help: "Stage retries by stage.",
		}, []string{"stage"}),

		DLQRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fabrica_dlq_rejects_total",
			Help: "Messages rejected to the dead letter queue by reason.",
		}, []string{"reason"}),

		Timeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fabrica_stage_timeouts_total",
			Help: "Synthesized stage timeouts by stage.",
		}, []string{"stage"}),

		NodesByState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fabrica_nodes",
			Help: "DAG nodes by lifecycle state.",
		}, []string{"state"}),

		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fabrica_stage_duration_seconds",
			Help:    "Wall-clock duration of completed stages.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 11),
		}, []string{"stage"}),
	}
}
