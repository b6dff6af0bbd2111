package marketdata

import (
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rxtech-lab/oanda-candles/pkg/errors"
	"github.com/rxtech-lab/oanda-candles/pkg/marketdata/provider"
)

const metricsNamespace = "oanda_candles"

var batchLabels = []string{"instrument", "outcome", "paginated"}

// Metrics collects download metrics in a private registry so they can be dumped
// in the Prometheus text format after a run.
type Metrics struct {
	registry      *prometheus.Registry
	batchCount    *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	candleCount   *prometheus.CounterVec
}

// NewMetrics creates and registers the download metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		batchCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batches_total",
			Help:      "Number of candle batches requested.",
		}, batchLabels),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of candle batch requests including retries.",
			Buckets:   prometheus.DefBuckets,
		}, batchLabels),
		candleCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "candles_total",
			Help:      "Number of candles received.",
		}, batchLabels),
	}

	m.registry.MustRegister(m.batchCount, m.batchDuration, m.candleCount)

	return m
}

// Instrument wraps p so its batches are recorded.
func (m *Metrics) Instrument(p provider.Provider) provider.Provider {
	return provider.NewInstrumentingProvider(
		kitprometheus.NewCounter(m.batchCount),
		kitprometheus.NewHistogram(m.batchDuration),
		kitprometheus.NewCounter(m.candleCount),
		p,
	)
}

// WriteToFile writes the collected metrics in the Prometheus text format,
// e.g. for the node_exporter textfile collector.
func (m *Metrics) WriteToFile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Wrapf(errors.ErrCodeWriteFailed, err, "cannot write metrics to %s", path)
	}

	return nil
}
