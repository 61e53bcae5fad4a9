// Package observability provides Prometheus metrics for pixelset operations
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the metric groups for all pixelset components.
type Metrics struct {
	registry *prometheus.Registry

	Import   *ImportMetrics
	Fetch    *FetchMetrics
	Training *TrainingMetrics
}

// NewMetrics creates a registry with all pixelset metric groups registered.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	var err error
	if m.Import, err = NewImportMetrics(registry); err != nil {
		return nil, err
	}
	if m.Fetch, err = NewFetchMetrics(registry); err != nil {
		return nil, err
	}
	if m.Training, err = NewTrainingMetrics(registry); err != nil {
		return nil, err
	}

	return m, nil
}

// Handler returns an HTTP handler serving the registry in Prometheus format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ImportMetrics contains Prometheus metrics for dataset imports
type ImportMetrics struct {
	samplesImportedTotal *prometheus.CounterVec
	importErrorsTotal    *prometheus.CounterVec
	importDuration       prometheus.Histogram
}

// NewImportMetrics creates and registers import metrics
func NewImportMetrics(registry *prometheus.Registry) (*ImportMetrics, error) {
	m := &ImportMetrics{
		samplesImportedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelset_samples_imported_total",
				Help: "Total number of samples imported into datasets",
			},
			[]string{"dataset", "type"},
		),
		importErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelset_import_errors_total",
				Help: "Total number of dataset import errors",
			},
			[]string{"dataset"},
		),
		importDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pixelset_import_duration_seconds",
				Help:    "Time taken for a dataset import",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
	}

	for _, c := range []prometheus.Collector{m.samplesImportedTotal, m.importErrorsTotal, m.importDuration} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordSamplesImported adds to the imported sample counter.
func (m *ImportMetrics) RecordSamplesImported(dataset, datasetType string, n int) {
	m.samplesImportedTotal.WithLabelValues(dataset, datasetType).Add(float64(n))
}

// RecordImportError increments the import error counter.
func (m *ImportMetrics) RecordImportError(dataset string) {
	m.importErrorsTotal.WithLabelValues(dataset).Inc()
}

// RecordImportDuration observes an import duration in seconds.
func (m *ImportMetrics) RecordImportDuration(seconds float64) {
	m.importDuration.Observe(seconds)
}

// FetchMetrics contains Prometheus metrics for archive downloads
type FetchMetrics struct {
	downloadsTotal      *prometheus.CounterVec
	downloadBytes       prometheus.Counter
	extractedFilesTotal prometheus.Counter
}

// NewFetchMetrics creates and registers fetch metrics
func NewFetchMetrics(registry *prometheus.Registry) (*FetchMetrics, error) {
	m := &FetchMetrics{
		downloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelset_downloads_total",
				Help: "Total number of archive downloads",
			},
			[]string{"status"}, // status: success, error, skipped
		),
		downloadBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pixelset_download_bytes_total",
				Help: "Total bytes downloaded",
			},
		),
		extractedFilesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pixelset_extracted_files_total",
				Help: "Total files extracted from archives",
			},
		),
	}

	for _, c := range []prometheus.Collector{m.downloadsTotal, m.downloadBytes, m.extractedFilesTotal} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordDownload increments the download counter for the given status.
func (m *FetchMetrics) RecordDownload(status string) {
	m.downloadsTotal.WithLabelValues(status).Inc()
}

// RecordDownloadBytes adds to the downloaded byte counter.
func (m *FetchMetrics) RecordDownloadBytes(n int64) {
	m.downloadBytes.Add(float64(n))
}

// RecordExtractedFiles adds to the extracted file counter.
func (m *FetchMetrics) RecordExtractedFiles(n int) {
	m.extractedFilesTotal.Add(float64(n))
}

// TrainingMetrics contains Prometheus metrics for the fine-tuning pipeline
type TrainingMetrics struct {
	epochsTotal      prometheus.Counter
	trainLossGauge   prometheus.Gauge
	valLossGauge     prometheus.Gauge
	batchDuration    prometheus.Histogram
	predictionsTotal prometheus.Counter
}

// NewTrainingMetrics creates and registers training metrics
func NewTrainingMetrics(registry *prometheus.Registry) (*TrainingMetrics, error) {
	m := &TrainingMetrics{
		epochsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pixelset_training_epochs_total",
				Help: "Total number of completed training epochs",
			},
		),
		trainLossGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pixelset_training_loss",
				Help: "Most recent training loss",
			},
		),
		valLossGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pixelset_validation_loss",
				Help: "Most recent validation loss",
			},
		),
		batchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pixelset_training_batch_duration_seconds",
				Help:    "Time taken per training batch",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
		),
		predictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pixelset_predictions_total",
				Help: "Total number of samples predicted",
			},
		),
	}

	for _, c := range []prometheus.Collector{
		m.epochsTotal, m.trainLossGauge, m.valLossGauge, m.batchDuration, m.predictionsTotal,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordEpoch increments the completed epoch counter.
func (m *TrainingMetrics) RecordEpoch() {
	m.epochsTotal.Inc()
}

// SetTrainLoss records the most recent training loss.
func (m *TrainingMetrics) SetTrainLoss(loss float64) {
	m.trainLossGauge.Set(loss)
}

// SetValLoss records the most recent validation loss.
func (m *TrainingMetrics) SetValLoss(loss float64) {
	m.valLossGauge.Set(loss)
}

// RecordBatchDuration observes one batch duration in seconds.
func (m *TrainingMetrics) RecordBatchDuration(seconds float64) {
	m.batchDuration.Observe(seconds)
}

// RecordPredictions adds to the prediction counter.
func (m *TrainingMetrics) RecordPredictions(n int) {
	m.predictionsTotal.Add(float64(n))
}
