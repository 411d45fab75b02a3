// Package metrics exposes Prometheus instrumentation for the HTTP surface
// and the generation pipeline.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Pipeline stages instrumented per generation request.
const (
	StageDecode      = "decode"
	StagePreprocess  = "preprocess"
	StageInference   = "inference"
	StagePostprocess = "postprocess"
	StageEncode      = "encode"
)

// Collector bundles every metric the server reports. It implements
// prometheus.Collector so it can be registered on a private registry.
type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	StageDuration   *prometheus.HistogramVec
	GenerateErrors  *prometheus.CounterVec
	RateLimited     prometheus.Counter
	ModelLoaded     prometheus.Gauge
}

// NewCollector creates the full metric set, unregistered.
func NewCollector() *Collector {
	return &Collector{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "HTTP requests handled, by route and status code.",
		}, []string{"route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "End-to-end request latency, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "generate_stage_duration_seconds",
			Help:    "Latency of each generation pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		GenerateErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "generate_errors_total",
			Help: "Generation failures, by pipeline stage.",
		}, []string{"stage"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
		ModelLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "model_loaded",
			Help: "1 when the ONNX session is initialized.",
		}),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.RequestsTotal.Describe(ch)
	c.RequestDuration.Describe(ch)
	c.StageDuration.Describe(ch)
	c.GenerateErrors.Describe(ch)
	c.RateLimited.Describe(ch)
	c.ModelLoaded.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.RequestsTotal.Collect(ch)
	c.RequestDuration.Collect(ch)
	c.StageDuration.Collect(ch)
	c.GenerateErrors.Collect(ch)
	c.RateLimited.Collect(ch)
	c.ModelLoaded.Collect(ch)
}
