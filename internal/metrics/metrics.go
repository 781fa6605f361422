package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for the CRM
type Metrics struct {
	// Campaign counters
	CampaignsSentTotal        prometheus.Counter
	CampaignClaimsRejected    prometheus.Counter
	RecipientsTotal           *prometheus.CounterVec
	TemplateRendersTotal      *prometheus.CounterVec
	RateLimitedTotal          *prometheus.CounterVec
	CampaignDispatchSeconds   prometheus.Histogram
	CampaignRecipientsPerSend prometheus.Histogram

	// CRM gauges
	Contacts  prometheus.Gauge
	Campaigns *prometheus.GaugeVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		CampaignsSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "travelcrm_campaigns_sent_total",
				Help: "Total number of campaigns dispatched to completion",
			},
		),
		CampaignClaimsRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "travelcrm_campaign_claims_rejected_total",
				Help: "Total number of send requests rejected because the campaign was already sending",
			},
		),
		RecipientsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "travelcrm_campaign_recipients_total",
				Help: "Total number of campaign recipients by delivery outcome",
			},
			[]string{"status"},
		),
		TemplateRendersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "travelcrm_template_renders_total",
				Help: "Total number of template renders by result",
			},
			[]string{"result"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "travelcrm_rate_limited_total",
				Help: "Total number of sends delayed by a rate limit, by limit level",
			},
			[]string{"level"},
		),
		CampaignDispatchSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "travelcrm_campaign_dispatch_seconds",
				Help:    "Time to dispatch a whole campaign",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 300, 900},
			},
		),
		CampaignRecipientsPerSend: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "travelcrm_campaign_recipients_per_send",
				Help:    "Number of recipients resolved for each campaign send",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),

		Contacts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "travelcrm_contacts",
				Help: "Number of contacts",
			},
		),
		Campaigns: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "travelcrm_campaigns",
				Help: "Number of campaigns by status",
			},
			[]string{"status"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "travelcrm_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "travelcrm_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "travelcrm_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "travelcrm_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "travelcrm_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "travelcrm_storage_used_bytes",
				Help: "SQLite database file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.CampaignsSentTotal,
		m.CampaignClaimsRejected,
		m.RecipientsTotal,
		m.TemplateRendersTotal,
		m.RateLimitedTotal,
		m.CampaignDispatchSeconds,
		m.CampaignRecipientsPerSend,
		m.Contacts,
		m.Campaigns,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncCampaignsSent increments the completed campaign counter
func IncCampaignsSent() {
	m := Global()
	if m != nil {
		m.CampaignsSentTotal.Inc()
	}
}

// IncClaimsRejected increments the rejected send counter
func IncClaimsRejected() {
	m := Global()
	if m != nil {
		m.CampaignClaimsRejected.Inc()
	}
}

// IncRecipients increments the recipient counter for a delivery status
func IncRecipients(status string) {
	m := Global()
	if m != nil {
		m.RecipientsTotal.WithLabelValues(status).Inc()
	}
}

// IncTemplateRenders increments the render counter for "ok" or "error"
func IncTemplateRenders(result string) {
	m := Global()
	if m != nil {
		m.TemplateRendersTotal.WithLabelValues(result).Inc()
	}
}

// IncRateLimited increments the rate limited counter for a limit level
func IncRateLimited(level string) {
	m := Global()
	if m != nil {
		m.RateLimitedTotal.WithLabelValues(level).Inc()
	}
}

// ObserveDispatch records the duration and size of a campaign dispatch
func ObserveDispatch(seconds float64, recipients int) {
	m := Global()
	if m != nil {
		m.CampaignDispatchSeconds.Observe(seconds)
		m.CampaignRecipientsPerSend.Observe(float64(recipients))
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
