package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var metric dto.Metric
	if err := g.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Gauge.GetValue()
}

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}
	if m.Registry() == nil {
		t.Error("Registry() returned nil")
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if len(f.GetName()) < len("travelcrm_") || f.GetName()[:10] != "travelcrm_" {
			t.Errorf("metric %q lacks travelcrm_ prefix", f.GetName())
		}
	}
}

func TestGlobalMetrics(t *testing.T) {
	if Global() != nil {
		t.Error("Global() should be nil before SetGlobal")
	}

	m := New()
	SetGlobal(m)
	if Global() != m {
		t.Error("Global() did not return the set metrics")
	}
	SetGlobal(nil)
}

func TestCampaignCounters(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncCampaignsSent()
	IncClaimsRejected()
	IncClaimsRejected()
	IncRecipients("sent")
	IncRecipients("sent")
	IncRecipients("failed")
	IncTemplateRenders("ok")
	IncTemplateRenders("error")
	IncRateLimited("recipient_domain")
	ObserveDispatch(1.5, 40)

	if got := counterValue(t, m.CampaignsSentTotal); got != 1 {
		t.Errorf("CampaignsSentTotal = %v, want 1", got)
	}
	if got := counterValue(t, m.CampaignClaimsRejected); got != 2 {
		t.Errorf("CampaignClaimsRejected = %v, want 2", got)
	}
	if got := counterValue(t, m.RecipientsTotal.WithLabelValues("sent")); got != 2 {
		t.Errorf("RecipientsTotal{sent} = %v, want 2", got)
	}
	if got := counterValue(t, m.RecipientsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("RecipientsTotal{failed} = %v, want 1", got)
	}
	if got := counterValue(t, m.TemplateRendersTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("TemplateRendersTotal{error} = %v, want 1", got)
	}
	if got := counterValue(t, m.RateLimitedTotal.WithLabelValues("recipient_domain")); got != 1 {
		t.Errorf("RateLimitedTotal{recipient_domain} = %v, want 1", got)
	}

	var metric dto.Metric
	if err := m.CampaignDispatchSeconds.Write(&metric); err != nil {
		t.Fatal(err)
	}
	if metric.Histogram.GetSampleCount() != 1 || metric.Histogram.GetSampleSum() != 1.5 {
		t.Errorf("dispatch histogram = %v samples, sum %v", metric.Histogram.GetSampleCount(), metric.Histogram.GetSampleSum())
	}
}

func TestGlobalNilSafe(t *testing.T) {
	SetGlobal(nil)

	IncCampaignsSent()
	IncClaimsRejected()
	IncRecipients("sent")
	IncTemplateRenders("ok")
	ObserveDispatch(1, 1)
	IncAPIErrors("server_error")
}
