package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	job := "notification_retention"
	m.ObserveDuration(job, 250*time.Millisecond)
	m.IncSuccess(job)
	m.IncFailure(job)
	m.AddAffected(job, 12)
	m.AddAffected(job, 0)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	assertCounter(t, mfs, "lostfound_cron_job_success_total", "job", job, 1)
	assertCounter(t, mfs, "lostfound_cron_job_failure_total", "job", job, 1)
	assertCounter(t, mfs, "lostfound_cron_rows_affected_total", "job", job, 12)

	sum, err := fetchHistogramSum(mfs, "lostfound_cron_job_duration_seconds", "job", job)
	require.NoError(t, err)
	assert.Greater(t, sum, 0.0)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var cron *CronJobMetrics
	cron.IncSuccess("x")
	var outbox *OutboxMetrics
	outbox.IncPublished("items")
	var rt *RealtimeMetrics
	rt.SubscriptionAdded("messages")
	NewRealtimeMetrics(nil).ConnectionOpened()
}

func assertCounter(t *testing.T, mfs []*dto.MetricFamily, name, label, value string, want float64) {
	t.Helper()
	got, err := fetchValue(mfs, name, label, value)
	require.NoError(t, err)
	assert.Equal(t, want, got, name)
}

func fetchValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			if metric.GetCounter() != nil {
				return metric.GetCounter().GetValue(), nil
			}
			return metric.GetGauge().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
