package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/conveyor/job"
	mw "github.com/xraph/conveyor/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func attrValue(set attribute.Set, key string) string {
	v, ok := set.Value(attribute.Key(key))
	if !ok {
		return ""
	}
	return v.AsString()
}

func TestMetrics_RecordsDuration(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), newTestJob(), func(context.Context) error { return nil })

	metric := findMetric(collectMetrics(t, reader), "conveyor.job.duration")
	if metric == nil {
		t.Fatal("conveyor.job.duration metric not found")
	}
	hist, ok := metric.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("unexpected histogram data: %#v", metric.Data)
	}
	if hist.DataPoints[0].Count != 1 {
		t.Errorf("count = %d, want 1", hist.DataPoints[0].Count)
	}
	dp := hist.DataPoints[0]
	if attrValue(dp.Attributes, "job_name") != "send-email" || attrValue(dp.Attributes, "queue") != "emails" {
		t.Errorf("attributes = %v", dp.Attributes.ToSlice())
	}
}

func TestMetrics_OutcomeAttribute(t *testing.T) {
	cases := map[string]error{
		mw.OutcomeOK:            nil,
		mw.OutcomeError:         errors.New("boom"),
		mw.OutcomeUnrecoverable: job.Unrecoverable(errors.New("bad input")),
		mw.OutcomeWaiting:       job.WaitingOnChildren(),
	}
	for want, handlerErr := range cases {
		reader, mp := setupTestMeter()
		m := mw.MetricsWithMeter(mp.Meter("test"))
		_ = m(context.Background(), newTestJob(), func(context.Context) error { return handlerErr })

		metric := findMetric(collectMetrics(t, reader), "conveyor.job.executions")
		if metric == nil {
			t.Fatal("conveyor.job.executions metric not found")
		}
		sum, ok := metric.Data.(metricdata.Sum[int64])
		if !ok || len(sum.DataPoints) != 1 {
			t.Fatalf("unexpected sum data: %#v", metric.Data)
		}
		if sum.DataPoints[0].Value != 1 {
			t.Errorf("value = %d, want 1", sum.DataPoints[0].Value)
		}
		if got := attrValue(sum.DataPoints[0].Attributes, "outcome"); got != want {
			t.Errorf("outcome = %q, want %q", got, want)
		}
	}
}

func TestMetrics_DefaultNoopSafe(t *testing.T) {
	called := false
	err := mw.Metrics()(context.Background(), newTestJob(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("err=%v called=%v", err, called)
	}
}
