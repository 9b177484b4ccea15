package metrics_test

import (
	"testing"

	"github.com/downfa11-org/chronos/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	_ = g.Write(m)
	return m.GetGauge().GetValue()
}

func getHistogramCount(h prometheus.Histogram) uint64 {
	m := &dto.Metric{}
	_ = h.Write(m)
	return m.GetHistogram().GetSampleCount()
}

func TestObserveBlockWrite(t *testing.T) {
	initialBytes := getCounterValue(metrics.BlockBytesWritten)
	initialLinks := getHistogramCount(metrics.BlockChainLinks)

	metrics.ObserveBlockWrite(100, 1, 4096)
	metrics.ObserveBlockWrite(300000, 3, 8192)

	if got := getCounterValue(metrics.BlockBytesWritten); got != initialBytes+300100 {
		t.Fatalf("BlockBytesWritten expected %v, got %v", initialBytes+300100, got)
	}
	if got := getHistogramCount(metrics.BlockChainLinks); got != initialLinks+2 {
		t.Fatalf("BlockChainLinks count expected %v, got %v", initialLinks+2, got)
	}
	if got := getGaugeValue(metrics.BlockFileSize); got != 8192 {
		t.Fatalf("BlockFileSize expected 8192, got %v", got)
	}
}

func TestObserveOffsetState(t *testing.T) {
	metrics.ObserveOffsetState(12, 40)

	if got := getGaugeValue(metrics.OffsetLiveRecords); got != 12 {
		t.Fatalf("OffsetLiveRecords expected 12, got %v", got)
	}
	if got := getGaugeValue(metrics.OffsetVersion); got != 40 {
		t.Fatalf("OffsetVersion expected 40, got %v", got)
	}
}

func TestCacheCounters(t *testing.T) {
	hits := getCounterValue(metrics.CacheRequests.WithLabelValues("hit"))
	misses := getCounterValue(metrics.CacheRequests.WithLabelValues("miss"))

	metrics.CacheHit()
	metrics.CacheHit()
	metrics.CacheMiss()

	if got := getCounterValue(metrics.CacheRequests.WithLabelValues("hit")); got != hits+2 {
		t.Fatalf("hit counter expected %v, got %v", hits+2, got)
	}
	if got := getCounterValue(metrics.CacheRequests.WithLabelValues("miss")); got != misses+1 {
		t.Fatalf("miss counter expected %v, got %v", misses+1, got)
	}
}
