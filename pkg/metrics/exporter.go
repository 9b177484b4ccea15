package metrics

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/downfa11-org/chronos/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	prometheus.MustRegister(BlockBytesWritten, BlockChainLinks, BlockFileSize)
	prometheus.MustRegister(TagIndexExpansions, TagIndexCapacity)
	prometheus.MustRegister(OffsetLiveRecords, OffsetVersion, CacheRequests)
	prometheus.MustRegister(WALAppends, WALCommits)
}

// StartMetricsServer serves /metrics on port in the background and returns the server for shutdown.
func StartMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		util.Info("prometheus exporter listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Error("metrics server failed: %v", err)
		}
	}()
	return srv
}

// ObserveBlockWrite records one stored blob.
func ObserveBlockWrite(payloadBytes, links int, fileSize int64) {
	BlockBytesWritten.Add(float64(payloadBytes))
	BlockChainLinks.Observe(float64(links))
	BlockFileSize.Set(float64(fileSize))
}

// ObserveOffsetState publishes the offset index counters.
func ObserveOffsetState(live int, version uint32) {
	OffsetLiveRecords.Set(float64(live))
	OffsetVersion.Set(float64(version))
}

func CacheHit()  { CacheRequests.WithLabelValues("hit").Inc() }
func CacheMiss() { CacheRequests.WithLabelValues("miss").Inc() }
