package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	BlockBytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chronos_store_block_bytes_written_total",
		Help: "Total payload bytes appended to block files",
	})

	BlockChainLinks = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chronos_store_block_chain_links",
		Help:    "Number of chained entries per stored blob",
		Buckets: []float64{1, 2, 3, 5, 8, 16, 64},
	})

	BlockFileSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chronos_store_block_file_bytes",
		Help: "Current size of the block file in bytes",
	})

	TagIndexExpansions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chronos_store_tag_index_expansions_total",
		Help: "Total number of tag index rehash-and-expand runs",
	})

	TagIndexCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chronos_store_tag_index_capacity_buckets",
		Help: "Current tag index capacity in buckets",
	})

	OffsetLiveRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chronos_store_offset_live_records",
		Help: "Number of offset index slots in normal status",
	})

	OffsetVersion = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chronos_store_offset_version",
		Help: "Offset index version counter",
	})

	WALAppends = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chronos_store_wal_appended_records_total",
		Help: "Total record ids appended to the write-ahead log",
	})

	WALCommits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chronos_store_wal_commits_total",
		Help: "Total write-ahead log commits that forced data to disk",
	})

	CacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronos_store_offset_cache_requests_total",
			Help: "Offset cache lookups by result",
		},
		[]string{"result"}, // hit, miss
	)
)
