package bench

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/downfa11-org/chronos/pkg/metastore"
)

type BenchmarkRunner struct {
	Store            *metastore.Store
	NumWriters       int
	NumReaders       int
	RecordsPerWriter int
	PayloadSize      int
	TagsPerRecord    int
}

type Result struct {
	Records       int
	WriteDuration time.Duration
	ReadDuration  time.Duration
	SlowestWrite  time.Duration
}

func NewBenchmarkRunner(s *metastore.Store, writers, readers, records, payloadSize, tags int) *BenchmarkRunner {
	return &BenchmarkRunner{
		Store:            s,
		NumWriters:       writers,
		NumReaders:       readers,
		RecordsPerWriter: records,
		PayloadSize:      payloadSize,
		TagsPerRecord:    tags,
	}
}

func (b *BenchmarkRunner) clients() []*BenchClient {
	clients := make([]*BenchClient, b.NumWriters)
	for i := range clients {
		tags := make([]string, 0, b.TagsPerRecord)
		for j := 0; j < b.TagsPerRecord; j++ {
			tags = append(tags, fmt.Sprintf("w%d-t%d", i, j))
		}
		clients[i] = &BenchClient{
			Store:       b.Store,
			FirstID:     uint32(i*b.RecordsPerWriter) + 1,
			NumRecords:  b.RecordsPerWriter,
			PayloadSize: max(b.PayloadSize, 16),
			Tags:        tags,
		}
	}
	return clients
}

// Run writes every record, then reads them back with NumReaders goroutines.
func (b *BenchmarkRunner) Run() (Result, error) {
	clients := b.clients()
	res := Result{Records: b.NumWriters * b.RecordsPerWriter}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	start := time.Now()
	for i, c := range clients {
		wg.Add(1)
		go func(wid int, c *BenchClient) {
			defer wg.Done()
			slowest, err := c.RunWrites()
			if err != nil {
				fail(fmt.Errorf("writer %d: %w", wid, err))
			}
			mu.Lock()
			res.SlowestWrite = max(res.SlowestWrite, slowest)
			mu.Unlock()
		}(i, c)
	}
	wg.Wait()
	res.WriteDuration = time.Since(start)
	if len(errs) > 0 {
		return res, errors.Join(errs...)
	}

	start = time.Now()
	readers := max(b.NumReaders, 1)
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func(rid int) {
			defer wg.Done()
			for i := rid; i < len(clients); i += readers {
				if err := clients[i].RunReads(); err != nil {
					fail(fmt.Errorf("reader %d: %w", rid, err))
				}
			}
		}(r)
	}
	wg.Wait()
	res.ReadDuration = time.Since(start)
	return res, errors.Join(errs...)
}

func (b *BenchmarkRunner) Print(res Result) {
	fmt.Printf("\n🧪 BENCHMARK RESULT [metastore] 🧪\n")
	fmt.Printf("-------------------------------------\n")
	fmt.Printf(" Writers       : %d\n", b.NumWriters)
	fmt.Printf(" Readers       : %d\n", b.NumReaders)
	fmt.Printf(" Total Records : %d\n", res.Records)
	fmt.Printf(" Payload Size  : %d bytes\n", b.PayloadSize)
	fmt.Printf(" Write Duration: %v\n", res.WriteDuration)
	fmt.Printf(" Write Rate    : %.2f rec/sec\n", rate(res.Records, res.WriteDuration))
	fmt.Printf(" Slowest Write : %v\n", res.SlowestWrite)
	fmt.Printf(" Read Duration : %v\n", res.ReadDuration)
	fmt.Printf(" Read Rate     : %.2f rec/sec\n", rate(res.Records, res.ReadDuration))
	fmt.Printf("-------------------------------------\n")
}

func rate(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}
