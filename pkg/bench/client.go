package bench

import (
	"bytes"
	"fmt"
	"time"

	"github.com/downfa11-org/chronos/pkg/metastore"
)

// BenchClient drives one goroutine's share of the workload against a store.
type BenchClient struct {
	Store       *metastore.Store
	FirstID     uint32
	NumRecords  int
	PayloadSize int
	Tags        []string
}

func (c *BenchClient) payload(id uint32) []byte {
	p := bytes.Repeat([]byte{byte('a' + id%26)}, c.PayloadSize)
	copy(p, fmt.Sprintf("%d:", id))
	return p
}

// RunWrites saves NumRecords records starting at FirstID and returns the slowest save.
func (c *BenchClient) RunWrites() (time.Duration, error) {
	var slowest time.Duration
	for i := 0; i < c.NumRecords; i++ {
		id := c.FirstID + uint32(i)
		start := time.Now()
		if err := c.Store.Save(id, c.payload(id), c.Tags); err != nil {
			return slowest, fmt.Errorf("save record %d: %w", id, err)
		}
		slowest = max(slowest, time.Since(start))
	}
	return slowest, nil
}

// RunReads reads back every record written by RunWrites and checks its payload.
func (c *BenchClient) RunReads() error {
	for i := 0; i < c.NumRecords; i++ {
		id := c.FirstID + uint32(i)
		got, err := c.Store.Get(id)
		if err != nil {
			return fmt.Errorf("get record %d: %w", id, err)
		}
		if !bytes.Equal(got, c.payload(id)) {
			return fmt.Errorf("record %d: payload mismatch (%d bytes)", id, len(got))
		}
	}
	return nil
}
