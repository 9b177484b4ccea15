package main

import (
	"flag"
	"os"

	"github.com/downfa11-org/chronos/pkg/bench"
	"github.com/downfa11-org/chronos/pkg/config"
	"github.com/downfa11-org/chronos/pkg/metastore"
	"github.com/downfa11-org/chronos/util"
)

func main() {
	dir := flag.String("dir", "", "data directory (default: a scratch dir removed afterwards)")
	writers := flag.Int("writers", 8, "number of writer goroutines")
	readers := flag.Int("readers", 8, "number of reader goroutines")
	records := flag.Int("records", 1000, "records per writer")
	payload := flag.Int("payload", 256, "payload size in bytes")
	tags := flag.Int("tags", 2, "tags per record")
	flag.Parse()

	dataDir := *dir
	if dataDir == "" {
		tmp, err := os.MkdirTemp("", "chronos-bench-")
		if err != nil {
			util.Fatal("create scratch dir: %v", err)
		}
		defer os.RemoveAll(tmp)
		dataDir = tmp
	}

	cfg := config.Default()
	cfg.DataDir = dataDir
	s, err := metastore.Open(cfg)
	if err != nil {
		util.Fatal("open store: %v", err)
	}
	defer func() { _ = s.Close() }()

	runner := bench.NewBenchmarkRunner(s, *writers, *readers, *records, *payload, *tags)
	res, err := runner.Run()
	runner.Print(res)
	if err != nil {
		util.Error("benchmark failed: %v", err)
	}
}
