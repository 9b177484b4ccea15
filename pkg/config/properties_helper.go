package config

import (
	"math/bits"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/downfa11-org/chronos/util"
)

// Store file names inside DataDir.
const (
	BlockFile  = "META.BLOCK"
	OffsetFile = "META.OFFSET"
	WALFile    = "META.WAL"
	IDFile     = "META.ID"
)

func (cfg *Config) Normalize() {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = DefaultDataDir
	}
	if cfg.LogLevel < util.LogLevelDebug || cfg.LogLevel > util.LogLevelError {
		util.Warn("Invalid log_level %d, defaulting to info", int(cfg.LogLevel))
		cfg.LogLevel = util.LogLevelInfo
	}

	// storage files
	if cfg.BlockInitialPages <= 0 {
		cfg.BlockInitialPages = DefaultBlockInitialPages
	}
	if n := nextPowerOfTwo(int64(cfg.BlockInitialPages)); n != int64(cfg.BlockInitialPages) {
		util.Warn("block_initial_pages %d is not a power of two, rounding up to %d", cfg.BlockInitialPages, n)
		cfg.BlockInitialPages = int(n)
	}
	if cfg.OffsetInitialSize < 1024 {
		cfg.OffsetInitialSize = DefaultOffsetInitialSize
	}
	if n := nextPowerOfTwo(cfg.OffsetInitialSize); n != cfg.OffsetInitialSize {
		util.Warn("offset_initial_size %d is not a power of two, rounding up to %d", cfg.OffsetInitialSize, n)
		cfg.OffsetInitialSize = n
	}
	if cfg.TagIndexMinRecords < 1 {
		cfg.TagIndexMinRecords = 1
	}
	if cfg.WALBufferSize < 4 {
		cfg.WALBufferSize = DefaultWALBufferSize
	}
	if rem := cfg.WALBufferSize % 4; rem != 0 {
		util.Warn("wal_buffer_size %d is not a multiple of 4, rounding down", cfg.WALBufferSize)
		cfg.WALBufferSize -= rem
	}

	// cache
	if cfg.OffsetCacheSize <= 0 {
		cfg.OffsetCacheSize = DefaultOffsetCacheSize
	}
	if cfg.OffsetCacheTTL <= 0 {
		cfg.OffsetCacheTTL = DefaultOffsetCacheTTL
	}

	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = DefaultExporterPort
	}
}

// nextPowerOfTwo returns the smallest power of two not below n, for n >= 1.
func nextPowerOfTwo(n int64) int64 {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len64(uint64(n-1))
}

// Path joins name onto the data directory.
func (cfg *Config) Path(name string) string {
	return filepath.Join(cfg.DataDir, name)
}

func overrideEnvInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseInt(v, *target)
	}
}

func overrideEnvInt64(target *int64, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseInt64(v, *target)
	}
}

func overrideEnvBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseBool(v, *target)
	}
}

func overrideEnvDuration(target *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseDuration(v, *target)
	}
}

func overrideEnvString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}
