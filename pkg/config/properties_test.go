package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/downfa11-org/chronos/pkg/config"
	"github.com/downfa11-org/chronos/util"
)

func TestNormalizeDefaults(t *testing.T) {
	cfg := &config.Config{}
	cfg.Normalize()

	if cfg.DataDir != config.DefaultDataDir {
		t.Errorf("DataDir default incorrect: %s", cfg.DataDir)
	}
	if cfg.BlockInitialPages != 256 {
		t.Errorf("BlockInitialPages default incorrect: %d", cfg.BlockInitialPages)
	}
	if cfg.OffsetInitialSize != 65536 {
		t.Errorf("OffsetInitialSize default incorrect: %d", cfg.OffsetInitialSize)
	}
	if cfg.OffsetCacheSize != 1_000_000 || cfg.OffsetCacheTTL != 24*time.Hour {
		t.Errorf("cache defaults incorrect: %d %s", cfg.OffsetCacheSize, cfg.OffsetCacheTTL)
	}
	if cfg.WALBufferSize != 4096 {
		t.Errorf("WALBufferSize default incorrect: %d", cfg.WALBufferSize)
	}
	if cfg.TagIndexMinRecords != 1 {
		t.Errorf("TagIndexMinRecords default incorrect: %d", cfg.TagIndexMinRecords)
	}
	if cfg.ExporterPort != 9100 {
		t.Errorf("ExporterPort default incorrect: %d", cfg.ExporterPort)
	}
}

func TestNormalizeRoundsWALBuffer(t *testing.T) {
	cfg := &config.Config{WALBufferSize: 4099}
	cfg.Normalize()
	if cfg.WALBufferSize != 4096 {
		t.Errorf("expected 4096, got %d", cfg.WALBufferSize)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	cfg, err := config.Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.OffsetCacheEnabled || !cfg.EnableExporter {
		t.Errorf("cache and exporter should default to enabled")
	}
	if cfg.LogLevel != util.LogLevelInfo {
		t.Errorf("expected info level, got %s", cfg.LogLevel)
	}
}

func TestLoadYAMLThenEnvThenFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chronos.yaml")
	yamlData := []byte(`
data_dir: /var/lib/chronos
log_level: debug
block_initial_pages: 8
offset_cache_enabled: false
offset_cache_ttl: 90m
wal_buffer_size: 1024
exporter_port: 9200
`)
	if err := os.WriteFile(path, yamlData, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("CONFIG_PATH", "")
	t.Setenv("CHRONOS_WAL_BUFFER_SIZE", "2048")
	t.Setenv("CHRONOS_EXPORTER_PORT", "9300")

	cfg, err := config.Load([]string{"-config", path, "-exporter-port", "9400"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer util.SetLevel(util.LogLevelInfo)

	if cfg.DataDir != "/var/lib/chronos" {
		t.Errorf("DataDir from file not applied: %s", cfg.DataDir)
	}
	if cfg.LogLevel != util.LogLevelDebug {
		t.Errorf("log level from file not applied: %s", cfg.LogLevel)
	}
	if cfg.BlockInitialPages != 8 {
		t.Errorf("BlockInitialPages from file not applied: %d", cfg.BlockInitialPages)
	}
	if cfg.OffsetCacheEnabled {
		t.Errorf("offset cache should be disabled by the file")
	}
	if cfg.OffsetCacheTTL != 90*time.Minute {
		t.Errorf("OffsetCacheTTL from file not applied: %s", cfg.OffsetCacheTTL)
	}
	if cfg.WALBufferSize != 2048 {
		t.Errorf("env should override file for wal buffer, got %d", cfg.WALBufferSize)
	}
	if cfg.ExporterPort != 9400 {
		t.Errorf("explicit flag should win, got %d", cfg.ExporterPort)
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chronos.json")
	data := []byte(`{"data.dir": "/tmp/meta", "log_level": "warn", "tag.index.min.records": 5000}`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)

	cfg, err := config.Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer util.SetLevel(util.LogLevelInfo)

	if cfg.DataDir != "/tmp/meta" || cfg.LogLevel != util.LogLevelWarn || cfg.TagIndexMinRecords != 5000 {
		t.Errorf("JSON config not applied: %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	if _, err := config.Load([]string{"-config", filepath.Join(t.TempDir(), "nope.yaml")}); err == nil {
		t.Errorf("expected an error for a missing config file")
	}
}

func TestPath(t *testing.T) {
	cfg := &config.Config{DataDir: "/data"}
	if got := cfg.Path(config.BlockFile); got != filepath.Join("/data", "META.BLOCK") {
		t.Errorf("unexpected path %s", got)
	}
}

func TestLoadKeepsPositionalArgs(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	cfg, err := config.Load([]string{"-data-dir", "/srv/meta", "get", "42"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DataDir != "/srv/meta" {
		t.Errorf("DataDir flag not applied: %s", cfg.DataDir)
	}
	if len(cfg.Args) != 2 || cfg.Args[0] != "get" || cfg.Args[1] != "42" {
		t.Errorf("unexpected positional args %v", cfg.Args)
	}
}

func TestLoadJSONCacheTTL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Duration
	}{
		{"duration string", `"90m"`, 90 * time.Minute},
		{"nanoseconds", `3600000000000`, time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "chronos.json")
			data := []byte(`{"data.dir": "/tmp/meta", "offset.cache.ttl": ` + tt.raw + `}`)
			if err := os.WriteFile(path, data, 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			t.Setenv("CONFIG_PATH", path)

			cfg, err := config.Load(nil)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.OffsetCacheTTL != tt.want {
				t.Errorf("expected ttl %s, got %s", tt.want, cfg.OffsetCacheTTL)
			}
			if cfg.DataDir != "/tmp/meta" {
				t.Errorf("other fields lost: %+v", cfg)
			}
		})
	}
}

func TestLoadJSONBadCacheTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chronos.json")
	if err := os.WriteFile(path, []byte(`{"offset.cache.ttl": "soon"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	if _, err := config.Load(nil); err == nil {
		t.Errorf("expected an error for an unparsable ttl")
	}
}

func TestNormalizeRoundsSizesToPowerOfTwo(t *testing.T) {
	cfg := &config.Config{BlockInitialPages: 3, OffsetInitialSize: 100_000}
	cfg.Normalize()
	if cfg.BlockInitialPages != 4 {
		t.Errorf("expected 4 pages, got %d", cfg.BlockInitialPages)
	}
	if cfg.OffsetInitialSize != 131072 {
		t.Errorf("expected 131072 bytes, got %d", cfg.OffsetInitialSize)
	}

	cfg = &config.Config{BlockInitialPages: 8, OffsetInitialSize: 4096}
	cfg.Normalize()
	if cfg.BlockInitialPages != 8 || cfg.OffsetInitialSize != 4096 {
		t.Errorf("powers of two should be kept: %d %d", cfg.BlockInitialPages, cfg.OffsetInitialSize)
	}
}
