package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/downfa11-org/chronos/util"
	"gopkg.in/yaml.v3"
)

// Config holds the metadata store settings.
type Config struct {
	DataDir  string        `yaml:"data_dir" json:"data.dir"`
	LogLevel util.LogLevel `yaml:"log_level" json:"log_level"`

	// Block store
	BlockInitialPages int `yaml:"block_initial_pages" json:"block.initial.pages"`

	// Offset index and its cache
	OffsetInitialSize  int64         `yaml:"offset_initial_size" json:"offset.initial.size"`
	OffsetCacheEnabled bool          `yaml:"offset_cache_enabled" json:"offset.cache.enabled"`
	OffsetCacheSize    int           `yaml:"offset_cache_size" json:"offset.cache.size"`
	OffsetCacheTTL     time.Duration `yaml:"offset_cache_ttl" json:"offset.cache.ttl"`

	// Tag index sizing floor, in records
	TagIndexMinRecords int `yaml:"tag_index_min_records" json:"tag.index.min.records"`

	// Write-ahead log
	WALBufferSize int `yaml:"wal_buffer_size" json:"wal.buffer.size"`

	// Metrics
	EnableExporter bool `yaml:"enable_exporter" json:"enable.exporter"`
	ExporterPort   int  `yaml:"exporter_port" json:"exporter.port"`

	// Args holds the command line arguments left after flag parsing.
	Args []string `yaml:"-" json:"-"`
}

const (
	DefaultDataDir           = "./data/metaStore"
	DefaultBlockInitialPages = 256
	DefaultOffsetInitialSize = 64 * 1024
	DefaultOffsetCacheSize   = 1_000_000
	DefaultOffsetCacheTTL    = 24 * time.Hour
	DefaultWALBufferSize     = 4096
	DefaultExporterPort      = 9100
)

// Default returns a Config with every field at its default.
func Default() *Config {
	return &Config{
		DataDir:            DefaultDataDir,
		LogLevel:           util.LogLevelInfo,
		BlockInitialPages:  DefaultBlockInitialPages,
		OffsetInitialSize:  DefaultOffsetInitialSize,
		OffsetCacheEnabled: true,
		OffsetCacheSize:    DefaultOffsetCacheSize,
		OffsetCacheTTL:     DefaultOffsetCacheTTL,
		TagIndexMinRecords: 1,
		WALBufferSize:      DefaultWALBufferSize,
		EnableExporter:     true,
		ExporterPort:       DefaultExporterPort,
	}
}

// LoadConfig reads the process command line.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load builds a Config from defaults, then the config file named by -config or
// CONFIG_PATH, then CHRONOS_* environment variables, then flags given in args.
func Load(args []string) (*Config, error) {
	def := Default()
	fs := flag.NewFlagSet("chronos", flag.ContinueOnError)

	configPath := fs.String("config", "", "Path to YAML/JSON config file")
	dataDir := fs.String("data-dir", def.DataDir, "Directory holding the store files")
	logLevel := fs.String("log-level", def.LogLevel.String(), "Log level (debug, info, warn, error)")
	blockPages := fs.Int("block-initial-pages", def.BlockInitialPages, "Initial block file size in 128 KiB pages")
	offsetSize := fs.Int64("offset-initial-size", def.OffsetInitialSize, "Initial offset index size in bytes")
	cacheEnabled := fs.Bool("offset-cache", def.OffsetCacheEnabled, "Cache offset lookups in memory")
	cacheSize := fs.Int("offset-cache-size", def.OffsetCacheSize, "Maximum cached offset records")
	cacheTTL := fs.Duration("offset-cache-ttl", def.OffsetCacheTTL, "Offset cache entry lifetime")
	tagMin := fs.Int("tag-index-min-records", def.TagIndexMinRecords, "Record count floor used to size the tag index")
	walBuffer := fs.Int("wal-buffer-size", def.WALBufferSize, "Write-ahead log buffer size in bytes")
	exporter := fs.Bool("exporter", def.EnableExporter, "Enable Prometheus exporter")
	exporterPort := fs.Int("exporter-port", def.ExporterPort, "Exporter port")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" && *configPath == "" {
		*configPath = envPath
	}

	cfg := def
	if *configPath != "" {
		if err := loadFile(cfg, *configPath); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data-dir":
			cfg.DataDir = *dataDir
		case "log-level":
			cfg.LogLevel = util.ParseLogLevel(*logLevel)
		case "block-initial-pages":
			cfg.BlockInitialPages = *blockPages
		case "offset-initial-size":
			cfg.OffsetInitialSize = *offsetSize
		case "offset-cache":
			cfg.OffsetCacheEnabled = *cacheEnabled
		case "offset-cache-size":
			cfg.OffsetCacheSize = *cacheSize
		case "offset-cache-ttl":
			cfg.OffsetCacheTTL = *cacheTTL
		case "tag-index-min-records":
			cfg.TagIndexMinRecords = *tagMin
		case "wal-buffer-size":
			cfg.WALBufferSize = *walBuffer
		case "exporter":
			cfg.EnableExporter = *exporter
		case "exporter-port":
			cfg.ExporterPort = *exporterPort
		}
	})

	cfg.Args = fs.Args()
	cfg.Normalize()
	util.SetLevel(cfg.LogLevel)
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// UnmarshalJSON accepts offset.cache.ttl as a duration string ("24h") or as nanoseconds.
func (cfg *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	aux := struct {
		*plain
		OffsetCacheTTL json.RawMessage `json:"offset.cache.ttl"`
	}{plain: (*plain)(cfg)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.OffsetCacheTTL) == 0 {
		return nil
	}

	var s string
	if err := json.Unmarshal(aux.OffsetCacheTTL, &s); err == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("offset.cache.ttl: %w", err)
		}
		cfg.OffsetCacheTTL = d
		return nil
	}
	var n int64
	if err := json.Unmarshal(aux.OffsetCacheTTL, &n); err != nil {
		return fmt.Errorf("offset.cache.ttl must be a duration string or nanoseconds: %w", err)
	}
	cfg.OffsetCacheTTL = time.Duration(n)
	return nil
}

func applyEnv(cfg *Config) {
	overrideEnvString(&cfg.DataDir, "CHRONOS_DATA_DIR")
	if v := os.Getenv("CHRONOS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = util.ParseLogLevel(v)
	}
	overrideEnvInt(&cfg.BlockInitialPages, "CHRONOS_BLOCK_INITIAL_PAGES")
	overrideEnvInt64(&cfg.OffsetInitialSize, "CHRONOS_OFFSET_INITIAL_SIZE")
	overrideEnvBool(&cfg.OffsetCacheEnabled, "CHRONOS_OFFSET_CACHE_ENABLED")
	overrideEnvInt(&cfg.OffsetCacheSize, "CHRONOS_OFFSET_CACHE_SIZE")
	overrideEnvDuration(&cfg.OffsetCacheTTL, "CHRONOS_OFFSET_CACHE_TTL")
	overrideEnvInt(&cfg.TagIndexMinRecords, "CHRONOS_TAG_INDEX_MIN_RECORDS")
	overrideEnvInt(&cfg.WALBufferSize, "CHRONOS_WAL_BUFFER_SIZE")
	overrideEnvBool(&cfg.EnableExporter, "CHRONOS_ENABLE_EXPORTER")
	overrideEnvInt(&cfg.ExporterPort, "CHRONOS_EXPORTER_PORT")
}
