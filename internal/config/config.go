package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Service   ServiceConfig   `koanf:"service"`
	Edge      EdgeConfig      `koanf:"edge"`
	Worker    WorkerConfig    `koanf:"worker"`
	Postgres  PostgresConfig  `koanf:"postgres"`
	Spool     SpoolConfig     `koanf:"spool"`
	Geo       GeoConfig       `koanf:"geo"`
	Etl       EtlConfig       `koanf:"etl"`
	Retention RetentionConfig `koanf:"retention"`
}

type ServiceConfig struct {
	InstanceID             string `koanf:"instance_id"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

type EdgeConfig struct {
	HTTPListen        string `koanf:"http_listen"`
	Concurrency       int    `koanf:"concurrency"`
	IPCAddr           string `koanf:"ipc_addr"`
	IPCDialTimeoutMs  int    `koanf:"ipc_dial_timeout_ms"`
	DatacenterRefresh string `koanf:"datacenter_refresh_interval"`
}

type WorkerConfig struct {
	AdminListen             string `koanf:"admin_listen"`
	IPCListen               string `koanf:"ipc_listen"`
	IPCAcceptors            int    `koanf:"ipc_acceptors"`
	EnrichmentChannelCap    int    `koanf:"enrichment_channel_capacity"`
	WriterChannelCap        int    `koanf:"writer_channel_capacity"`
	BulkBatchSize           int    `koanf:"bulk_batch_size"`
	BulkFlushIntervalMs     int    `koanf:"bulk_flush_interval_ms"`
	GeoAPIRequestsPerMinute int    `koanf:"geo_api_requests_per_minute"`
	ReplayRetentionMinutes  int    `koanf:"replay_retention_minutes"`
	StoreHeadersCompressed  bool   `koanf:"store_headers_compressed"`
	WhoisServer             string `koanf:"whois_server"`
	RDNSNameserver          string `koanf:"rdns_nameserver"`
}

type PostgresConfig struct {
	DSN      string `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
	MinConns int32  `koanf:"min_conns"`
}

type SpoolConfig struct {
	Directory    string `koanf:"directory"`
	RotateBytes  int64  `koanf:"rotate_bytes"`
	PollInterval string `koanf:"poll_interval"`
}

type GeoConfig struct {
	MaxMindCityDBPath string `koanf:"maxmind_city_db_path"`
	MaxMindASNDBPath  string `koanf:"maxmind_asn_db_path"`
	ExternalAPIURL    string `koanf:"external_api_url"`
	ExternalAPIKey    string `koanf:"external_api_key"`
}

type EtlConfig struct {
	AdminListen        string `koanf:"admin_listen"`
	IntervalSeconds     int    `koanf:"interval_seconds"`
	BatchSize           int    `koanf:"batch_size"`
	SummaryHourLocal    int    `koanf:"summary_hour_local"`
}

type RetentionConfig struct {
	Days         int    `koanf:"days"`
	Timezone     string `koanf:"timezone"`
	PurgeEnabled bool   `koanf:"purge_enabled"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: PIXELWATCH_EDGE__HTTP_LISTEN → edge.http_listen
	if err := k.Load(env.Provider("PIXELWATCH_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "PIXELWATCH_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			InstanceID:             "pixelwatch-1",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Edge: EdgeConfig{
			HTTPListen:        ":8080",
			Concurrency:       1000,
			IPCAddr:           "/var/run/pixelwatch/ipc.sock",
			IPCDialTimeoutMs:  1000,
			DatacenterRefresh: "168h",
		},
		Worker: WorkerConfig{
			AdminListen:             ":9090",
			IPCListen:               "/var/run/pixelwatch/ipc.sock",
			IPCAcceptors:            4,
			EnrichmentChannelCap:    1000,
			WriterChannelCap:        1000,
			BulkBatchSize:           1000,
			BulkFlushIntervalMs:     2000,
			GeoAPIRequestsPerMinute: 500,
			ReplayRetentionMinutes:  30,
		},
		Postgres: PostgresConfig{
			MaxConns: 20,
			MinConns: 2,
		},
		Spool: SpoolConfig{
			Directory:    "./spool",
			RotateBytes:  100 * 1024 * 1024,
			PollInterval: "5m",
		},
		Etl: EtlConfig{
			AdminListen:      ":9091",
			IntervalSeconds:  60,
			BatchSize:        10000,
			SummaryHourLocal: 3,
		},
		Retention: RetentionConfig{
			Days:         180,
			Timezone:     "UTC",
			PurgeEnabled: false,
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("config: postgres.dsn is required")
	}
	if c.Postgres.MaxConns <= 0 {
		return fmt.Errorf("config: postgres.max_conns must be > 0 (got %d)", c.Postgres.MaxConns)
	}
	if c.Postgres.MinConns < 0 {
		return fmt.Errorf("config: postgres.min_conns must be >= 0 (got %d)", c.Postgres.MinConns)
	}
	if c.Edge.Concurrency <= 0 {
		return fmt.Errorf("config: edge.concurrency must be > 0 (got %d)", c.Edge.Concurrency)
	}
	if c.Edge.IPCAddr == "" {
		return fmt.Errorf("config: edge.ipc_addr is required")
	}
	if c.Worker.IPCListen == "" {
		return fmt.Errorf("config: worker.ipc_listen is required")
	}
	if c.Worker.IPCAcceptors <= 0 {
		return fmt.Errorf("config: worker.ipc_acceptors must be > 0 (got %d)", c.Worker.IPCAcceptors)
	}
	if c.Worker.EnrichmentChannelCap <= 0 {
		return fmt.Errorf("config: worker.enrichment_channel_capacity must be > 0 (got %d)", c.Worker.EnrichmentChannelCap)
	}
	if c.Worker.WriterChannelCap <= 0 {
		return fmt.Errorf("config: worker.writer_channel_capacity must be > 0 (got %d)", c.Worker.WriterChannelCap)
	}
	if c.Worker.BulkBatchSize <= 0 {
		return fmt.Errorf("config: worker.bulk_batch_size must be > 0 (got %d)", c.Worker.BulkBatchSize)
	}
	if c.Worker.BulkFlushIntervalMs <= 0 {
		return fmt.Errorf("config: worker.bulk_flush_interval_ms must be > 0 (got %d)", c.Worker.BulkFlushIntervalMs)
	}
	if c.Worker.GeoAPIRequestsPerMinute <= 0 {
		return fmt.Errorf("config: worker.geo_api_requests_per_minute must be > 0 (got %d)", c.Worker.GeoAPIRequestsPerMinute)
	}
	if c.Spool.Directory == "" {
		return fmt.Errorf("config: spool.directory is required")
	}
	if c.Spool.RotateBytes <= 0 {
		return fmt.Errorf("config: spool.rotate_bytes must be > 0 (got %d)", c.Spool.RotateBytes)
	}
	if _, err := time.ParseDuration(c.Spool.PollInterval); err != nil {
		return fmt.Errorf("config: spool.poll_interval is invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.Edge.DatacenterRefresh); err != nil {
		return fmt.Errorf("config: edge.datacenter_refresh_interval is invalid: %w", err)
	}
	if c.Etl.IntervalSeconds <= 0 {
		return fmt.Errorf("config: etl.interval_seconds must be > 0 (got %d)", c.Etl.IntervalSeconds)
	}
	if c.Etl.BatchSize <= 0 {
		return fmt.Errorf("config: etl.batch_size must be > 0 (got %d)", c.Etl.BatchSize)
	}
	if c.Etl.SummaryHourLocal < 0 || c.Etl.SummaryHourLocal > 23 {
		return fmt.Errorf("config: etl.summary_hour_local must be in [0,23] (got %d)", c.Etl.SummaryHourLocal)
	}
	if c.Retention.Days <= 0 {
		return fmt.Errorf("config: retention.days must be > 0 (got %d)", c.Retention.Days)
	}
	if _, err := time.LoadLocation(c.Retention.Timezone); err != nil {
		return fmt.Errorf("config: retention.timezone is invalid: %w", err)
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0 (got %d)", c.Service.ShutdownTimeoutSeconds)
	}
	return nil
}
