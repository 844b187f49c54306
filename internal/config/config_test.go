package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			InstanceID:             "test",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Edge: EdgeConfig{
			HTTPListen:        ":8080",
			Concurrency:       1000,
			IPCAddr:           "/tmp/ipc.sock",
			DatacenterRefresh: "168h",
		},
		Worker: WorkerConfig{
			IPCListen:               "/tmp/ipc.sock",
			IPCAcceptors:            4,
			EnrichmentChannelCap:    100,
			WriterChannelCap:        100,
			BulkBatchSize:           1000,
			BulkFlushIntervalMs:     2000,
			GeoAPIRequestsPerMinute: 500,
		},
		Postgres: PostgresConfig{
			DSN:      "postgres://localhost/test",
			MaxConns: 10,
			MinConns: 2,
		},
		Spool: SpoolConfig{
			Directory:    "/tmp/spool",
			RotateBytes:  1024,
			PollInterval: "5m",
		},
		Etl: EtlConfig{
			IntervalSeconds:  60,
			BatchSize:        10000,
			SummaryHourLocal: 3,
		},
		Retention: RetentionConfig{
			Days:     30,
			Timezone: "UTC",
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidate_NoDSN(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.DSN = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestValidate_NoIPCAddr(t *testing.T) {
	cfg := validConfig()
	cfg.Edge.IPCAddr = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty edge.ipc_addr")
	}
}

func TestValidate_ZeroAcceptors(t *testing.T) {
	cfg := validConfig()
	cfg.Worker.IPCAcceptors = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero ipc_acceptors")
	}
}

func TestValidate_ZeroEnrichmentChannelCap(t *testing.T) {
	cfg := validConfig()
	cfg.Worker.EnrichmentChannelCap = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero enrichment_channel_capacity")
	}
}

func TestValidate_BadSpoolPollInterval(t *testing.T) {
	cfg := validConfig()
	cfg.Spool.PollInterval = "not-a-duration"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid spool.poll_interval")
	}
}

func TestValidate_BadDatacenterRefresh(t *testing.T) {
	cfg := validConfig()
	cfg.Edge.DatacenterRefresh = "nope"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid edge.datacenter_refresh_interval")
	}
}

func TestValidate_SummaryHourOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Etl.SummaryHourLocal = 24
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range summary_hour_local")
	}
}

func TestValidate_RetentionDaysZero(t *testing.T) {
	cfg := validConfig()
	cfg.Retention.Days = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for retention.days = 0")
	}
}

func TestValidate_InvalidTimezone(t *testing.T) {
	cfg := validConfig()
	cfg.Retention.Timezone = "Not/A/Real/Zone"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestValidate_ValidTimezone(t *testing.T) {
	cfg := validConfig()
	cfg.Retention.Timezone = "America/New_York"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func writeMinimalYAML(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	data := `
postgres:
  dsn: "postgres://localhost/test"
edge:
  ipc_addr: "/tmp/ipc.sock"
worker:
  ipc_listen: "/tmp/ipc.sock"
`
	if err := os.WriteFile(p, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_EnvOverrideDSN(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("PIXELWATCH_POSTGRES__DSN", "postgres://envhost/envdb")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Postgres.DSN != "postgres://envhost/envdb" {
		t.Errorf("expected DSN from env, got %q", cfg.Postgres.DSN)
	}
}

func TestLoad_EnvOverrideLogLevel(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("PIXELWATCH_SERVICE__LOG_LEVEL", "debug")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.LogLevel != "debug" {
		t.Errorf("expected log_level 'debug' from env, got %q", cfg.Service.LogLevel)
	}
}

func TestLoad_EnvEmptyDSNFailsValidation(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("PIXELWATCH_POSTGRES__DSN", "")

	_, err := Load(p)
	if err == nil {
		t.Fatal("expected validation error for empty postgres DSN via env")
	}
}
