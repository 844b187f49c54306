package main

import (
	"context"
	"fmt"
	nethttp "net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/signalcove/pixelwatch/internal/config"
	"github.com/signalcove/pixelwatch/internal/db"
	"github.com/signalcove/pixelwatch/internal/edge"
	"github.com/signalcove/pixelwatch/internal/enrich"
	"github.com/signalcove/pixelwatch/internal/etl"
	pixelhttp "github.com/signalcove/pixelwatch/internal/http"
	"github.com/signalcove/pixelwatch/internal/ipc"
	"github.com/signalcove/pixelwatch/internal/maintenance"
	"github.com/signalcove/pixelwatch/internal/metrics"
	"github.com/signalcove/pixelwatch/internal/record"
	"github.com/signalcove/pixelwatch/internal/spool"
	"github.com/signalcove/pixelwatch/internal/store"
	"github.com/signalcove/pixelwatch/internal/worker"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "edge":
		runEdge()
	case "worker":
		runWorker()
	case "etl":
		runEtl()
	case "migrate":
		runMigrate()
	case "maintenance":
		runMaintenance()
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: pixelwatch <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  edge          Start the Edge HTTP/pixel receiver")
	fmt.Println("  worker        Start the Worker enrichment+bulk-write process")
	fmt.Println("  etl           Start the ETL batch scheduler")
	fmt.Println("  migrate       Run database migrations")
	fmt.Println("  maintenance   Run partition maintenance (create new, drop old when purge is enabled)")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>   Path to configuration YAML file")
	fmt.Println("  --log-level <lvl> Override log level (debug, info, warn, error)")
}

func parseFlags(args []string) (configPath string, logLevel string) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		case "--log-level":
			if i+1 < len(args) {
				logLevel = args[i+1]
				i++
			}
		}
	}
	return
}

func loadConfig(args []string) (*config.Config, *zap.Logger) {
	configPath, logLevelOverride := parseFlags(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if logLevelOverride != "" {
		cfg.Service.LogLevel = logLevelOverride
	}

	logger := initLogger(cfg.Service.LogLevel)
	return cfg, logger
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// migrationsDir returns the path to the migrations directory relative to the binary.
func migrationsDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "migrations"
	}
	return filepath.Join(filepath.Dir(exe), "migrations")
}

// runEdge starts the Edge process: pixel/script HTTP surface, fast
// in-request classifiers, and the IPC/spool/direct-insert forwarding
// chain (§4.1).
func runEdge() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	metrics.Register()

	logger.Info("starting pixelwatch edge",
		zap.String("instance_id", cfg.Service.InstanceID),
		zap.String("http_listen", cfg.Edge.HTTPListen),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ipcClient := ipc.NewClient(cfg.Edge.IPCAddr, time.Duration(cfg.Edge.IPCDialTimeoutMs)*time.Millisecond)
	defer ipcClient.Close()

	spoolWriter, err := spool.NewWriter(cfg.Spool.Directory, cfg.Spool.RotateBytes)
	if err != nil {
		logger.Fatal("failed to open spool writer", zap.Error(err))
	}
	defer spoolWriter.Close()

	var directInserter edge.DirectInserter
	if cfg.Postgres.DSN != "" {
		pool, err := db.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
		if err != nil {
			logger.Warn("direct-insert fallback unavailable: failed to connect to database", zap.Error(err))
		} else {
			defer pool.Close()
			directInserter = store.NewRawWriter(pool, logger.Named("store"), cfg.Worker.StoreHeadersCompressed)
		}
	}

	forwarder := edge.NewForwarder(ipcClient, spoolWriter, directInserter, logger.Named("forward"))

	datacenters := edge.NewDatacenterSet(nil)
	refreshInterval, err := time.ParseDuration(cfg.Edge.DatacenterRefresh)
	if err != nil {
		logger.Fatal("invalid datacenter refresh interval", zap.Error(err))
	}
	fetcher := edge.NewStaticCloudFetcher()
	if err := datacenters.Refresh(ctx, fetcher); err != nil {
		logger.Warn("initial datacenter set refresh failed, starting with empty set", zap.Error(err))
	}
	go runDatacenterRefresh(ctx, datacenters, fetcher, refreshInterval, logger)

	srv := edge.NewServer(forwarder, datacenters, edge.StaticCollector{}, nil, logger.Named("edge"))

	httpSrv := newHTTPServer(cfg.Edge.HTTPListen, srv.Handler())
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !isServerClosed(err) {
			logger.Fatal("edge HTTP server error", zap.Error(err))
		}
	}()
	logger.Info("edge HTTP server listening", zap.String("addr", cfg.Edge.HTTPListen))

	waitForShutdown(logger, "edge")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Service.ShutdownTimeoutSeconds)*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("edge HTTP server shutdown error", zap.Error(err))
	}
	cancel()
	logger.Info("pixelwatch edge stopped")
}

func runDatacenterRefresh(ctx context.Context, set *edge.DatacenterSet, fetcher edge.Fetcher, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := set.Refresh(ctx, fetcher); err != nil {
				logger.Warn("datacenter set refresh failed, keeping previous snapshot", zap.Error(err))
			}
		}
	}
}

// runWorker starts the Worker process: IPC acceptor, spool replayer,
// single-consumer enrichment pipeline, and bulk writer (§4.3, §5).
func runWorker() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	metrics.Register()

	logger.Info("starting pixelwatch worker", zap.String("instance_id", cfg.Service.InstanceID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	rawWriter := store.NewRawWriter(pool, logger.Named("store"), cfg.Worker.StoreHeadersCompressed)

	geoDB, err := enrich.OpenGeoDB(cfg.Geo.MaxMindCityDBPath, cfg.Geo.MaxMindASNDBPath)
	if err != nil {
		logger.Fatal("failed to open geo databases", zap.Error(err))
	}
	defer geoDB.Close()

	resolver := enrich.NewReverseResolver(cfg.Worker.RDNSNameserver)
	geoAPI := enrich.NewGeoAPIClient(cfg.Geo.ExternalAPIURL, cfg.Geo.ExternalAPIKey, cfg.Worker.GeoAPIRequestsPerMinute)

	pipeline := worker.NewPipeline(worker.PipelineConfig{
		GeoDB:           geoDB,
		Resolver:        resolver,
		GeoAPI:          geoAPI,
		GeoCacheMaxMem:  64 << 20,
		WhoisServer:     cfg.Worker.WhoisServer,
		ReplayRetention: time.Duration(cfg.Worker.ReplayRetentionMinutes) * time.Minute,
		Logger:          logger.Named("pipeline"),
	})
	go runPipelineSweep(ctx, pipeline)

	enrichCh := make(chan record.TrackingRecord, cfg.Worker.EnrichmentChannelCap)
	writerCh := make(chan record.TrackingRecord, cfg.Worker.WriterChannelCap)

	ipcServer := ipc.NewServer(cfg.Worker.IPCListen, cfg.Worker.IPCAcceptors, cfg.Worker.EnrichmentChannelCap, logger.Named("ipc"))

	replayer := spool.NewReplayer(cfg.Spool.Directory, mustParseDuration(cfg.Spool.PollInterval, logger), worker.NewReplayHandler(enrichCh), logger.Named("spool.replay"))

	listener := worker.NewListener(ipcServer, replayer, enrichCh, logger.Named("listener"))

	bulkWriter := worker.NewBulkWriter(rawWriter, cfg.Worker.BulkBatchSize, time.Duration(cfg.Worker.BulkFlushIntervalMs)*time.Millisecond, logger.Named("writer"))

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); listener.Run(ctx) }()
	go func() { defer wg.Done(); worker.RunConsumer(ctx, enrichCh, writerCh, pipeline, logger.Named("consumer")) }()
	go func() { defer wg.Done(); bulkWriter.Run(ctx, writerCh) }()

	admin := pixelhttp.NewServer(cfg.Worker.AdminListen, pool, []pixelhttp.ReadinessCheck{ipcServer, rawWriterCheck{rawWriter}}, logger.Named("admin"))
	if err := admin.Start(); err != nil {
		logger.Fatal("failed to start admin HTTP server", zap.Error(err))
	}

	logger.Info("worker started")

	waitForShutdown(logger, "worker")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Service.ShutdownTimeoutSeconds)*time.Second)
	defer shutdownCancel()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin HTTP server shutdown error", zap.Error(err))
	}

	cancel()
	close(enrichCh)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
		logger.Info("worker pipelines stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached, some goroutines may not have finished")
	}

	logger.Info("pixelwatch worker stopped")
}

func runPipelineSweep(ctx context.Context, p *worker.Pipeline) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.Sweep(now)
		}
	}
}

// runEtl starts the ETL scheduler: ParseNewHits/MatchVisits/
// MatchLegacyVisits/MaterializeVisitorScores every cycle, plus the daily/
// weekly/monthly CustomerSummary jobs (§4.4-§4.7).
func runEtl() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	metrics.Register()

	logger.Info("starting pixelwatch etl", zap.String("instance_id", cfg.Service.InstanceID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	scheduler, err := etl.NewScheduler(etl.SchedulerConfig{
		Pool:          pool,
		Logger:        logger.Named("scheduler"),
		CycleInterval: time.Duration(cfg.Etl.IntervalSeconds) * time.Second,
		BatchSize:     cfg.Etl.BatchSize,
	})
	if err != nil {
		logger.Fatal("failed to create ETL scheduler", zap.Error(err))
	}
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("failed to start ETL scheduler", zap.Error(err))
	}

	admin := pixelhttp.NewServer(cfg.Etl.AdminListen, pool, nil, logger.Named("admin"))
	if err := admin.Start(); err != nil {
		logger.Fatal("failed to start admin HTTP server", zap.Error(err))
	}

	logger.Info("etl scheduler started", zap.Int("interval_seconds", cfg.Etl.IntervalSeconds))

	waitForShutdown(logger, "etl")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Service.ShutdownTimeoutSeconds)*time.Second)
	defer shutdownCancel()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin HTTP server shutdown error", zap.Error(err))
	}
	if err := scheduler.Shutdown(); err != nil {
		logger.Error("ETL scheduler shutdown error", zap.Error(err))
	}
	cancel()

	logger.Info("pixelwatch etl stopped")
}

func runMigrate() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	logger.Info("running migrations", zap.String("dsn", redactDSN(cfg.Postgres.DSN)))

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrationsDir(), logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	logger.Info("migrations complete")
}

func runMaintenance() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	logger.Info("running partition maintenance",
		zap.Int("retention_days", cfg.Retention.Days),
		zap.String("timezone", cfg.Retention.Timezone),
	)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	pm := maintenance.NewPartitionManager(pool, cfg.Retention.Days, cfg.Retention.Timezone, cfg.Retention.PurgeEnabled, logger)
	if err := pm.Run(ctx); err != nil {
		logger.Fatal("maintenance failed", zap.Error(err))
	}

	logger.Info("partition maintenance complete")
}

func waitForShutdown(logger *zap.Logger, process string) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("process", process), zap.String("signal", sig.String()))
}

func mustParseDuration(s string, logger *zap.Logger) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		logger.Fatal("invalid duration", zap.String("value", s), zap.Error(err))
	}
	return d
}

// rawWriterCheck adapts store.RawWriter's context-taking Ready to the
// admin server's ReadinessCheck interface.
type rawWriterCheck struct {
	w *store.RawWriter
}

func (c rawWriterCheck) Name() string { return c.w.Name() }

func (c rawWriterCheck) Ready() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.w.Ready(ctx)
}

func newHTTPServer(addr string, handler nethttp.Handler) *nethttp.Server {
	return &nethttp.Server{
		Addr:    addr,
		Handler: handler,
	}
}

func isServerClosed(err error) bool {
	return err == nethttp.ErrServerClosed
}

func redactDSN(dsn string) string {
	if !strings.Contains(dsn, "://") {
		re := regexp.MustCompile(`password\s*=\s*\S+`)
		return re.ReplaceAllString(dsn, "password=***")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
