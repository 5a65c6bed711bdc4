// GameServer Doctor - game server fleet monitoring and auto-remediation daemon
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/supporttools/gameserver-doctor/pkg/cache"
	"github.com/supporttools/gameserver-doctor/pkg/eventlog"
	"github.com/supporttools/gameserver-doctor/pkg/health"
	"github.com/supporttools/gameserver-doctor/pkg/logger"
	"github.com/supporttools/gameserver-doctor/pkg/metrics"
	"github.com/supporttools/gameserver-doctor/pkg/poller"
	"github.com/supporttools/gameserver-doctor/pkg/probe"
	"github.com/supporttools/gameserver-doctor/pkg/query"
	"github.com/supporttools/gameserver-doctor/pkg/ratelimit"
	"github.com/supporttools/gameserver-doctor/pkg/remote"
	"github.com/supporttools/gameserver-doctor/pkg/restart"
	"github.com/supporttools/gameserver-doctor/pkg/store"
	"github.com/supporttools/gameserver-doctor/pkg/supervisor"
	"github.com/supporttools/gameserver-doctor/pkg/types"
	"github.com/supporttools/gameserver-doctor/pkg/util"
	"github.com/supporttools/gameserver-doctor/pkg/version"
)

// Build-time variables set by goreleaser or make
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Command-line flags
var (
	configPath  = flag.String("config", "/etc/gameserver-doctor/config.yaml", "Path to configuration file")
	logLevel    = flag.String("log-level", "", "Override log level (debug, info, warn, error, fatal)")
	logFormat   = flag.String("log-format", "", "Override log format (json, text)")
	dryRun      = flag.Bool("dry-run", false, "Enable dry-run mode (disable remediation)")
	showVersion = flag.Bool("version", false, "Show version information and exit")
)

const shutdownTimeout = 30 * time.Second

func main() {
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	config, err := loadConfiguration()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(config.Settings.LogLevel, config.Settings.LogFormat,
		config.Settings.LogOutput, config.Settings.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	logger.Infof("GameServer Doctor %s starting", Version)
	if config.Settings.DryRun {
		logger.Warnf("Dry-run mode enabled, restarts will be logged but not executed")
	}

	if err := run(config); err != nil {
		logger.Fatalf("%v", err)
	}
}

func run(config *types.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis backs both the status cache and the event log.
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Address,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", config.Redis.Address, err)
	}
	logger.Infof("Connected to redis at %s", config.Redis.Address)

	cacheStore := cache.NewStore(rdb, cache.WithMemoryTier(time.Minute))
	events := eventlog.NewLog(rdb)

	serverStore, cleanup, err := buildServerStore(ctx, config)
	if err != nil {
		return err
	}
	defer cleanup()

	m := metrics.New("")
	registry := prometheus.NewRegistry()
	m.MustRegister(registry)

	queryTimeout, _ := config.Monitoring.QueryTimeoutDuration()
	commandTimeout, _ := config.Monitoring.CommandTimeoutDuration()
	window, _ := config.Monitoring.RestartWindowDuration()

	querier := query.NewA2SQuerier()
	limiter := ratelimit.NewLimiter(window, config.Monitoring.RestartMaxAttempts)

	// One SSH session per probe or restart invocation; loops for different
	// servers must never share a connection.
	executorFactory := types.ExecutorFactory(func() types.CommandExecutor {
		return remote.NewSSHExecutor()
	})

	restarter, err := restart.NewCommandRestarter(executorFactory)
	if err != nil {
		return err
	}

	sup, err := supervisor.New(supervisor.Config{
		Store:     serverStore,
		Events:    events,
		Limiter:   limiter,
		Restarter: restarter,
		Probes: supervisor.ProbeSet{
			A2S:     probe.NewA2SProbe(querier, queryTimeout),
			Process: probe.NewProcessProbe(executorFactory, commandTimeout),
		},
		Metrics: m,
		DryRun:  config.Settings.DryRun,
	})
	if err != nil {
		return fmt.Errorf("failed to create supervisor: %w", err)
	}

	servers, err := serverStore.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list servers: %w", err)
	}
	started := 0
	for _, server := range servers {
		if server.MonitoringEnabled() {
			sup.Start(server.ID)
			started++
		}
	}
	logger.Infof("Monitoring %d of %d servers", started, len(servers))

	pollInterval, _ := config.Monitoring.StatusPollIntervalDuration()
	cacheTTL, _ := config.Monitoring.StatusCacheTTLDuration()

	statusPoller, err := poller.NewStatusPoller(serverStore, querier, cacheStore,
		pollInterval, cacheTTL, queryTimeout, m)
	if err != nil {
		return fmt.Errorf("failed to create status poller: %w", err)
	}
	if err := statusPoller.Start(); err != nil {
		return err
	}
	defer statusPoller.Stop()

	var versionPoller *poller.VersionPoller
	if config.Monitoring.VersionURL != "" {
		source, err := version.NewHTTPSource(config.Monitoring.VersionURL)
		if err != nil {
			return err
		}
		versionInterval, _ := config.Monitoring.VersionPollIntervalDuration()
		versionPoller, err = poller.NewVersionPoller(source, cacheStore, versionInterval, m)
		if err != nil {
			return fmt.Errorf("failed to create version poller: %w", err)
		}
		if err := versionPoller.Start(); err != nil {
			return err
		}
		defer versionPoller.Stop()
	} else {
		logger.Debugf("No version URL configured, version poller disabled")
	}

	var healthServer *health.Server
	if config.Health.Enabled {
		healthServer, err = health.NewServer(config.Health, poller.NewReader(cacheStore),
			events, limiter, sup, registry)
		if err != nil {
			return fmt.Errorf("failed to create health server: %w", err)
		}
		healthServer.AddCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		if mysqlStore, ok := serverStore.(*store.MySQLStore); ok {
			healthServer.AddCheck("database", mysqlStore.Ping)
		}
		if err := healthServer.Start(); err != nil {
			return err
		}
		defer healthServer.Stop()
		healthServer.SetReady(true)
	}

	logger.Infof("GameServer Doctor started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.Infof("Received signal %v, initiating graceful shutdown", sig)

	cancel()
	if err := sup.StopAll(shutdownTimeout); err != nil {
		logger.WithError(err).Warnf("Monitor loops did not stop cleanly")
	}
	logger.Infof("Graceful shutdown completed")
	return nil
}

// buildServerStore selects the persistence backend: MySQL when a DSN is
// configured, otherwise the static fleet from the configuration file.
func buildServerStore(ctx context.Context, config *types.Config) (types.ServerStore, func(), error) {
	if config.Database.DSN != "" {
		mysqlStore, err := store.NewMySQLStore(ctx, config.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		logger.Infof("Using MySQL server store")
		return mysqlStore, func() { mysqlStore.Close() }, nil
	}

	logger.Infof("No database configured, using static fleet of %d servers", len(config.Servers))
	return store.NewMemoryStore(config.Servers), func() {}, nil
}

// loadConfiguration loads the config file and applies flag overrides.
func loadConfiguration() (*types.Config, error) {
	config, err := util.LoadConfigOrDefault(*configPath)
	if err != nil {
		return nil, err
	}

	if *logLevel != "" {
		config.Settings.LogLevel = *logLevel
	}
	if *logFormat != "" {
		config.Settings.LogFormat = *logFormat
	}
	if *dryRun {
		config.Settings.DryRun = true
	}

	// Overrides bypass file validation, so validate again.
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func printVersion() {
	fmt.Printf("GameServer Doctor %s\n", Version)
	fmt.Printf("  Git commit: %s\n", GitCommit)
	fmt.Printf("  Built:      %s\n", BuildTime)
}
