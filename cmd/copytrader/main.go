// Command copytrader replicates a leader account's futures trades onto a set
// of follower accounts. The run subcommand reads leader commands as JSON
// lines from stdin and mirrors every market fill; a background loop
// reconciles position drift.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"copytrader/internal/alert"
	"copytrader/internal/config"
	"copytrader/internal/core"
	"copytrader/internal/credentials"
	"copytrader/internal/exchange"
	"copytrader/internal/metrics"
	"copytrader/internal/replicate"
	"copytrader/internal/sizing"
	"copytrader/internal/syncer"
	"copytrader/pkg/concurrency"
	"copytrader/pkg/crypto"
	"copytrader/pkg/logging"
	"copytrader/pkg/telemetry"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := flag.NewFlagSet("copytrader", flag.ContinueOnError)
	configPath := flags.String("config", "configs/copytrader.yaml", "Path to configuration file")
	showVersion := flags.Bool("version", false, "Show version and exit")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if *showVersion {
		fmt.Printf("copytrader version %s (built %s)\n", version, buildTime)
		return 0
	}

	command := "run"
	rest := flags.Args()
	if len(rest) > 0 {
		command = rest[0]
		rest = rest[1:]
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	switch command {
	case "run":
		return runService(cfg, logger)
	case "test":
		return runTest(cfg, logger, rest)
	case "sync":
		return runSync(cfg, logger, rest)
	case "status":
		return runStatus(cfg, logger)
	case "validate":
		return runValidate(cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s (want run, test, sync, status or validate)\n", command)
		return 1
	}
}

// app bundles the wired components shared by the subcommands.
type app struct {
	registry *exchange.Registry
	store    *credentials.Store
	engine   *replicate.Engine
	syncer   *syncer.Syncer
	pool     *concurrency.WorkerPool
}

func buildApp(cfg *config.Config, logger core.ILogger) (*app, error) {
	var key []byte
	if cfg.App.EncryptionKey != "" {
		var err error
		key, err = crypto.ParseKey(cfg.App.EncryptionKey.Value())
		if err != nil {
			return nil, fmt.Errorf("bad encryption key: %w", err)
		}
	}

	registry := exchange.NewRegistry(cfg, logger)
	store := credentials.NewStore(cfg.App.CredentialsFile, key, logger)
	params := sizing.ParamsFromConfig(&cfg.Replication)
	engine := replicate.NewEngine(registry, store, params, logger)

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "followers",
		MaxWorkers:  cfg.Concurrency.FollowerPoolSize,
		MaxCapacity: cfg.Concurrency.FollowerPoolBuffer,
	}, logger)

	return &app{
		registry: registry,
		store:    store,
		engine:   engine,
		syncer:   syncer.New(registry, store, params, cfg.Sync, pool, logger),
		pool:     pool,
	}, nil
}

// buildAlerts wires the configured notification channels. With nothing
// configured the manager stays empty and Notify is a no-op.
func buildAlerts(cfg *config.Config, logger core.ILogger) *alert.Manager {
	m := alert.NewManager(logger)
	if url := cfg.Alerts.SlackWebhookURL.Value(); url != "" {
		m.AddChannel(alert.NewSlackChannel(url))
	}
	if token := cfg.Alerts.TelegramBotToken.Value(); token != "" {
		m.AddChannel(alert.NewTelegramChannel(token, cfg.Alerts.TelegramChatID))
	}
	return m
}

func (a *app) shutdown(ctx context.Context) {
	a.registry.CloseAll(ctx)
	a.pool.Stop()
}

// runService is the long-running mode: commands on stdin, replication and
// reconciliation in the background, metrics on the side.
func runService(cfg *config.Config, logger core.ILogger) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting copytrader", "version", version)
	logger.Info("effective configuration", "config", cfg.String())

	if cfg.Telemetry.EnableMetrics {
		tel, err := telemetry.Setup("copytrader", cfg.System.LogLevel == "DEBUG")
		if err != nil {
			logger.Warn("failed to initialize telemetry", "error", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tel.Shutdown(shutdownCtx); err != nil {
					logger.Warn("telemetry shutdown failed", "error", err)
				}
			}()
		}
	}

	a, err := buildApp(cfg, logger)
	if err != nil {
		logger.Error("failed to build components", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.shutdown(shutdownCtx)
	}()

	alerts := buildAlerts(cfg, logger)
	defer alerts.Flush()
	a.syncer.WithAlerts(alerts)

	dispatcher := replicate.NewDispatcher(a.registry, a.engine, logger).WithAlerts(alerts)

	var metricsSrv *metrics.Server
	if cfg.Telemetry.EnableMetrics {
		metricsSrv = metrics.NewServer(cfg.Telemetry.MetricsPort, logger)
		metricsSrv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsSrv.Stop(shutdownCtx)
		}()
	}

	if cfg.Sync.Enabled {
		if err := a.syncer.Start(); err != nil {
			logger.Error("failed to start sync loop", "error", err)
			return 1
		}
		defer a.syncer.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return commandLoop(gctx, dispatcher, os.Stdin, os.Stdout, logger)
	})
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		logger.Error("command loop failed", "error", err)
		return 1
	}
	logger.Info("shutting down")
	return 0
}

// commandLoop reads one JSON command per input line and executes it
// serially, printing one JSON result per line. EOF ends the loop. Reading
// happens in a separate goroutine so a canceled context unblocks the loop
// even while the reader sits on an idle stdin.
func commandLoop(ctx context.Context, dispatcher *replicate.Dispatcher, in io.Reader, out io.Writer, logger core.ILogger) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	enc := json.NewEncoder(out)
	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line = <-lines:
		}
		if line == "" {
			continue
		}

		var cmd core.Command
		if err := json.Unmarshal([]byte(line), &cmd); err != nil {
			logger.Error("unparseable command line", "error", err)
			enc.Encode(map[string]string{"status": "failed", "message": fmt.Sprintf("bad command: %v", err)})
			continue
		}

		result := dispatcher.Execute(ctx, &cmd)
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	}
}

// runTest probes connectivity for one account: adapter build, equity,
// positions, and a BTC/USDT ticker read.
func runTest(cfg *config.Config, logger core.ILogger, args []string) int {
	flags := flag.NewFlagSet("test", flag.ContinueOnError)
	userID := flags.String("user-id", "", "Account to probe (defaults to the leader)")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := buildApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build components: %v\n", err)
		return 1
	}
	defer a.shutdown(ctx)

	var adapter core.IExchangeAdapter
	if *userID == "" || *userID == cfg.App.LeaderUserID {
		adapter, err = a.registry.Leader(ctx)
	} else {
		adapter, err = a.followerAdapter(ctx, *userID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Adapter unavailable: %v\n", err)
		return 1
	}
	fmt.Printf("adapter ready: %s (%s)\n", adapter.UserID(), adapter.Name())

	equity, err := adapter.GetAccountValueUSDT(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Equity read failed: %v\n", err)
		return 1
	}
	fmt.Printf("account value: %s USDT\n", equity.StringFixed(2))

	positions, err := adapter.GetPositions(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Position read failed: %v\n", err)
		return 1
	}
	fmt.Printf("open positions: %d\n", len(positions))
	for _, p := range positions {
		fmt.Printf("  %s %s %s @ %s (%sx)\n",
			p.Symbol, p.Side, p.Contracts, p.EntryPrice, p.Leverage)
	}

	if ticker, err := adapter.GetTicker(ctx, "BTC/USDT"); err == nil {
		fmt.Printf("BTC/USDT price: %s\n", ticker.Price())
	}

	fmt.Println("connection test passed")
	return 0
}

func (a *app) followerAdapter(ctx context.Context, userID string) (core.IExchangeAdapter, error) {
	followers, err := a.store.LoadFollowers(false)
	if err != nil {
		return nil, err
	}
	for _, desc := range followers {
		if desc.UserID == userID {
			return a.registry.Get(ctx, &desc)
		}
	}
	return nil, fmt.Errorf("no credentials for user %s", userID)
}

// runSync performs a single reconciliation pass and prints the report.
func runSync(cfg *config.Config, logger core.ILogger, args []string) int {
	flags := flag.NewFlagSet("sync", flag.ContinueOnError)
	dryRun := flags.Bool("dry-run", false, "Report actions without placing orders")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if *dryRun {
		cfg.Sync.DryRun = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	a, err := buildApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build components: %v\n", err)
		return 1
	}
	defer a.shutdown(ctx)

	report, err := a.syncer.RunOnce(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sync failed: %v\n", err)
		return 1
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	if report.Outcome != syncer.CycleSuccess {
		return 1
	}
	return 0
}

// runStatus prints the effective configuration and the follower roster.
func runStatus(cfg *config.Config, logger core.ILogger) int {
	fmt.Print(cfg.String())

	a, err := buildApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build components: %v\n", err)
		return 1
	}

	followers, err := a.store.LoadFollowers(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load credential store: %v\n", err)
		return 1
	}

	copyEnabled := 0
	for _, f := range followers {
		if f.CopyEnabled {
			copyEnabled++
		}
	}
	fmt.Printf("accounts: total=%d copy_enabled=%d leader=%s@%s\n",
		len(followers), copyEnabled, cfg.App.LeaderUserID, cfg.App.LeaderExchange)
	for _, f := range followers {
		fmt.Printf("  %s @ %s copy_enabled=%t\n", f.UserID, f.ExchangeID, f.CopyEnabled)
	}
	return 0
}

// runValidate checks the configuration and that every active credential
// entry decrypts.
func runValidate(cfg *config.Config, logger core.ILogger) int {
	// LoadConfig already validated the yaml; what remains is the store.
	a, err := buildApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build components: %v\n", err)
		return 1
	}

	checked, err := a.store.Validate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Credential store invalid: %v\n", err)
		return 1
	}
	fmt.Printf("configuration valid, %d credential entries checked\n", checked)
	return 0
}
