package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stakeledger/config"
	"stakeledger/core/events"
	"stakeledger/core/genesis"
	"stakeledger/core/state"
	"stakeledger/native/bank"
	"stakeledger/native/staking"
	"stakeledger/observability"
	"stakeledger/observability/logging"
	"stakeledger/rpc"
	"stakeledger/storage"
	"stakeledger/storage/eventlog"
)

const genesisPathEnv = "STAKE_GENESIS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to the genesis YAML file (overrides STAKE_GENESIS and config GenesisFile)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup("stakingd", cfg.Environment, logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	if err := run(cfg, resolveGenesisPath(*genesisFlag, cfg.GenesisFile), logger); err != nil {
		logger.Error("stakingd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func resolveGenesisPath(flagValue, configValue string) string {
	if path := strings.TrimSpace(flagValue); path != "" {
		return path
	}
	if path := strings.TrimSpace(os.Getenv(genesisPathEnv)); path != "" {
		return path
	}
	return strings.TrimSpace(configValue)
}

func run(cfg *config.Config, genesisPath string, logger *slog.Logger) error {
	logger.Info("starting stakingd",
		slog.String("listen", cfg.ListenAddress),
		slog.String("dataDir", cfg.DataDir),
		slog.Bool("authEnabled", cfg.Auth.Enabled),
		logging.MaskField("hmacSecret", cfg.Auth.HMACSecret),
		slog.String("eventLogDriver", cfg.EventLog.Driver))
	if genesisPath == "" {
		return errors.New("genesis file required: pass -genesis, set STAKE_GENESIS or GenesisFile")
	}
	gen, err := config.LoadGenesis(genesisPath)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ledger := bank.NewLedger(db)
	store := state.NewStakingStore(db)
	engine, err := staking.NewEngine(genesis.EngineConfig(gen))
	if err != nil {
		return fmt.Errorf("configure engine: %w", err)
	}
	engine.SetState(store)
	engine.SetTokenLedger(ledger)
	engine.SetLogger(logger.With(slog.String("module", "staking")))

	emitters := events.Fanout{observability.Events(), logEmitter{logger: logger}}
	var eventStore *eventlog.Store
	if cfg.EventLog.DSN != "" {
		eventStore, err = eventlog.Open(cfg.EventLog.Driver, cfg.EventLog.DSN)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		defer eventStore.Close()
		eventStore.SetLogger(logger)
		emitters = append(emitters, eventStore)
	}
	engine.SetEmitter(emitters)

	applied, err := genesis.Apply(gen, engine, ledger)
	if err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	if applied {
		logger.Info("genesis applied", slog.String("owner", gen.Owner.Hex()), slog.Int("rewardTokens", len(gen.RewardTokens)))
	}

	var query rpc.EventQuery
	if eventStore != nil {
		query = eventStore
	}
	server, err := rpc.NewServer(engine, ledger, query, rpc.ServerConfig{
		Auth: rpc.AuthConfig{
			Enabled:   cfg.Auth.Enabled,
			Secret:    cfg.Auth.HMACSecret,
			Issuer:    cfg.Auth.Issuer,
			Audience:  cfg.Auth.Audience,
			ClockSkew: cfg.Auth.ClockSkew(),
		},
		RateLimit: rpc.RateLimit{
			RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
			Burst:             cfg.RateLimit.Burst,
		},
		DevMint: cfg.DevMint,
	}, logger.With(slog.String("module", "rpc")))
	if err != nil {
		return fmt.Errorf("configure rpc: %w", err)
	}
	for _, warning := range startupWarnings(cfg) {
		logger.Warn(warning)
	}

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, promhttp.Handler())
	}
	router.Handle("/", server)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeoutDuration(),
		WriteTimeout: cfg.WriteTimeoutDuration(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("rpc listening", slog.String("addr", listener.Addr().String()))
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.Any("error", err))
	}
	return nil
}

// logEmitter writes every ledger event as a structured log line.
type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	rendered := events.Render(evt)
	if rendered == nil {
		return
	}
	attrs := make([]any, 0, len(rendered.Attributes)+1)
	attrs = append(attrs, slog.String("type", rendered.Type))
	for k, v := range rendered.Attributes {
		attrs = append(attrs, slog.String(k, v))
	}
	l.logger.Info("ledger event", attrs...)
}

// startupWarnings lists the insecure settings cfg runs with.
func startupWarnings(cfg *config.Config) []string {
	var out []string
	if !cfg.Auth.Enabled {
		out = append(out, "rpc auth disabled; any client can act as any caller, including the owner")
	}
	if cfg.DevMint {
		out = append(out, "bank_mint enabled; never run this configuration in production")
	}
	return out
}
