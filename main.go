package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"math/rand"
	"net/http"
	ossignal "os/signal"
	"syscall"
	"time"

	"bracketbot/config"
	"bracketbot/internal/adapters/binanceclient"
	"bracketbot/internal/adapters/logger"
	"bracketbot/internal/adapters/metrics"
	"bracketbot/internal/adapters/proposalfile"
	"bracketbot/internal/adapters/sqlite"
	"bracketbot/internal/allocator"
	"bracketbot/internal/bracket"
	"bracketbot/internal/costmodel"
	"bracketbot/internal/signal"
	"bracketbot/internal/sizing"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// Root context cancels on SIGINT/SIGTERM; the manager drains its current
	// pass before exiting.
	ctx, stop := signalContext()
	defer stop()

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:      cfg.APIKey,
		SecretKey:   cfg.SecretKey,
		UseTestnet:  cfg.IsTestnet,
		Logger:      appLogger,
		ATRInterval: cfg.ATRInterval,
		RetryBase:   cfg.RetryBaseDelay,
		RetryMax:    cfg.RetryMaxAttempts,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(context.Background(), "Binance client initialized")

	// 5. Initialize Proposal Source
	source, err := proposalfile.New(cfg.ProposalFile, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize proposal source")
		log.Fatalf("FATAL: Failed to initialize proposal source: %v", err)
	}

	// 6. Initialize Core Engines
	costModel := costmodel.New(costmodel.Config{
		TakerFeeBps: cfg.TakerFeeBps,
		SlippageBps: cfg.SlippageBps,
		ImpactCoeff: cfg.ImpactCoeff,
	})
	evaluator, err := signal.NewEvaluator(signal.Config{MinRR: cfg.MinRR}, costModel, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize proposal evaluator")
		log.Fatalf("FATAL: Failed to initialize proposal evaluator: %v", err)
	}

	sizer, err := sizing.NewEngine(sizing.Config{
		EnableKelly:    cfg.EnableKelly,
		KellyCap:       cfg.KellyCap,
		KellyFloor:     cfg.KellyFloor,
		RiskPerTrade:   cfg.RiskPerTrade,
		DefaultRR:      cfg.DefaultRR,
		MinSamples:     cfg.MinKellySamples,
		StatsWindow:    cfg.StatsWindow,
		QuantityStep:   cfg.QuantityStep,
		SetupCaps:      cfg.SetupCaps,
		InstrumentCaps: cfg.InstrumentCaps,
	}, repo, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize sizing engine")
		log.Fatalf("FATAL: Failed to initialize sizing engine: %v", err)
	}

	alloc, err := allocator.New(allocator.Config{
		Mode:        allocator.Mode(cfg.BanditMode),
		UCBC:        cfg.UCBC,
		StatsWindow: cfg.StatsWindow,
	}, repo, rand.New(rand.NewSource(time.Now().UnixNano())), appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize allocator")
		log.Fatalf("FATAL: Failed to initialize allocator: %v", err)
	}
	appLogger.Info(context.Background(), "Core engines initialized", map[string]interface{}{"banditMode": cfg.BanditMode, "kelly": cfg.EnableKelly})

	// 7. Metrics endpoint (optional)
	var metricSet *metrics.Set
	if cfg.MetricsAddr != "" {
		var handler http.Handler
		metricSet, handler = metrics.New()
		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			appLogger.Info(context.Background(), "Metrics endpoint listening", map[string]interface{}{"addr": cfg.MetricsAddr})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error(context.Background(), err, "Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// 8. Initialize Bracket Manager
	manager, err := bracket.NewManager(ctx, bracket.Config{
		CashAsset:       cfg.CashAsset,
		MinNotional:     cfg.MinNotional,
		TrailATRMult:    cfg.TrailATRMult,
		BreakEvenAfterR: cfg.BreakEvenAfterR,
		Poll:            cfg.ManagerPoll,
		MaxOpenBrackets: cfg.MaxOpenBrackets,
		MaxConcurrent:   cfg.MaxConcurrent,
		EnableShorts:    cfg.EnableShorts,
		ATRPeriod:       cfg.ATRPeriod,
	}, binanceClient, repo, repo, source, evaluator, sizer, alloc, cfg.Setups, appLogger, metricSet)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize bracket manager")
		log.Fatalf("FATAL: Failed to initialize bracket manager: %v", err)
	}
	appLogger.Info(context.Background(), "Bracket manager initialized")

	// 9. Run until shutdown
	if err := manager.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error(context.Background(), err, "Bracket manager exited with error")
		log.Fatalf("FATAL: Bracket manager exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}

func signalContext() (context.Context, context.CancelFunc) {
	return ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
