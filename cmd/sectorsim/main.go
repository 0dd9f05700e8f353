// SectorSim runs the multi-sector agentic trading simulator: the per-sector
// simulation loops, the discussion and manager engines, and the REST API.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/sectorlabs/sectorsim/internal/api"
	"github.com/sectorlabs/sectorsim/internal/config"
	"github.com/sectorlabs/sectorsim/internal/discussion"
	"github.com/sectorlabs/sectorsim/internal/llm"
	"github.com/sectorlabs/sectorsim/internal/manager"
	"github.com/sectorlabs/sectorsim/internal/models"
	"github.com/sectorlabs/sectorsim/internal/orderbook"
	"github.com/sectorlabs/sectorsim/internal/pricesim"
	"github.com/sectorlabs/sectorsim/internal/scheduler"
	"github.com/sectorlabs/sectorsim/internal/sector"
	"github.com/sectorlabs/sectorsim/internal/status"
	"github.com/sectorlabs/sectorsim/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	logger := config.NewLogger("main")
	logger.Info().
		Str("environment", cfg.App.Environment).
		Bool("llm_enabled", cfg.LLM.Enabled).
		Msg("Starting SectorSim")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	db, err := store.Open(cfg.Storage.Dir, config.NewLogger("store"))
	if err != nil {
		// A store that cannot open means corrupt or inaccessible state.
		logger.Error().Err(err).Str("dir", cfg.Storage.Dir).Msg("Failed to open state store")
		return 2
	}

	var adapter llm.DecisionAdapter
	if cfg.LLM.Enabled {
		client := llm.NewHTTPClient(llm.ClientConfig{
			Endpoint:    cfg.LLM.Endpoint,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.GetTimeout(),
		})
		adapter = llm.NewAdapter(client, llm.AdapterConfig{
			MaxTokens:         cfg.LLM.MaxTokens,
			RequestsPerSecond: cfg.LLM.RequestsPerSecond,
			Seed:              cfg.Simulation.Seed,
		}, config.NewLogger("llm"))
	} else {
		adapter = llm.NewStaticAdapter()
	}

	statuses := status.NewService(db, config.NewLogger("status"))
	executor := orderbook.NewExecutor(db, config.NewLogger("execution"))
	mgr := manager.NewEngine(db, statuses, executor, config.NewLogger("manager"))
	discussions := discussion.NewEngine(db, statuses, mgr, adapter, config.NewLogger("discussion"))
	sectors := sector.NewService(db, config.NewLogger("sector"))
	sim := pricesim.New(cfg.Simulation.Seed)

	sched := scheduler.New(db, sim, discussions, mgr, config.NewLogger("scheduler"))
	sched.TickInterval = cfg.Simulation.GetTickInterval()
	sched.Rounds = cfg.Simulation.Rounds

	server := api.NewServer(api.Config{
		Host:        cfg.API.Host,
		Port:        cfg.API.Port,
		DB:          db,
		Discussions: discussions,
		Manager:     mgr,
		Statuses:    statuses,
		Sectors:     sectors,
		Scheduler:   sched,
		BaseContext: ctx,
	})

	schedErrors := make(chan error, 1)
	go func() {
		schedErrors <- sched.Run(ctx)
	}()
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	exitCode := 0
	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("Server error")
		exitCode = 1
	case err := <-schedErrors:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Scheduler error")
			if errors.Is(err, models.ErrStorage) {
				exitCode = 2
			} else {
				exitCode = 1
			}
		}
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	logger.Info().Msg("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop server gracefully")
		if exitCode == 0 {
			exitCode = 1
		}
	}

	logger.Info().Int("exit_code", exitCode).Msg("SectorSim stopped")
	return exitCode
}
