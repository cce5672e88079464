package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfold/papertrade/internal/config"
	"github.com/quantfold/papertrade/internal/feed"
	"github.com/quantfold/papertrade/internal/logging"
	"github.com/quantfold/papertrade/internal/models"
	"github.com/quantfold/papertrade/internal/services"
	"github.com/quantfold/papertrade/internal/services/risk"
	"github.com/quantfold/papertrade/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "papertrade: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
	}

	clock := services.RealClock{}
	sessions := services.NewSessionController(cfg.Engine.DefaultMode, clock, logger)
	classifier := services.NewRegimeClassifier(services.DefaultRegimeClassifierConfig())
	guard := services.NewExecutionGuard(services.ExecutionConfig{SlippagePercent: cfg.Engine.SlippagePercent})
	dailyGuard := risk.NewDailyGuard(redisClient, risk.DailyGuardConfig{
		MaxDailyLossPercent: cfg.Risk.MaxDailyLossPercent,
	})

	engineCfg := services.DefaultEngineConfig()
	engineCfg.DefaultMode = cfg.Engine.DefaultMode
	engineCfg.MaxConcurrentTrades = cfg.Engine.MaxConcurrentTrades
	engine := services.NewEngine(engineCfg, st, sessions, classifier, guard, dailyGuard, clock, logger)

	marketFeed := feed.NewSyntheticFeed(feed.DefaultSyntheticConfig(cfg.Engine.Symbols))

	if err := sessions.Start(); err != nil {
		return err
	}
	if err := st.AppendEvent(ctx, models.EngineEvent{
		Level:     models.EventInfo,
		Source:    "session",
		Message:   "session started in " + cfg.Engine.DefaultMode + " mode",
		CreatedAt: clock.Now(),
	}); err != nil {
		logger.Warn("failed to record startup event", zap.Error(err))
	}

	logger.Info("papertrade started",
		zap.String("driver", cfg.Database.Driver),
		zap.String("mode", cfg.Engine.DefaultMode),
		zap.Duration("tick_interval", cfg.Engine.TickInterval),
		zap.Strings("symbols", cfg.Engine.Symbols))

	return tickLoop(ctx, cfg, engine, sessions, dailyGuard, marketFeed, clock, logger)
}

// tickLoop drives the engine until the context is cancelled, resetting the
// session and guard at each UTC day boundary.
func tickLoop(
	ctx context.Context,
	cfg *config.Config,
	engine *services.Engine,
	sessions *services.SessionController,
	dailyGuard *risk.DailyGuard,
	marketFeed feed.Feed,
	clock services.Clock,
	logger *zap.Logger,
) error {
	ticker := time.NewTicker(cfg.Engine.TickInterval)
	defer ticker.Stop()

	currentDay := store.DayKey(clock.Now())

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
		}

		now := clock.Now()
		if day := store.DayKey(now); day != currentDay {
			if err := dailyGuard.Reset(ctx, currentDay); err != nil {
				logger.Warn("failed to reset daily guard", zap.Error(err))
			}
			snapshot := sessions.Snapshot()
			if snapshot.DailyHalt || snapshot.Status != models.SessionRunning {
				sessions.ResetDay()
				if err := sessions.Start(); err != nil {
					logger.Warn("failed to restart session for new day", zap.Error(err))
				}
			}
			currentDay = day
			logger.Info("day rolled over", zap.String("day", day))
		}

		market, err := marketFeed.Snapshot(ctx, now)
		if err != nil {
			logger.Warn("market feed failed, skipping tick", zap.Error(err))
			continue
		}

		result := engine.Tick(ctx, market)
		fields := []zap.Field{
			zap.Bool("success", result.Success),
			zap.String("mode", result.Mode),
			zap.Int("closed", result.Closed),
			zap.Int("opened", result.Opened),
			zap.Float64("aggression", result.Thermostat.Aggression),
			zap.String("equity", result.Stats.Equity.String()),
		}
		if result.Halted {
			fields = append(fields, zap.Bool("halted", true))
		}
		if len(result.Diagnostics) > 0 {
			fields = append(fields, zap.Strings("diagnostics", result.Diagnostics))
		}
		logger.Info("tick", fields...)
	}
}

// buildStore selects and initializes the persistence backend.
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to ping postgres: %w", err)
		}
		pg := store.NewPostgresStore(pool)
		if err := pg.ApplySchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := seedEquity(ctx, pg, cfg.Engine.StartingEquity); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pg, pool.Close, nil

	case "memory":
		return store.NewMemoryStore(decimal.NewFromFloat(cfg.Engine.StartingEquity)), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// seedEquity sets the starting balance only when the account row is still
// empty, so restarts keep the account's running equity.
func seedEquity(ctx context.Context, st store.Store, starting float64) error {
	equity, err := st.Equity(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return st.SetEquity(ctx, decimal.NewFromFloat(starting))
	}
	if err != nil {
		return err
	}
	if equity.IsZero() {
		return st.SetEquity(ctx, decimal.NewFromFloat(starting))
	}
	return nil
}
