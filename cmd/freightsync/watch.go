package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/freight-sync/api"
	"github.com/warp/freight-sync/client"
	"github.com/warp/freight-sync/config"
	"github.com/warp/freight-sync/freight"
	memstore "github.com/warp/freight-sync/freight/store"
	"github.com/warp/freight-sync/store/redis"
	"github.com/warp/freight-sync/store/sqlite"
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().String("addr", "", "Engine API listen address (overrides engine.addr)")
	watchCmd.Flags().String("store-url", "", "Store API base URL (overrides engine.store_url)")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the synchronization engine and its API",
	Long: `Runs the engine against a store API. The poller refreshes trips on
engine.poll_interval and on every force-refresh; events are logged.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		cfg.Engine.Addr = v
	}
	if v, _ := cmd.Flags().GetString("store-url"); v != "" {
		cfg.Engine.StoreURL = v
	}

	engine, closeKV, err := buildEngine(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeKV()

	unsubscribe := logEvents(engine.Bus(), logger.Named("events"))
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)
	defer engine.Stop()

	handler := api.NewEngineHandler(engine, logger.Named("api"))
	return listenAndServe(cfg.Engine.Addr, api.NewEngineRouter(handler), logger)
}

// buildEngine wires an engine over the configured store API and cache
// backend. The returned func releases the cache backend.
func buildEngine(ctx context.Context, cfg config.Config, logger *zap.Logger) (*freight.Engine, func(), error) {
	kv, closeKV, err := openKV(ctx, cfg.Cache)
	if err != nil {
		return nil, nil, err
	}

	store := client.New(cfg.Engine.StoreURL, cfg.Engine.RequestTimeout.Duration)
	engine := freight.New(store, kv,
		freight.WithLogger(logger.Named("engine")),
		freight.WithPollInterval(cfg.Engine.PollInterval.Duration),
		freight.WithPODAutoFix(cfg.Engine.AutoFixPOD),
		freight.WithAdjacencyEnforcement(cfg.Engine.EnforceAdjacency),
		freight.WithRetention(cfg.Engine.SuccessRetention.Duration, cfg.Engine.FailureRetention.Duration),
	)
	logger.Info("engine ready",
		zap.String("store_url", cfg.Engine.StoreURL),
		zap.String("cache", cfg.Cache.Backend))
	return engine, closeKV, nil
}

func openKV(ctx context.Context, cfg config.CacheConfig) (freight.KV, func(), error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case config.BackendRedis:
		kv := redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err := kv.Ping(ctx); err != nil {
			kv.Close()
			return nil, nil, err
		}
		return kv, func() { kv.Close() }, nil
	case config.BackendMemory:
		return memstore.NewMemoryKV(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

func logEvents(bus *freight.EventBus, logger *zap.Logger) (unsubscribe func()) {
	return bus.SubscribeMany(func(e freight.Event) {
		switch ev := e.(type) {
		case freight.PaymentStatusChanged:
			logger.Info("payment status changed",
				zap.String("trip_id", ev.TripID),
				zap.String("field", string(ev.PaymentType)),
				zap.String("from", string(ev.OldStatus)),
				zap.String("to", string(ev.NewStatus)),
				zap.Bool("trip_status_changed", ev.TripStatusChanged))
		case freight.TripStatusChanged:
			logger.Info("trip status changed",
				zap.String("trip_id", ev.TripID),
				zap.String("from", string(ev.OldStatus)),
				zap.String("to", string(ev.NewStatus)),
				zap.String("reason", ev.Reason))
		case freight.TripsRefreshed:
			logger.Debug("trips refreshed",
				zap.Int("trips", len(ev.Trips)),
				zap.Int("changes", len(ev.Changes)))
		case freight.AmountChangeDetected:
			logger.Warn("balance amount changed",
				zap.String("trip_id", ev.TripID),
				zap.String("reference", ev.Reference.String()),
				zap.String("current", ev.Current.String()))
		}
	},
		freight.EventPaymentStatusChanged,
		freight.EventTripStatusChanged,
		freight.EventTripsRefreshed,
		freight.EventAmountChangeDetected,
	)
}
