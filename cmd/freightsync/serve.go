package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/freight-sync/api"
	"github.com/warp/freight-sync/freight"
	memstore "github.com/warp/freight-sync/freight/store"
	"github.com/warp/freight-sync/store/sqlite"
)

const shutdownTimeout = 30 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().String("db", "", `SQLite path, or ":memory:" for process memory (overrides server.db)`)
	serveCmd.Flags().String("scenario", "", "Load a demo scenario at startup")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the trip store API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		cfg.Server.Addr = v
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.Server.DB = v
	}

	// Initialize store
	store, closeStore, err := openTripStore(cfg.Server.DB)
	if err != nil {
		return err
	}
	defer closeStore()

	if id, _ := cmd.Flags().GetString("scenario"); id != "" {
		seeder, ok := store.(api.Seeder)
		if !ok {
			return errors.New("store does not support scenarios")
		}
		if err := api.LoadScenario(cmd.Context(), seeder, id, time.Now().UTC()); err != nil {
			return err
		}
		logger.Info("scenario loaded", zap.String("scenario", id))
	}

	handler := api.NewHandler(store, logger.Named("api"))
	return listenAndServe(cfg.Server.Addr, api.NewRouter(handler), logger)
}

func openTripStore(path string) (freight.TripStore, func(), error) {
	if path == "" || path == ":memory:" {
		return memstore.NewMemory(), func() {}, nil
	}
	s, err := sqlite.New(path)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { s.Close() }, nil
}

// listenAndServe runs handler on addr until SIGINT/SIGTERM, then drains
// active requests.
func listenAndServe(addr string, handler http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
