package devapi

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/optisync/internal/devapi"
	"github.com/unkn0wn-root/optisync/internal/platform/config"
	"github.com/unkn0wn-root/optisync/internal/platform/logging"
)

const shutdownTimeout = 5 * time.Second

// Config holds the development backend configuration.
type Config struct {
	Addr     string `env:"ATTIES_DEVAPI_ADDR"      envDefault:"localhost:8090"`
	DSN      string `env:"ATTIES_DEVAPI_DSN"       envDefault:":memory:"`
	Seed     bool   `env:"ATTIES_DEVAPI_SEED"      envDefault:"true"`
	LogLevel string `env:"ATTIES_LOG_LEVEL"        envDefault:"info"`
}

// ParseConfig reads the environment, then lets flags override it.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	fs.StringVar(&cfg.DSN, "dsn", cfg.DSN, "sqlite database file (:memory: for a throwaway store)")
	fs.BoolVar(&cfg.Seed, "seed", cfg.Seed, "load demo members, auctions and artworks into an empty store")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run serves the backend until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	logger, err := logging.NewZap(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := devapi.Open(cfg.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	if cfg.Seed {
		if err := store.Seed(ctx); err != nil {
			return fmt.Errorf("seed store: %w", err)
		}
		logger.Info("store seeded", zap.String("refresh_token", devapi.DevRefreshToken))
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           devapi.NewServer(store, logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	logger.Info("devapi listening", zap.String("addr", cfg.Addr))
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err := srv.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
