// Package entropyd parses service flags and starts the draw runtime.
package entropyd

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/entropyd/entropyd/internal/draw"
	"github.com/entropyd/entropyd/internal/entropy"
	entrypoint "github.com/entropyd/entropyd/internal/platform/cmd"
	"github.com/entropyd/entropyd/internal/pool"
	poolsqlite "github.com/entropyd/entropyd/internal/pool/storage/sqlite"
	server "github.com/entropyd/entropyd/internal/services/draw/app"
)

// Config holds entropyd command configuration.
type Config struct {
	Port           int    `env:"ENTROPYD_PORT" envDefault:"8080"`
	Addr           string `env:"ENTROPYD_ADDR"`
	DBPath         string `env:"ENTROPYD_DB_PATH"`
	QuantumURL     string `env:"ENTROPYD_QUANTUM_URL"`
	AtmosphericURL string `env:"ENTROPYD_ATMOSPHERIC_URL"`
	PoolTarget     int    `env:"ENTROPYD_POOL_TARGET"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The draw API port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The draw API listen address (overrides -port)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the sqlite database file")
	fs.StringVar(&cfg.QuantumURL, "quantum-url", cfg.QuantumURL, "Quantum provider endpoint")
	fs.StringVar(&cfg.AtmosphericURL, "atmospheric-url", cfg.AtmosphericURL, "Atmospheric provider endpoint")
	fs.IntVar(&cfg.PoolTarget, "pool-target", cfg.PoolTarget, "Seed pool target size")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "entropyd.db")
	}
	return cfg, nil
}

// Run starts the draw API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceDraw, func(ctx context.Context) error {
		store, err := openPoolStore(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		sources := []entropy.Source{
			entropy.NewQuantumSource(cfg.QuantumURL),
			entropy.NewAtmosphericSource(cfg.AtmosphericURL),
			entropy.NewCSPRNGSource(),
		}
		manager := pool.NewManager(store, sources, pool.Config{TargetSize: cfg.PoolTarget})
		generator := draw.NewGenerator(manager, nil)
		sessions := draw.NewSessionService(store, manager, nil, nil)

		addr := cfg.Addr
		if addr == "" {
			addr = net.JoinHostPort("", strconv.Itoa(cfg.Port))
		}
		api := server.NewServer(addr, generator, manager, sessions)
		if err := api.ListenAndServe(ctx); err != nil {
			return fmt.Errorf("serve draw api: %w", err)
		}
		return nil
	})
}

func openPoolStore(path string) (*poolsqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	store, err := poolsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pool store: %w", err)
	}
	return store, nil
}
