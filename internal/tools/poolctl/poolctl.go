// Package poolctl provides offline maintenance commands for the seed pool
// database.
package poolctl

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/entropyd/entropyd/internal/entropy"
	"github.com/entropyd/entropyd/internal/pool"
	poolsqlite "github.com/entropyd/entropyd/internal/pool/storage/sqlite"
)

// Config holds poolctl command configuration.
type Config struct {
	DBPath         string
	QuantumURL     string
	AtmosphericURL string
	PoolTarget     int
	Timeout        time.Duration
	Status         bool
	Refill         bool
	Flush          bool
	JSONOutput     bool
}

type envConfig struct {
	DBPath         string        `env:"ENTROPYD_DB_PATH"`
	QuantumURL     string        `env:"ENTROPYD_QUANTUM_URL"`
	AtmosphericURL string        `env:"ENTROPYD_ATMOSPHERIC_URL"`
	PoolTarget     int           `env:"ENTROPYD_POOL_TARGET"`
	Timeout        time.Duration `env:"ENTROPYD_POOLCTL_TIMEOUT" envDefault:"1m"`
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var envCfg envConfig
	if err := env.Parse(&envCfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := Config{
		DBPath:         envCfg.DBPath,
		QuantumURL:     envCfg.QuantumURL,
		AtmosphericURL: envCfg.AtmosphericURL,
		PoolTarget:     envCfg.PoolTarget,
		Timeout:        envCfg.Timeout,
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "entropyd.db")
	}

	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the sqlite database (default: ENTROPYD_DB_PATH or data/entropyd.db)")
	fs.StringVar(&cfg.QuantumURL, "quantum-url", cfg.QuantumURL, "quantum provider endpoint")
	fs.StringVar(&cfg.AtmosphericURL, "atmospheric-url", cfg.AtmosphericURL, "atmospheric provider endpoint")
	fs.IntVar(&cfg.PoolTarget, "pool-target", cfg.PoolTarget, "seed pool target size")
	fs.BoolVar(&cfg.Status, "status", false, "print the pool snapshot")
	fs.BoolVar(&cfg.Refill, "refill", false, "force a pool refill from the provider chain")
	fs.BoolVar(&cfg.Flush, "flush", false, "delete the stored pool")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the poolctl command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}

	actions := 0
	for _, selected := range []bool{cfg.Status, cfg.Refill, cfg.Flush} {
		if selected {
			actions++
		}
	}
	if actions != 1 {
		return errors.New("exactly one of -status, -refill or -flush is required")
	}

	store, err := poolsqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open pool store: %w", err)
	}
	defer store.Close()

	switch {
	case cfg.Flush:
		if err := store.DeletePool(ctx); err != nil {
			return fmt.Errorf("flush pool: %w", err)
		}
		fmt.Fprintln(out, "pool flushed")
		return nil
	case cfg.Refill:
		manager := newManager(store, cfg, errOut)
		record, err := manager.Refill(ctx)
		if err != nil {
			return fmt.Errorf("refill pool: %w", err)
		}
		return printStatus(out, cfg.JSONOutput, statusReport{
			Exists:    true,
			Remaining: len(record.Values),
			Source:    record.Provenance.String(),
		})
	default:
		manager := newManager(store, cfg, errOut)
		status, err := manager.Status(ctx)
		if err != nil {
			return fmt.Errorf("pool status: %w", err)
		}
		report := statusReport{
			Exists:     status.Exists,
			Remaining:  status.Remaining,
			AgeMinutes: status.AgeMinutes,
		}
		if status.Exists {
			report.Source = status.Provenance.String()
		}
		return printStatus(out, cfg.JSONOutput, report)
	}
}

type statusReport struct {
	Exists     bool   `json:"exists"`
	Remaining  int    `json:"remaining"`
	Source     string `json:"source,omitempty"`
	AgeMinutes int    `json:"age_minutes"`
}

func newManager(store *poolsqlite.Store, cfg Config, errOut io.Writer) *pool.Manager {
	sources := []entropy.Source{
		entropy.NewQuantumSource(cfg.QuantumURL),
		entropy.NewAtmosphericSource(cfg.AtmosphericURL),
		entropy.NewCSPRNGSource(),
	}
	logf := func(format string, args ...any) {
		fmt.Fprintf(errOut, format+"\n", args...)
	}
	return pool.NewManager(store, sources, pool.Config{TargetSize: cfg.PoolTarget, Logf: logf})
}

func printStatus(out io.Writer, jsonOutput bool, report statusReport) error {
	if jsonOutput {
		encoder := json.NewEncoder(out)
		return encoder.Encode(report)
	}
	if !report.Exists {
		fmt.Fprintln(out, "pool: absent")
		return nil
	}
	fmt.Fprintf(out, "pool: %d values remaining, source %s, age %dm\n",
		report.Remaining, report.Source, report.AgeMinutes)
	return nil
}
