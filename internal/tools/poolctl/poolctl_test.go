package poolctl

import (
	"bytes"
	"context"
	"flag"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("poolctl", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.DBPath != filepath.Join("data", "entropyd.db") {
		t.Fatalf("expected default db path, got %q", cfg.DBPath)
	}
	if cfg.Status || cfg.Refill || cfg.Flush {
		t.Fatal("no action should be selected by default")
	}
}

func TestRunRequiresExactlyOneAction(t *testing.T) {
	err := Run(context.Background(), Config{DBPath: filepath.Join(t.TempDir(), "pool.db")}, nil, nil)
	if err == nil {
		t.Fatal("expected error when no action is selected")
	}

	err = Run(context.Background(), Config{
		DBPath: filepath.Join(t.TempDir(), "pool.db"),
		Status: true,
		Refill: true,
	}, nil, nil)
	if err == nil {
		t.Fatal("expected error when two actions are selected")
	}
}

func TestRunRefillStatusFlushCycle(t *testing.T) {
	// Both external providers fail, so refill lands on the csprng tier
	// without leaving the process.
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	cfg := Config{
		DBPath:         filepath.Join(t.TempDir(), "pool.db"),
		QuantumURL:     failing.URL,
		AtmosphericURL: failing.URL,
		PoolTarget:     32,
	}

	var out, errOut bytes.Buffer
	refillCfg := cfg
	refillCfg.Refill = true
	if err := Run(context.Background(), refillCfg, &out, &errOut); err != nil {
		t.Fatalf("refill: %v", err)
	}
	if !strings.Contains(out.String(), "32 values remaining, source csprng") {
		t.Fatalf("unexpected refill output: %q", out.String())
	}

	out.Reset()
	statusCfg := cfg
	statusCfg.Status = true
	if err := Run(context.Background(), statusCfg, &out, &errOut); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out.String(), "32 values remaining") {
		t.Fatalf("unexpected status output: %q", out.String())
	}

	out.Reset()
	flushCfg := cfg
	flushCfg.Flush = true
	if err := Run(context.Background(), flushCfg, &out, &errOut); err != nil {
		t.Fatalf("flush: %v", err)
	}

	out.Reset()
	if err := Run(context.Background(), statusCfg, &out, &errOut); err != nil {
		t.Fatalf("status after flush: %v", err)
	}
	if !strings.Contains(out.String(), "pool: absent") {
		t.Fatalf("expected absent pool after flush, got %q", out.String())
	}
}

func TestRunStatusJSON(t *testing.T) {
	cfg := Config{
		DBPath:     filepath.Join(t.TempDir(), "pool.db"),
		Status:     true,
		JSONOutput: true,
	}
	var out bytes.Buffer
	if err := Run(context.Background(), cfg, &out, nil); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out.String(), `"exists":false`) {
		t.Fatalf("unexpected json output: %q", out.String())
	}
}
