package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	entropydcmd "github.com/entropyd/entropyd/internal/cmd/entropyd"
)

func main() {
	cfg, err := entropydcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[ENTROPYD] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := entropydcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
