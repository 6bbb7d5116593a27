package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixgeelhaar/studyloop/internal/config"
	"github.com/felixgeelhaar/studyloop/internal/daemon"
	mcpserver "github.com/felixgeelhaar/studyloop/internal/mcp"
)

// cmdMCP serves the study tools over MCP on stdio. It wires the same
// services as the daemon without opening the HTTP listener.
func cmdMCP() error {
	env, err := config.Load()
	if err != nil {
		return fmt.Errorf("load environment: %w", err)
	}
	dir, err := config.EnsureDir()
	if err != nil {
		return fmt.Errorf("ensure studyloop dir: %w", err)
	}
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// stdout carries the protocol; logs go to stderr
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := daemon.NewServer(ctx, daemon.ServerConfig{Config: cfg, Env: env, Dir: dir})
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	svc := srv.Services()
	mcpSrv := mcpserver.NewServer(mcpserver.Config{
		Sessions:  svc.Sessions,
		Resources: svc.Resources,
		Scores:    svc.Scores,
		Version:   Version,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return mcpSrv.ServeStdio(ctx)
}
