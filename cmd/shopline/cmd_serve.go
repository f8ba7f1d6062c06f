package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/shopline/internal/scheduler"
	"github.com/user/shopline/internal/telegram"
	"github.com/user/shopline/internal/webhook"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the shopline daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, "shopline.pid")
}

func writePIDFile(dataDir string) (string, error) {
	path := pidPath(dataDir)
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	pidFile, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("shopline started",
		"data_dir", cfg.DataDir,
		"catalog", cfg.CatalogPath(),
		"log_level", cfg.LogLevel,
		"llm_model", cfg.LLM.Model,
		"max_connections", cfg.Gateway.MaxConnections,
		"pid_file", pidFile,
	)

	// Telegram adapter
	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, a.chat, a.gateway, nil)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	// Maintenance
	sched := scheduler.New(nil)
	for _, job := range scheduler.MaintenanceJobs(a.gateway, cfg.Maintenance.Schedule, cfg.Maintenance.StatsSchedule, nil) {
		if err := sched.Add(job); err != nil {
			return err
		}
	}
	sched.Start()
	defer sched.Stop()

	// HTTP surface
	var httpSrv *webhook.Server
	if cfg.HTTP.Enabled {
		httpSrv = webhook.NewServer(a.gateway, a.chat, a.registry, nil)
		go func() {
			if err := httpSrv.Start(cfg.HTTP.Listen); err != nil {
				slog.Error("http server error", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidFile)
			a.Close()
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				return fmt.Errorf("re-exec: %w", err)
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		if httpSrv != nil {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("http shutdown incomplete", "error", err)
			}
			stop()
		}
		return nil
	}
}
