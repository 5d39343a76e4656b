package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"assetforge/internal/bootstrap"
	"assetforge/internal/infra"
)

func main() {
	var (
		logFlag     string
		timeoutFlag time.Duration
	)
	flag.StringVar(&logFlag, "log", "", "recovery log to replay (defaults to RECOVERY_LOG_PATH)")
	flag.DurationVar(&timeoutFlag, "timeout", 5*time.Minute, "overall time limit")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	if path := strings.TrimSpace(logFlag); path != "" {
		cfg.RecoveryLogPath = path
	}
	logger := infra.NewLogger("cli", cfg.LogLevel).With().Str("cmd", "reconcile").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), timeoutFlag)
	defer cancel()

	svc, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		exitWithError(fmt.Errorf("failed to build services: %w", err))
	}
	defer svc.Close()

	report, err := svc.Reconcile(ctx, logger)
	if err != nil {
		exitWithError(fmt.Errorf("reconcile failed: %w", err))
	}
	fmt.Printf("scanned=%d restored=%d present=%d skipped=%d\n", report.Scanned, report.Restored, report.Present, report.Skipped)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
