// Command backfill assigns a governance status to catalog entries created
// before the review workflow existed. Runs are serialized across processes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/erp/postingengine/internal/application/governance"
	"github.com/erp/postingengine/internal/bootstrap"
	"github.com/erp/postingengine/internal/infrastructure/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	var (
		dryRun    bool
		ids       string
		batchSize int
	)
	flag.BoolVar(&dryRun, "dry-run", false, "Report decisions without writing them")
	flag.StringVar(&ids, "ids", "", "Comma-separated catalog entry ids (default: every entry)")
	flag.IntVar(&batchSize, "batch-size", 0, "Entries per transaction (default: governance.backfill_batch_size)")
	flag.Parse()

	entryIDs, err := parseIDs(ids)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid -ids: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if batchSize <= 0 {
		batchSize = cfg.Governance.BackfillBatchSize
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log, logs, err := bootstrap.NewLogger(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	app, err := bootstrap.New(ctx, cfg, log, logs)
	if err != nil {
		log.Fatal("Failed to initialize application", zap.Error(err))
	}

	report, err := app.Governance.Backfill(ctx, governance.BackfillOptions{
		EntryIDs:  entryIDs,
		DryRun:    dryRun,
		BatchSize: batchSize,
	})
	closeErr := app.Close(context.Background())
	if err != nil {
		log.Error("Backfill failed", zap.Error(err))
		os.Exit(1)
	}
	if closeErr != nil {
		log.Warn("Error releasing resources", zap.Error(closeErr))
	}

	log.Info("Backfill finished",
		zap.Bool("dry_run", report.DryRun),
		zap.Int("scanned", report.Scanned),
		zap.Int("approved", report.Approved),
		zap.Int("pending", report.Pending),
		zap.Int("skipped", report.Skipped),
	)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Error("Failed to write report", zap.Error(err))
		os.Exit(1)
	}
}

func parseIDs(raw string) ([]uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []uuid.UUID
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := uuid.Parse(part)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", part, err)
		}
		out = append(out, id)
	}
	return out, nil
}
