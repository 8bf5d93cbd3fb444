// Command retention-job runs one retention enforcement pass and prints the
// report as JSON. It is meant to be triggered by a scheduler.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/upb/decision-audit/backend/app"
	"github.com/upb/decision-audit/backend/config"
	"github.com/upb/decision-audit/backend/internal/observability"
	"github.com/upb/decision-audit/backend/models"
	"github.com/upb/decision-audit/backend/services/retention"
)

const jobActor = "retention-job"

type options struct {
	tenant       string
	artifactType string
	limit        int
	dryRun       bool
	initSchema   bool
	failOnErrors bool
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("retention-job", flag.ContinueOnError)
	opts := &options{}
	fs.StringVar(&opts.tenant, "tenant", "", "only enforce artifacts of this tenant")
	fs.StringVar(&opts.artifactType, "type", "", "only enforce artifacts of this type")
	fs.IntVar(&opts.limit, "limit", 0, "maximum artifacts to evaluate (0 uses the configured default)")
	fs.BoolVar(&opts.dryRun, "dry-run", true, "report what would be deleted without deleting")
	fs.BoolVar(&opts.initSchema, "init-schema", false, "create missing ledger tables first")
	fs.BoolVar(&opts.failOnErrors, "fail-on-errors", true, "exit non-zero when any deletion failed")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.limit < 0 {
		return nil, fmt.Errorf("-limit must not be negative")
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "retention-job: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, out io.Writer) error {
	cfg, err := config.New(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observability.NewZap(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := observability.InitTracing(ctx, jobActor, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(tctx)
	}()

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := deps.Close(cctx); err != nil {
			logger.Error("dependency shutdown failed", zap.Error(err))
		}
	}()

	if opts.initSchema {
		if err := deps.RepoFactory.InitSchema(ctx); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return enforce(ctx, deps.Retention, opts, out)
}

// Enforcer runs one enforcement pass
type Enforcer interface {
	Enforce(ctx context.Context, req *retention.EnforceRequest) (*models.RetentionReport, error)
}

func enforce(ctx context.Context, enforcer Enforcer, opts *options, out io.Writer) error {
	dryRun := opts.dryRun
	report, err := enforcer.Enforce(ctx, &retention.EnforceRequest{
		Tenant:       opts.tenant,
		ArtifactType: opts.artifactType,
		Limit:        opts.limit,
		DryRun:       &dryRun,
		Actor:        jobActor,
	})
	if report != nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil && err == nil {
			err = fmt.Errorf("write report: %w", encErr)
		}
	}
	if err != nil {
		return err
	}
	if opts.failOnErrors && report.Failed > 0 {
		return fmt.Errorf("%d artifact deletions failed", report.Failed)
	}
	return nil
}
