// Package cli provides the command-line interface for the regulatory document
// ingestion daemon. This package orchestrates the complete application lifecycle:
// configuration loading, storage/queue/database wiring, stage-worker registration,
// scheduler service startup, and graceful shutdown handling.
//
// Architecture Overview:
//
//	CLI → Configuration → Stores/Bus/ObjectStore → Stage Registry → Runner
//	                                              ↘ Scheduler Services
//	                                              ↘ Run-status Aggregator Service
//
// The daemon is designed for containerized deployment with 12-factor app
// principles, configured via environment variables (REGWATCH_ prefix); an optional
// YAML file passed with --config overrides the connection settings.
package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/evalgo/regwatch/common"
	"github.com/evalgo/regwatch/config"
	"github.com/evalgo/regwatch/cron"
	"github.com/evalgo/regwatch/db"
	"github.com/evalgo/regwatch/queue"
	"github.com/evalgo/regwatch/runstatus"
	"github.com/evalgo/regwatch/scheduler"
	"github.com/evalgo/regwatch/stages"
	"github.com/evalgo/regwatch/storage"
)

// RootCmd is the top-level command for the regwatch binary and has no action of
// its own: "run" starts the ingestion daemon, while "tick", "compute-next",
// "dispatch-outbox", and the subscription control commands run a single batch
// operation and exit.
//
// Example Usage:
//
//	# Run the daemon (stage workers + scheduler services)
//	regwatch run
//
//	# Force one scheduler tick out of band
//	regwatch tick --batch-size 50
var RootCmd = &cobra.Command{
	Use:   "regwatch",
	Short: "regulatory document ingestion pipeline",
	Long: `regwatch

A pipeline that watches regulatory sources on a schedule, crawls new or changed
documents, parses and versions their content, computes diffs between versions,
and delivers the result downstream.

The daemon subscribes a static registry of stage handlers (subscription-scheduled,
crawl, parse, version, deliver) to their bus topics and runs three independent
scheduler services: the tick that claims due subscriptions, the next-fire
computer that assigns the next run time, and the outbox dispatcher that publishes
committed outbox entries onto the bus.

Configuration is read from environment variables (REGWATCH_ prefix) and,
optionally, a YAML file supplying connection overrides; see
config.LoadAppConfig and config.AppConfig.ApplyYAMLFile.`,
}

// cfgFile optionally points at a YAML file overlaying connection settings onto the
// environment-derived AppConfig; see config.AppConfig.ApplyYAMLFile.
var cfgFile string

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional YAML file with connection overrides")
	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(tickCmd)
	RootCmd.AddCommand(computeNextCmd)
	RootCmd.AddCommand(dispatchOutboxCmd)
	RootCmd.AddCommand(subscriptionCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the ingestion daemon (stage workers + scheduler services)",
	Run:   runDaemon,
}

// deps bundles every wired dependency the daemon and the batch commands share, so
// each command builds exactly one of these rather than repeating the wiring.
type deps struct {
	pg      *db.PostgresDB
	bus     *queue.AMQPBus
	objects *storage.ObjectStore

	sources       *db.SourceStore
	subscriptions *db.SubscriptionStore
	artifacts     *db.ArtifactStore
	documents     *db.DocumentStore
	deliveries    *db.DeliveryStore
	outbox        *db.OutboxStore
	runs          *db.RunStore
	audit         *db.AuditStore

	cfg config.AppConfig
}

// wire loads configuration and connects to Postgres, AMQP, and the object store.
// Callers must call close() when done.
func wire(ctx context.Context) (*deps, error) {
	cfg := config.LoadAppConfig("REGWATCH")
	if cfgFile != "" {
		if err := cfg.ApplyYAMLFile(cfgFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("cli: invalid configuration: %w", err)
	}

	pg, err := db.NewPostgresDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("cli: connect to postgres: %w", err)
	}

	bus, err := queue.NewAMQPBus(cfg.AMQPURL)
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("cli: connect to amqp: %w", err)
	}

	objects, err := storage.NewMinIOObjectStore(ctx, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Region, cfg.S3Bucket)
	if err != nil {
		bus.Close()
		pg.Close()
		return nil, fmt.Errorf("cli: connect to object store: %w", err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		bus.Close()
		pg.Close()
		return nil, fmt.Errorf("cli: ensure object store bucket: %w", err)
	}

	return &deps{
		pg:            pg,
		bus:           bus,
		objects:       objects,
		sources:       db.NewSourceStore(pg),
		subscriptions: db.NewSubscriptionStore(pg),
		artifacts:     db.NewArtifactStore(pg),
		documents:     db.NewDocumentStore(pg),
		deliveries:    db.NewDeliveryStore(pg),
		outbox:        db.NewOutboxStore(pg),
		runs:          db.NewRunStore(pg),
		audit:         db.NewAuditStore(pg),
		cfg:           cfg,
	}, nil
}

func (d *deps) close() {
	d.bus.Close()
	d.pg.Close()
}

// runDaemon builds the full dependency graph, registers all five stage handlers,
// starts the stage runner, the three scheduler services, and the run-status
// aggregator, then blocks until SIGINT or SIGTERM.
func runDaemon(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := wire(ctx)
	if err != nil {
		log.Fatalf("regwatch: startup failed: %v", err)
	}
	defer d.close()

	registry := stages.NewRegistry()
	registry.Register(stages.NewSubsScheduledHandler(d.subscriptions, d.sources, d.bus))
	registry.Register(stages.NewCrawlHandler(d.sources, d.artifacts, d.objects, d.bus, stages.NewSourceRateLimiter()))
	registry.Register(stages.NewParseHandler(d.documents, d.objects, d.bus))
	registry.Register(stages.NewVersionHandler(d.documents, d.objects, d.bus))
	registry.Register(stages.NewDeliverHandler(d.documents, d.deliveries, d.objects, d.bus))

	runner := stages.NewRunner(d.bus, registry)
	if err := runner.Start(ctx); err != nil {
		log.Fatalf("regwatch: start stage runner: %v", err)
	}

	statusSvc := runstatus.NewService(d.bus, d.runs)
	if err := statusSvc.Start(ctx); err != nil {
		log.Fatalf("regwatch: start run-status service: %v", err)
	}

	tickSvc := scheduler.NewTickService(d.pg, d.cfg.TickInterval, d.cfg.TickBatchSize)
	go tickSvc.Run(ctx)

	nextFireSvc := scheduler.NewNextFireService(d.pg, cron.NewStandardEvaluator(), d.cfg.NextFireInterval, d.cfg.NextFireBatchSize)
	go nextFireSvc.Run(ctx)

	dispatchSvc := scheduler.NewDispatcherService(d.pg, d.bus, d.cfg.DispatchInterval, d.cfg.DispatchBatchSize)
	go dispatchSvc.Run(ctx)

	common.Logger.Info("regwatch daemon started")

	<-ctx.Done()
	common.Logger.Info("shutting down, draining in-flight work")
	time.Sleep(5 * time.Second)
}
