package cli

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/evalgo/regwatch/cron"
	"github.com/evalgo/regwatch/scheduler"
)

// batchTimeout bounds a single out-of-band batch command; the daemon's own tick
// loops have no such bound since they run forever, but a manually invoked
// command should never hang a script indefinitely.
const batchTimeout = 30 * time.Second

var tickBatchSize int

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "claim due subscriptions and schedule their runs, once",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
		defer cancel()

		d, err := wire(ctx)
		if err != nil {
			log.Fatalf("regwatch: %v", err)
		}
		defer d.close()

		svc := scheduler.NewTickService(d.pg, 0, tickBatchSize)
		n, err := svc.Tick(ctx)
		if err != nil {
			log.Fatalf("regwatch: tick failed: %v", err)
		}
		fmt.Printf("scheduled %d run(s)\n", n)
	},
}

var nextFireBatchSize int

var computeNextCmd = &cobra.Command{
	Use:   "compute-next",
	Short: "compute next_run_at for subscriptions missing one, once",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
		defer cancel()

		d, err := wire(ctx)
		if err != nil {
			log.Fatalf("regwatch: %v", err)
		}
		defer d.close()

		svc := scheduler.NewNextFireService(d.pg, cron.NewStandardEvaluator(), 0, nextFireBatchSize)
		n, err := svc.Compute(ctx)
		if err != nil {
			log.Fatalf("regwatch: compute-next failed: %v", err)
		}
		fmt.Printf("computed next_run_at for %d subscription(s)\n", n)
	},
}

var dispatchBatchSize int

var dispatchOutboxCmd = &cobra.Command{
	Use:   "dispatch-outbox",
	Short: "publish pending outbox entries onto the bus, once",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
		defer cancel()

		d, err := wire(ctx)
		if err != nil {
			log.Fatalf("regwatch: %v", err)
		}
		defer d.close()

		svc := scheduler.NewDispatcherService(d.pg, d.bus, 0, dispatchBatchSize)
		n, err := svc.Dispatch(ctx)
		if err != nil {
			log.Fatalf("regwatch: dispatch-outbox failed: %v", err)
		}
		fmt.Printf("dispatched %d outbox entr(y/ies)\n", n)
	},
}

func init() {
	tickCmd.Flags().IntVar(&tickBatchSize, "batch-size", 100, "maximum subscriptions to claim")
	computeNextCmd.Flags().IntVar(&nextFireBatchSize, "batch-size", 100, "maximum subscriptions to compute")
	dispatchOutboxCmd.Flags().IntVar(&dispatchBatchSize, "batch-size", 200, "maximum outbox entries to dispatch")
}
