package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/evalgo/regwatch/model"
)

// subscriptionCmd groups the administrative operations against individual
// subscriptions: list, enable, disable, and run-now. Each is a single DB write (or
// read) and exits; none of them touch the bus.
var subscriptionCmd = &cobra.Command{
	Use:   "subscription",
	Short: "manage subscription schedules",
}

func init() {
	subscriptionCmd.AddCommand(subscriptionListCmd)
	subscriptionCmd.AddCommand(subscriptionEnableCmd)
	subscriptionCmd.AddCommand(subscriptionDisableCmd)
	subscriptionCmd.AddCommand(subscriptionRunNowCmd)
}

var subscriptionListCmd = &cobra.Command{
	Use:   "list",
	Short: "list all subscriptions",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
		defer cancel()

		d, err := wire(ctx)
		if err != nil {
			log.Fatalf("regwatch: %v", err)
		}
		defer d.close()

		subs, err := d.subscriptions.List(ctx)
		if err != nil {
			log.Fatalf("regwatch: list subscriptions: %v", err)
		}
		for _, s := range subs {
			next := "—"
			if s.NextRunAt != nil {
				next = s.NextRunAt.Format("2006-01-02T15:04:05Z07:00")
			}
			fmt.Printf("%d\t%s\t%s\t%s\tnext=%s\n", s.ID, s.Jurisdiction, s.Schedule, s.Status, next)
		}
	},
}

var subscriptionEnableCmd = &cobra.Command{
	Use:   "enable [id]",
	Short: "mark a subscription ACTIVE",
	Args:  cobra.ExactArgs(1),
	Run:   setSubscriptionStatus(model.SubscriptionActive),
}

var subscriptionDisableCmd = &cobra.Command{
	Use:   "disable [id]",
	Short: "mark a subscription DISABLED",
	Args:  cobra.ExactArgs(1),
	Run:   setSubscriptionStatus(model.SubscriptionDisabled),
}

func setSubscriptionStatus(status model.SubscriptionStatus) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		id, err := parseID(args[0])
		if err != nil {
			log.Fatalf("regwatch: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
		defer cancel()

		d, err := wire(ctx)
		if err != nil {
			log.Fatalf("regwatch: %v", err)
		}
		defer d.close()

		if err := d.subscriptions.SetStatus(ctx, id, status); err != nil {
			log.Fatalf("regwatch: set subscription %d status: %v", id, err)
		}
		fmt.Printf("subscription %d is now %s\n", id, status)
	}
}

var subscriptionRunNowCmd = &cobra.Command{
	Use:   "run-now [id]",
	Short: "set a subscription's next_run_at to now so the next tick picks it up immediately",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := parseID(args[0])
		if err != nil {
			log.Fatalf("regwatch: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
		defer cancel()

		d, err := wire(ctx)
		if err != nil {
			log.Fatalf("regwatch: %v", err)
		}
		defer d.close()

		if err := d.subscriptions.TriggerNow(ctx, id); err != nil {
			log.Fatalf("regwatch: trigger subscription %d: %v", id, err)
		}
		fmt.Printf("subscription %d queued for the next tick\n", id)
	},
}

func parseID(s string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid subscription id %q", s)
	}
	return id, nil
}
