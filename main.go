// Command regwatch runs the regulatory document ingestion daemon and its
// out-of-band control commands.
//
// Usage:
//
//	regwatch run                     start the daemon (stage workers + schedulers)
//	regwatch tick                    claim due subscriptions once
//	regwatch compute-next            precompute next_run_at once
//	regwatch dispatch-outbox         publish pending outbox entries once
//	regwatch subscription list       list subscriptions
//	regwatch subscription enable ID  mark a subscription ACTIVE
//	regwatch subscription disable ID mark a subscription DISABLED
//	regwatch subscription run-now ID trigger a subscription on the next tick
//
// Configuration is read from environment variables with the REGWATCH_ prefix;
// see config.LoadAppConfig for the full list and defaults.
package main

import (
	"log"

	"github.com/evalgo/regwatch/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
