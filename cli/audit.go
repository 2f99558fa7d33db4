package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/evalgo/regwatch/audit"
)

var auditByVersion bool

var auditCmd = &cobra.Command{
	Use:   "audit [id]",
	Short: "print the reconstructed event timeline for a document or version",
	Long: `Reconstructs the full outbox/run/artifact/version/delivery timeline for a
document (default) or a single document version (--version), and prints it as
indented JSON.`,
	Args: cobra.ExactArgs(1),
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

		reconstructor := audit.NewReconstructor(d.documents, d.runs, d.artifacts, d.audit)

		var timeline []audit.Event
		if auditByVersion {
			timeline, err = reconstructor.ForVersion(ctx, id)
		} else {
			timeline, err = reconstructor.ForDocument(ctx, id)
		}
		if err != nil {
			log.Fatalf("regwatch: reconstruct timeline: %v", err)
		}

		out, err := json.MarshalIndent(timeline, "", "  ")
		if err != nil {
			log.Fatalf("regwatch: marshal timeline: %v", err)
		}
		fmt.Println(string(out))
	},
}

func init() {
	auditCmd.Flags().BoolVar(&auditByVersion, "version", false, "treat id as a document_version id instead of a document id")
	RootCmd.AddCommand(auditCmd)
}
