package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evalgo/regwatch/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print build and dependency information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.GetBuildInfo()
		fmt.Printf("regwatch %s (%s)\n", version.GetModuleVersion(), info.GoVersion)
		for _, dep := range info.Dependencies {
			fmt.Printf("  %s %s\n", dep.Path, dep.Version)
		}
	},
}

func init() {
	RootCmd.AddCommand(versionCmd)
}
