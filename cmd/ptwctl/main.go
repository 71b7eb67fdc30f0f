package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set via ldflags at build time
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "ptwctl",
	Short: "ptwctl - Permit-to-work administration from the command line",
	Long:  `ptwctl manages permits to work against a PTW Core server.`,
	Example: `  # Connect to a server and list active permits
  ptwctl login https://ptw.company.com
  ptwctl permit list --status active

  # Walk a permit through its lifecycle
  ptwctl permit transition <permit-id> submitted
  ptwctl permit transition <permit-id> under_review --comments "checked on site"`,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "permit", Title: "Permit Commands:"},
		&cobra.Group{ID: "server", Title: "Server Commands:"},
		&cobra.Group{ID: "admin", Title: "Admin Commands:"},
	)

	permitCmd.GroupID = "permit"
	kpisCmd.GroupID = "permit"
	typesCmd.GroupID = "permit"

	loginCmd.GroupID = "server"

	outboxCmd.GroupID = "admin"
	webhooksCmd.GroupID = "admin"

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(permitCmd)
	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(kpisCmd)
	rootCmd.AddCommand(outboxCmd)
	rootCmd.AddCommand(webhooksCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
