// Command certflow issues wildcard certificates for tenants and keeps the
// hosted zone in line with the tenant DNS records.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "certflow",
		Short: "Multi-tenant ACME certificate issuance and DNS reconciliation",
		Long: `certflow issues *.<tenant>.<root> certificates through ACME DNS-01
challenges and reconciles the Route 53 hosted zone against the records it
stores.

Configuration comes from the environment (a .env file is read when present).`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newTenantCmd(),
		newIssueCmd(),
		newRecordCmd(),
		newReconcileCmd(),
		newArchiveCmd(),
		newAccountKeyCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}
