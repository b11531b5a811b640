package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/certflow/core/config"
	"github.com/dmitrymomot/certflow/core/dnsrecord"
	"github.com/dmitrymomot/certflow/core/letsencrypt"
	"github.com/dmitrymomot/certflow/core/store"
	"github.com/dmitrymomot/certflow/integration/database/pg"
	"github.com/dmitrymomot/certflow/integration/storage/s3"
)

// withRuntime opens the shared infrastructure for the duration of fn.
func withRuntime(fn func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(cmd.Context(), rt, cmd, args)
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: withRuntime(func(ctx context.Context, rt *runtime, _ *cobra.Command, _ []string) error {
			pool, err := rt.postgres(ctx)
			if err != nil {
				return err
			}
			var cfg pg.Config
			if err := config.Load(&cfg); err != nil {
				return err
			}
			return pg.Migrate(ctx, pool, cfg, rt.log)
		}),
	}
}

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tenant", Short: "Manage tenants"}

	var address string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			t := &store.Tenant{Name: args[0], Email: address}
			if err := rt.store.CreateTenant(ctx, t); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.ID)
			return nil
		}),
	}
	add.Flags().StringVar(&address, "email", "", "notification address")
	cmd.AddCommand(add)
	return cmd
}

func newIssueCmd() *cobra.Command {
	var (
		tenant string
		wait   bool
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Request a wildcard certificate for a tenant",
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, _ []string) error {
			t, err := rt.store.GetTenantByName(ctx, tenant)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, rt)
			if err != nil {
				return err
			}
			if err := a.wirePipeline(ctx); err != nil {
				return err
			}

			cert, err := a.pipeline.RequestCertificate(ctx, t.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "certificate %s requested for %s\n", cert.ID, cert.Domain)

			// Memory backends only live as long as this process.
			if !wait && rt.cfg.StoreBackend != backendMemory {
				return nil
			}
			cert, err = a.waitForCertificate(ctx, cert.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "certificate %s %s\n", cert.ID, cert.Status)
			if cert.Status != store.CertificateIssued {
				return fmt.Errorf("certificate %s ended %s", cert.ID, cert.Status)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant name")
	cmd.Flags().BoolVar(&wait, "wait", false, "run the workers in this process until the certificate leaves pending")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

// waitForCertificate runs the queue in the background and polls the
// certificate until it is issued or failed.
func (a *app) waitForCertificate(ctx context.Context, id uuid.UUID) (*store.Certificate, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.run(ctx)() }()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-done:
			if err == nil {
				err = errors.New("queue stopped before the certificate finished")
			}
			return nil, err
		case <-ticker.C:
			cert, err := a.rt.store.GetCertificate(ctx, id)
			if err != nil {
				return nil, err
			}
			if cert.Status != store.CertificatePending {
				return cert, nil
			}
		}
	}
}

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "record", Short: "Manage tenant DNS records"}

	var tenant string
	cmd.PersistentFlags().StringVar(&tenant, "tenant", "", "tenant name")
	_ = cmd.MarkPersistentFlagRequired("tenant")

	// withRecords resolves the tenant and builds the record service.
	withRecords := func(fn func(ctx context.Context, a *app, t *store.Tenant, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
		return withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			t, err := rt.store.GetTenantByName(ctx, tenant)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, rt)
			if err != nil {
				return err
			}
			return fn(ctx, a, t, cmd, args)
		})
	}

	var ttl time.Duration
	add := &cobra.Command{
		Use:   "add <subdomain> <type> <value>",
		Short: "Create a record",
		Args:  cobra.ExactArgs(3),
		RunE: withRecords(func(ctx context.Context, a *app, t *store.Tenant, cmd *cobra.Command, args []string) error {
			in := dnsrecord.RecordInput{Subdomain: args[0], Type: store.RecordType(args[1]), Value: args[2]}
			if ttl > 0 {
				expires := time.Now().Add(ttl)
				in.ExpiresAt = &expires
			}
			r, err := a.records.CreateRecord(ctx, t.ID, in)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), r.ID)
			return nil
		}),
	}
	add.Flags().DurationVar(&ttl, "expires-in", 0, "stop serving the record after this duration")

	list := &cobra.Command{
		Use:   "list",
		Short: "List records",
		RunE: withRecords(func(ctx context.Context, a *app, t *store.Tenant, cmd *cobra.Command, _ []string) error {
			records, err := a.records.ListRecords(ctx, t.ID)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSUBDOMAIN\tTYPE\tVALUE\tSTATUS")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Subdomain, r.Type, r.Value, r.Status)
			}
			return w.Flush()
		}),
	}

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(1),
		RunE: withRecords(func(ctx context.Context, a *app, t *store.Tenant, _ *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("record id: %w", err)
			}
			return a.records.DeleteRecord(ctx, t.ID, id)
		}),
	}

	cmd.AddCommand(add, list, rm)
	return cmd
}

func newReconcileCmd() *cobra.Command {
	var now bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Mark the zone for reconciliation, or reconcile it now",
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, _ []string) error {
			if err := rt.flag.SetReconciliationNeeded(ctx, true); err != nil {
				return err
			}
			if !now {
				fmt.Fprintln(cmd.OutOrStdout(), "reconciliation requested")
				return nil
			}
			a, err := newApp(ctx, rt)
			if err != nil {
				return err
			}
			res, err := a.reconciler.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d changes, %d applied, %d failed\n",
				res.Outcome, res.Changes, res.Applied, res.Failed)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&now, "now", false, "reconcile in this process instead of raising the flag")
	return cmd
}

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "archive", Short: "Read archived certificate bundles"}
	cmd.AddCommand(&cobra.Command{
		Use:   "fetch <domain> <certificate-id>",
		Short: "Print an archived bundle as PEM",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg s3.Config
			if err := config.Load(&cfg); err != nil {
				return err
			}
			if !cfg.Enabled() {
				return errors.New("S3_BUCKET is not set")
			}
			archive, err := s3.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			b, err := archive.Fetch(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, b.CertificatePEM, b.ChainPEM, b.PrivateKeyPEM)
			return nil
		},
	})
	return cmd
}

func newAccountKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "account-key",
		Short: "Generate an ACME account key for ACME_ACCOUNT_KEY",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := letsencrypt.GenerateAccountKey()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), key)
			return nil
		},
	}
}
