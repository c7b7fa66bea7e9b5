package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ehr/clinicdata/internal/platform/db"
	"github.com/ehr/clinicdata/internal/platform/realtime"
	"github.com/ehr/clinicdata/internal/platform/store"
	"github.com/ehr/clinicdata/migrations"
	"github.com/ehr/clinicdata/pkg/dataaccess"
)

func migrationFiles(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			cfg, _, pool, err := setup(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running migrations on schema: %s\n", cfg.MigrationsSchema)
			count, err := db.NewMigrator(pool, migrationFiles(dir)).Up(ctx, cfg.MigrationsSchema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(out, "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from a directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			cfg, _, pool, err := setup(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationFiles(dir)).Status(ctx, cfg.MigrationsSchema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), cfg.MigrationsSchema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from a directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// changePrinter writes every bus event as one JSON line.
func changePrinter(w io.Writer) realtime.Handler {
	enc := json.NewEncoder(w)
	return func(_ context.Context, event string, c realtime.Change) {
		_ = enc.Encode(map[string]any{"event": event, "change": c})
	}
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print row changes of a table as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			table, _ := cmd.Flags().GetString("table")
			if table == "" {
				return fmt.Errorf("--table is required")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			_, logger, pool, err := setup(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			bus := realtime.NewBus()
			mgr := realtime.NewManager(realtime.NewPGSource(pool), bus, logger)
			defer mgr.Close()

			off := bus.On(realtime.EventName(table), changePrinter(cmd.OutOrStdout()))
			defer off()

			sub, err := mgr.Subscribe(ctx, table)
			if err != nil {
				return err
			}
			defer sub.Close()

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().String("table", "", "Table to watch")
	return cmd
}

// parseFilters turns "column=value" pairs into equality filters, read the
// same way as query-string filters on /tables.
func parseFilters(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filters := make(map[string]any, len(pairs))
	for _, p := range pairs {
		col, val, ok := strings.Cut(p, "=")
		if !ok || col == "" {
			return nil, fmt.Errorf("filter %q must look like column=value", p)
		}
		if !store.ValidIdentifier(col) {
			return nil, fmt.Errorf("filter %q: invalid column name", p)
		}
		filters[col] = store.FilterValue(val)
	}
	return filters, nil
}

func fetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch rows through the data access client",
		RunE: func(cmd *cobra.Command, args []string) error {
			table, _ := cmd.Flags().GetString("table")
			columns, _ := cmd.Flags().GetStringSlice("select")
			rawFilters, _ := cmd.Flags().GetStringArray("filter")
			limit, _ := cmd.Flags().GetUint64("limit")
			follow, _ := cmd.Flags().GetBool("follow")
			if table == "" {
				return fmt.Errorf("--table is required")
			}
			filters, err := parseFilters(rawFilters)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, logger, pool, err := setup(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			mode, _ := realtime.ParseMode(cfg.RealtimeMode)
			bus := realtime.NewBus()
			mgr := realtime.NewManager(realtime.NewPGSource(pool), bus, logger, realtime.WithMode(mode))
			defer mgr.Close()

			client := dataaccess.New(store.New(pool), logger,
				dataaccess.WithRealtime(mgr),
				dataaccess.WithSubscribeOnFetch(follow))
			defer client.Close()

			out := cmd.OutOrStdout()
			if follow {
				off := client.On(table, changePrinter(out))
				defer off()
			}

			rows := client.Fetch(ctx, table, dataaccess.FetchOptions{Columns: columns, Filters: filters, Limit: limit})
			enc := json.NewEncoder(out)
			for _, r := range rows {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			if follow {
				<-ctx.Done()
			}
			return nil
		},
	}
	cmd.Flags().String("table", "", "Table to read")
	cmd.Flags().StringSlice("select", nil, "Columns to return (default all)")
	cmd.Flags().StringArray("filter", nil, "Equality filter column=value, repeatable")
	cmd.Flags().Uint64("limit", 0, "Maximum rows (0 for no limit)")
	cmd.Flags().Bool("follow", false, "Keep running and print changes to the table")
	return cmd
}
