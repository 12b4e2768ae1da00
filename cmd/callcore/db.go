package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/morezero/callcore/internal/config"
	"github.com/morezero/callcore/pkg/db"
)

// openDB loads config and connects to DATABASE_URL.
func openDB(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the invocation journal schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Run database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			files, err := db.LoadMigrationFiles(cfg.MigrationPath)
			if err != nil {
				return fmt.Errorf("load migrations: %w", err)
			}
			if err := db.RunMigrations(ctx, pool, files); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			_, err = db.MigrationStatus(ctx, pool, cfg.MigrationPath)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration (forward-only, prints a notice)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			return db.MigrationDown(ctx, pool, cfg.MigrationPath)
		},
	})

	return cmd
}

func clearCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove invocation journal rows; schema is preserved",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			var before time.Time
			if olderThan > 0 {
				before = time.Now().Add(-olderThan)
			}
			n, err := db.ClearJournal(ctx, pool, before)
			if err != nil {
				return fmt.Errorf("clear journal: %w", err)
			}
			if n < 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Journal truncated.")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d journal rows.\n", n)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only delete rows started more than this long ago (default: all rows)")
	return cmd
}

// targetDatabaseURL replaces the database name in databaseURL, keeping the
// query (e.g. sslmode).
func targetDatabaseURL(databaseURL, dbName string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	if dbName != "" {
		u.Path = "/" + dbName
	}
	return u.String(), nil
}

func ensureDBCmd() *cobra.Command {
	var extensions []string

	cmd := &cobra.Command{
		Use:   "ensure-db [name]",
		Short: "Create the database if missing, on the DATABASE_URL host",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.ValidateForDB(); err != nil {
				return err
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			target, err := targetDatabaseURL(cfg.DatabaseURL, name)
			if err != nil {
				return err
			}
			if err := db.EnsureDatabase(cmd.Context(), target, extensions...); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database is ready.")
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&extensions, "extension", nil, "Extensions to enable (repeatable)")
	return cmd
}
