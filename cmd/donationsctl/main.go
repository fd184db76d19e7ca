// Command donationsctl runs administrative tasks against the donation ledger.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/noor/donation-service/internal/config"
	"github.com/noor/donation-service/internal/logging"
	"github.com/noor/donation-service/internal/store"
	"github.com/spf13/cobra"
)

var Version = "dev"

var databaseURL string

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, closer := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	defer closer.Close()
	slog.SetDefault(logger)

	rootCmd := &cobra.Command{
		Use:           "donationsctl",
		Short:         "Administrative tasks for the donation ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", cfg.DatabaseURL, "PostgreSQL connection string (defaults to DATABASE_URL)")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(reconcileCmd(logger))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		closer.Close()
		os.Exit(1)
	}
}

// openRepository connects to the database and applies the schema.
func openRepository(ctx context.Context) (*store.PostgresRepository, func(), error) {
	if databaseURL == "" {
		return nil, nil, errors.New("a database is required: set DATABASE_URL or --database-url")
	}
	pool, err := store.OpenPool(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	repo := store.NewPostgresRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return repo, pool.Close, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the ledger tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, closeDB, err := openRepository(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}
