// Command keyctl manages API keys and inspects the usage log directly
// against the gateway database.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"media_gateway/internal/config"
	"media_gateway/internal/storage"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "keyctl",
		Short:         "Media gateway key administration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		migrateCmd(),
		createCmd(),
		listCmd(),
		deleteCmd(),
		statsCmd(),
		exportLogsCmd(),
	)

	return cmd
}

// openDB connects using the same DATABASE_* settings as the gateway
func openDB(ctx context.Context) (*storage.DB, error) {
	_ = config.LoadDotEnv()

	dbCfg, err := config.LoadDatabase()
	if err != nil {
		return nil, err
	}

	cfg := storage.DefaultDBConfig()
	cfg.Driver = dbCfg.Driver
	cfg.DSN = dbCfg.URL
	cfg.MaxOpenConns = 2
	cfg.MaxIdleConns = 1
	cfg.RecordCacheSize = 0

	db, err := storage.NewDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if dbCfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

// withDB runs fn with an open database and closes it afterwards
func withDB(cmd *cobra.Command, fn func(ctx context.Context, db *storage.DB) error) error {
	ctx := cmd.Context()
	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, db)
}
