package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"media_gateway/internal/config"
	"media_gateway/internal/models"
	"media_gateway/internal/storage"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd, func(ctx context.Context, db *storage.DB) error {
				if err := db.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func createCmd() *cobra.Command {
	var (
		plan    string
		limit   int
		days    int
		isAdmin bool
	)

	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create an API key",
		Long:  "Create an API key. Unset --limit and --days take the same FREE_DAILY_LIMIT, PAID_DAILY_LIMIT and DEFAULT_KEY_DAYS defaults as POST /admin/create.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = config.LoadDotEnv()
			keyLimit, keyDays := createDefaults(config.LoadPlans(), plan,
				limit, cmd.Flags().Changed("limit"),
				days, cmd.Flags().Changed("days"),
			)
			if keyLimit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			return withDB(cmd, func(ctx context.Context, db *storage.DB) error {
				k, err := db.NewAPIKeyRepository().Create(ctx, args[0], keyLimit, keyDays, isAdmin)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"KEY", "USERNAME", "LIMIT", "EXPIRES"},
					[][]string{{k.Key, k.Username, strconv.Itoa(k.DailyLimit), formatExpiry(k.ExpiresAt)}},
					2,
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&plan, "plan", "free", "Plan whose daily limit applies when --limit is unset (free|paid)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Daily request limit (default: the plan's limit)")
	cmd.Flags().IntVar(&days, "days", 0, "Validity in days; 0 never expires (default: DEFAULT_KEY_DAYS)")
	cmd.Flags().BoolVar(&isAdmin, "admin", false, "Mark the key as an admin key")

	return cmd
}

// createDefaults fills unset flags from the plan configuration
func createDefaults(plans config.PlanConfig, plan string, limit int, limitSet bool, days int, daysSet bool) (int, int) {
	if !limitSet {
		limit = plans.Limit(plan)
	}
	if !daysSet {
		days = plans.DefaultDays
	}
	return limit, days
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd, func(ctx context.Context, db *storage.DB) error {
				keys, err := db.NewAPIKeyRepository().List(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), keysTable(keys, time.Now()))
				return nil
			})
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, func(ctx context.Context, db *storage.DB) error {
				if err := db.NewAPIKeyRepository().Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "deleted")
				return nil
			})
		},
	}
}

func statsCmd() *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show usage statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd, func(ctx context.Context, db *storage.DB) error {
				keys := db.NewAPIKeyRepository()
				logs := db.NewLogRepository()

				keyCount, total, err := keys.Totals(ctx)
				if err != nil {
					return err
				}
				today, err := keys.RequestsToday(ctx)
				if err != nil {
					return err
				}
				rate, err := logs.ErrorRate(ctx, 7)
				if err != nil {
					return err
				}
				cached, err := db.NewCacheRepository().Count(ctx)
				if err != nil {
					return err
				}
				weekly, err := logs.DailyCountsForLastWeek(ctx)
				if err != nil {
					return err
				}
				shares, err := keys.TopUsage(ctx, top)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable(
					[]string{"KEYS", "REQUESTS", "TODAY", "ERROR RATE (7D)", "CACHED"},
					[][]string{{
						strconv.FormatInt(keyCount, 10),
						strconv.FormatInt(total, 10),
						strconv.FormatInt(today, 10),
						fmt.Sprintf("%.2f%%", rate),
						strconv.FormatInt(cached, 10),
					}},
					0, 1, 2, 3, 4,
				))
				fmt.Fprintln(out, weeklyTable(weekly))
				fmt.Fprintln(out, sharesTable(shares))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&top, "top", 10, "Number of keys in the usage ranking")

	return cmd
}

func exportLogsCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export-logs",
		Short: "Export the request log as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd, func(ctx context.Context, db *storage.DB) error {
				var w io.Writer = cmd.OutOrStdout()
				if out != "" && out != "-" {
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				return db.NewLogRepository().ExportCSV(ctx, w)
			})
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")

	return cmd
}

func keysTable(keys []*models.APIKey, now time.Time) string {
	today := models.Day(now)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		status := "active"
		if k.IsExpiredAt(now) {
			status = "expired"
		}
		rows = append(rows, []string{
			k.Key,
			k.Username,
			strconv.Itoa(k.UsedOn(today)) + "/" + strconv.Itoa(k.DailyLimit),
			strconv.FormatInt(k.TotalRequests, 10),
			formatExpiry(k.ExpiresAt),
			status,
		})
	}
	return renderTable([]string{"KEY", "USERNAME", "TODAY", "TOTAL", "EXPIRES", "STATUS"}, rows, 2, 3)
}

func weeklyTable(points []models.DailyCount) string {
	rows := make([][]string, 0, len(points))
	for _, p := range points {
		rows = append(rows, []string{p.Day, p.Date, strconv.FormatInt(p.Count, 10)})
	}
	return renderTable([]string{"DAY", "DATE", "REQUESTS"}, rows, 2)
}

func sharesTable(shares []models.UsageShare) string {
	rows := make([][]string, 0, len(shares))
	for _, s := range shares {
		rows = append(rows, []string{s.Label, strconv.FormatInt(s.Value, 10)})
	}
	return renderTable([]string{"KEY", "REQUESTS"}, rows, 1)
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
