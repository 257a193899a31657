package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/sift/internal/batch"
	"github.com/kalambet/sift/internal/config"
	"github.com/kalambet/sift/internal/ledger"
	"github.com/kalambet/sift/internal/pipeline"
	"github.com/kalambet/sift/internal/report"
	"github.com/kalambet/sift/internal/scheduler"
	"github.com/kalambet/sift/internal/storage"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once",
	Long: `Run every pipeline stage once: clean, acquire, filter, select,
deep insight, cluster and discovery. The run stops early when the monthly
budget is exhausted; partial results stay in the store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		sum, err := runOnce(ctx, cfg)
		if err != nil {
			return err
		}
		if asJSON {
			return report.JSON(cmd.OutOrStdout(), sum)
		}
		return report.Summary(cmd.OutOrStdout(), sum)
	},
}

func runOnce(ctx context.Context, cfg config.Config) (pipeline.Summary, error) {
	a, err := openApp(cfg)
	if err != nil {
		return pipeline.Summary{}, err
	}
	defer a.Close()

	orc, err := a.orchestrator()
	if err != nil {
		return pipeline.Summary{}, err
	}
	return orc.Run(ctx), nil
}

func init() {
	runCmd.Flags().Bool("json", false, "print the run summary as JSON")
}

// --- schedule ---

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the pipeline daily at schedule.daily_at (UTC)",
	Long: `Run the pipeline every day at schedule.daily_at (HH:MM, UTC) until
interrupted. The config file is watched; edits apply from the next run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		now, _ := cmd.Flags().GetBool("now")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.RequireLLM(); err != nil {
			return err
		}

		var mu sync.Mutex
		current := cfg

		sched, err := scheduler.New(cfg.Schedule.DailyAt, func(ctx context.Context) {
			mu.Lock()
			c := current
			mu.Unlock()

			sum, err := runOnce(ctx, c)
			if err != nil {
				printError("scheduled run: %v", err)
				return
			}
			report.Summary(cmd.OutOrStdout(), sum)
		})
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		err = scheduler.WatchConfig(ctx, cfg.Path, func() {
			next, err := loadConfig()
			if err != nil {
				printWarning("config reload failed, keeping previous settings: %v", err)
				return
			}
			if err := sched.SetDailyAt(next.Schedule.DailyAt); err != nil {
				printWarning("config reload: %v", err)
				return
			}
			mu.Lock()
			current = next
			mu.Unlock()
			printStep("config reloaded, next run at %s", sched.Next().Format(time.RFC3339))
		})
		if err != nil {
			printWarning("not watching config: %v", err)
		}

		printStep("scheduled daily at %s UTC, next run at %s", cfg.Schedule.DailyAt, sched.Next().Format(time.RFC3339))
		return sched.Run(ctx, now)
	},
}

func init() {
	scheduleCmd.Flags().Bool("now", false, "also run once immediately")
}

// --- report ---

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show scored posts and pipeline statistics",
}

var reportTopCmd = &cobra.Command{
	Use:   "top",
	Short: "Show the highest-value posts",
	Example: `  sift report top --days 7 --limit 20
  sift report top --order pain --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		limit, _ := cmd.Flags().GetInt("limit")
		order, _ := cmd.Flags().GetString("order")
		processed, _ := cmd.Flags().GetBool("processed")
		asJSON, _ := cmd.Flags().GetBool("json")

		if !validOrder(order) {
			return fmt.Errorf("unknown --order %q, want one of %s", order, strings.Join(storage.OrderKeys(), ", "))
		}
		a, err := openConfigured()
		if err != nil {
			return err
		}
		defer a.Close()

		q := storage.TopQuery{Limit: limit, Order: order, ProcessedOnly: processed}
		if days > 0 {
			q.Since = time.Now().UTC().AddDate(0, 0, -days)
		}
		posts, err := a.store.TopPosts(q)
		if err != nil {
			return err
		}
		if asJSON {
			return report.JSON(cmd.OutOrStdout(), nonNil(posts))
		}
		return report.Top(cmd.OutOrStdout(), days, order, posts)
	},
}

var reportTagCmd = &cobra.Command{
	Use:   "tag <tag>",
	Short: "Show posts carrying a tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := openConfigured()
		if err != nil {
			return err
		}
		defer a.Close()

		posts, err := a.store.PostsByTag(args[0], limit)
		if err != nil {
			return err
		}
		if asJSON {
			return report.JSON(cmd.OutOrStdout(), nonNil(posts))
		}
		return report.Tag(cmd.OutOrStdout(), args[0], posts)
	},
}

type statsReport struct {
	Store  storage.Stats   `json:"store"`
	Runs   []storage.Run   `json:"runs"`
	Budget ledger.Snapshot `json:"budget"`
}

var reportStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store counts, recent runs and the budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, _ := cmd.Flags().GetInt("runs")
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := openConfigured()
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.store.Stats()
		if err != nil {
			return err
		}
		history, err := a.store.ListRuns(runs)
		if err != nil {
			return err
		}
		snap := a.ledger.Snapshot()
		if asJSON {
			if history == nil {
				history = []storage.Run{}
			}
			return report.JSON(cmd.OutOrStdout(), statsReport{Store: st, Runs: history, Budget: snap})
		}
		return report.Stats(cmd.OutOrStdout(), st, history, snap)
	},
}

func validOrder(order string) bool {
	if order == "" {
		return true
	}
	for _, k := range storage.OrderKeys() {
		if k == order {
			return true
		}
	}
	return false
}

func nonNil(posts []storage.PostView) []storage.PostView {
	if posts == nil {
		return []storage.PostView{}
	}
	return posts
}

func openConfigured() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openApp(cfg)
}

func init() {
	reportTopCmd.Flags().Int("days", 0, "only posts discovered in the last N days (0 = all)")
	reportTopCmd.Flags().Int("limit", 10, "maximum number of posts")
	reportTopCmd.Flags().String("order", "roi", "sort key: "+strings.Join(storage.OrderKeys(), "|"))
	reportTopCmd.Flags().Bool("processed", false, "only deep-processed posts")
	reportTopCmd.Flags().Bool("json", false, "print JSON")

	reportTagCmd.Flags().Int("limit", 20, "maximum number of posts")
	reportTagCmd.Flags().Bool("json", false, "print JSON")

	reportStatsCmd.Flags().Int("runs", 5, "number of recent runs to show")
	reportStatsCmd.Flags().Bool("json", false, "print JSON")

	reportCmd.AddCommand(reportTopCmd)
	reportCmd.AddCommand(reportTagCmd)
	reportCmd.AddCommand(reportStatsCmd)
}

// --- ledger ---

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Show this month's spend against the budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := openConfigured()
		if err != nil {
			return err
		}
		defer a.Close()

		snap := a.ledger.Snapshot()
		if asJSON {
			return report.JSON(cmd.OutOrStdout(), snap)
		}
		if err := report.Budget(cmd.OutOrStdout(), snap); err != nil {
			return err
		}
		printStatus("file", "%s", a.ledger.Path())
		return nil
	},
}

func init() {
	ledgerCmd.Flags().Bool("json", false, "print JSON")
}

// --- deferred ---

var deferredCmd = &cobra.Command{
	Use:   "deferred",
	Short: "Inspect sub-batches that exhausted their retries",
}

var deferredListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deferred batch files",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		files, err := batch.ListDeferred(cfg.Storage.DeferredDir())
		if err != nil {
			return err
		}
		if asJSON {
			if files == nil {
				files = []batch.DeferredFile{}
			}
			return report.JSON(cmd.OutOrStdout(), files)
		}
		return report.Deferred(cmd.OutOrStdout(), files)
	},
}

func init() {
	deferredListCmd.Flags().Bool("json", false, "print JSON")
	deferredCmd.AddCommand(deferredListCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", cfg.Path)
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", labelColor.Sprint(k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(configPath, key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
