package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kevinmichaelchen/star-catalog/internal/config"
	"github.com/kevinmichaelchen/star-catalog/internal/events"
	"github.com/kevinmichaelchen/star-catalog/internal/github"
	"github.com/kevinmichaelchen/star-catalog/internal/llm"
	"github.com/kevinmichaelchen/star-catalog/internal/logger"
	"github.com/kevinmichaelchen/star-catalog/internal/pipeline"
	"github.com/kevinmichaelchen/star-catalog/internal/report"
	"github.com/kevinmichaelchen/star-catalog/internal/schedule"
	"github.com/kevinmichaelchen/star-catalog/internal/store"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "star-catalog",
		Short:         "Catalog GitHub stars with AI categories and summaries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath, "Path to config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	root.AddCommand(
		schemaCmd(opts),
		fetchCmd(opts),
		classifyCmd(opts),
		genCatCmd(opts),
		genReadmeCmd(opts),
		statsCmd(opts),
		scheduleCmd(opts),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Gateway
	events events.Publisher
}

func setup(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	log := logger.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	st, err := pipeline.OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pub, err := events.Connect(cfg.Events.NATS.URL, cfg.Events.NATS.Subject)
	if err != nil {
		// Reports are optional; the pass itself must still run.
		log.Warn("pass reports disabled", "err", err)
		pub = events.Noop{}
	}

	return &app{cfg: cfg, logger: log, store: st, events: pub}, nil
}

func (a *app) close() {
	a.events.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", "err", err)
	}
}

func (a *app) runner() *pipeline.Runner {
	return pipeline.NewRunner(a.cfg, a.store, a.events, a.logger)
}

func (a *app) github(ctx context.Context) (*github.Client, error) {
	if err := a.cfg.RequireGitHub(); err != nil {
		return nil, err
	}
	return github.NewClient(ctx, a.cfg.GitHub.Token)
}

func schemaCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create or migrate the record store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			fmt.Printf("Schema initialized (%s)\n", a.cfg.Database.Driver)
			return nil
		},
	}
}

func fetchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Fetch starred repositories and evict ones no longer starred",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			gh, err := a.github(ctx)
			if err != nil {
				return err
			}
			rep, err := a.runner().Fetch(ctx, gh)
			if rep != nil {
				printFetch(rep)
			}
			return err
		},
	}
}

func printFetch(rep *pipeline.FetchReport) {
	fmt.Printf("Fetched %d/%d repos (%d new)\n", rep.Succeeded, rep.Total, rep.New)
	fmt.Printf("Evicted %d stale repos, %d within grace period\n", rep.Deleted, rep.Retained)
}

func classifyCmd(opts *rootOptions) *cobra.Command {
	var uncategorizedOnly bool

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Assign AI categories and summaries to stored repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			rep, err := a.runner().Classify(ctx, llm.NewClient(a.cfg.OpenAI), uncategorizedOnly)
			if err != nil {
				return err
			}
			printClassify(rep)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&uncategorizedOnly, "uncategorized-only", "u", false, "Only classify repos without a category (or with the fallback)")
	return cmd
}

func printClassify(rep *pipeline.ClassifyReport) {
	fmt.Printf("Classified %d/%d repos\n", rep.Succeeded, rep.Total)
	for _, c := range report.SortCounts(rep.Categories) {
		fmt.Printf("  %-24s %d\n", c.Category, c.Count)
	}
}

func genCatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gen-cat",
		Short: "Generate a category set from stored repositories and save it to the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			set, err := a.runner().GenerateCategories(ctx, llm.NewClient(a.cfg.OpenAI))
			if err != nil {
				return err
			}

			fmt.Printf("Saved %d categories to %s:\n", len(set.Categories), a.cfg.Path)
			for _, c := range set.Categories {
				desc := set.Descriptions[c]
				if desc == "" {
					desc = "no description"
				}
				fmt.Printf("  %s: %s\n", c, desc)
			}
			return nil
		},
	}
}

func genReadmeCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "gen-readme",
		Short: "Render the catalog as markdown grouped by category",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			if output == "" {
				output = a.cfg.Report.Output
			}
			repos, err := a.store.ListAll(ctx)
			if err != nil {
				return err
			}
			if err := report.WriteFile(output, repos, time.Now()); err != nil {
				return err
			}
			fmt.Printf("Wrote %d repos to %s\n", len(repos), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default report.output)")
	return cmd
}

func statsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show repo counts and category breakdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			repos, err := a.store.ListAll(ctx)
			if err != nil {
				return err
			}
			stats := report.ComputeStats(repos)

			fmt.Printf("Repos:      %d\n", stats.Total)
			fmt.Printf("Classified: %d\n", stats.Classified)
			if len(stats.Categories) > 0 {
				fmt.Println("\nCategory breakdown:")
				for _, c := range stats.Categories {
					fmt.Printf("  %-24s %d\n", c.Category, c.Count)
				}
			}
			return nil
		},
	}
}

func scheduleCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run fetch (and optionally classify) passes on the configured cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			gh, err := a.github(ctx)
			if err != nil {
				return err
			}
			if a.cfg.Schedule.Classify {
				if err := a.cfg.RequireOpenAI(); err != nil {
					return err
				}
			}
			runner := a.runner()
			ai := llm.NewClient(a.cfg.OpenAI)

			s, err := schedule.New(a.cfg.Schedule.Cron, func(ctx context.Context) error {
				rep, err := runner.Fetch(ctx, gh)
				if err != nil {
					return err
				}
				printFetch(rep)
				if !a.cfg.Schedule.Classify {
					return nil
				}
				crep, err := runner.Classify(ctx, ai, true)
				if err != nil {
					return err
				}
				printClassify(crep)
				return nil
			}, a.logger)
			if err != nil {
				return &config.Error{Field: "schedule.cron", Reason: "invalid", Err: err}
			}

			fmt.Printf("Scheduler running on %q (Ctrl-C to stop)\n", a.cfg.Schedule.Cron)
			return s.Run(ctx)
		},
	}
}
