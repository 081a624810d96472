package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ytfeed/config"
	"ytfeed/internal/app"
	"ytfeed/internal/logger"
	"ytfeed/storage"
	"ytfeed/youtube"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliContext carries what the root command prepares for its subcommands.
type cliContext struct {
	configPath string
	logLevel   string
	dataDir    string

	cfg    *config.Config
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cliContext{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "ytfeed",
		Short:         "Resolve YouTube channels and serve an aggregated upload feed",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return c.load()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default: ytfeed.yaml or ytfeed.json)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override log_level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&c.dataDir, "data-dir", "", "override data_dir")

	root.AddCommand(
		c.serveCmd(),
		c.runCmd(),
		c.resolveCmd(),
		c.redirectsCmd(),
		c.videosCmd(),
		c.versionCmd(),
	)
	return root
}

func (c *cliContext) load() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if c.dataDir != "" {
		cfg.DataDir = c.dataDir
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logger.SetupDefault(c.stderr, level)
	return nil
}

func (c *cliContext) build(ctx context.Context) (*app.App, error) {
	return app.Build(ctx, c.cfg, c.logger, app.Options{})
}

func (c *cliContext) printJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cliContext) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run aggregation on schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				c.cfg.ListenAddr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := c.build(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "override listen_addr")
	return cmd
}

func (c *cliContext) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one aggregation pass and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := c.build(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.RunOnce(ctx)
			if err != nil {
				return err
			}
			if err := c.printJSON(run); err != nil {
				return err
			}
			if run.Status != storage.RunCompleted {
				return fmt.Errorf("run %s %s: %s", run.ID, run.Status, run.Error)
			}
			return nil
		},
	}
}

func (c *cliContext) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <reference>",
		Short: "Resolve a channel URL, @handle or id to its canonical id",
		Example: `  ytfeed resolve @veritasium
  ytfeed resolve https://www.youtube.com/c/LinusTechTips`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := youtube.ParseReference(args[0])
			if err != nil {
				return err
			}

			a, err := c.build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			known := make(map[string]bool)
			for _, sub := range a.State.Subscriptions() {
				known[sub.ID] = true
			}
			res, err := a.Resolver.Resolve(cmd.Context(), ref, func(id string) bool { return known[id] })
			if err != nil {
				return err
			}
			if err := c.printJSON(struct {
				youtube.ResolvedChannel
				Outcome string `json:"outcome"`
			}{res.Channel, string(res.Outcome)}); err != nil {
				return err
			}
			if res.Placeholder() {
				return fmt.Errorf("%s not resolved: %w", ref, res.Cause)
			}
			return nil
		},
	}
}

func (c *cliContext) redirectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redirects",
		Short: "List stored redirects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := storage.Open(c.cfg.Backend, c.cfg.DataDir)
			if err != nil {
				return err
			}
			defer backend.Close()
			st, err := storage.OpenStateStore(cmd.Context(), backend)
			if err != nil {
				return err
			}

			redirects := st.Redirects().All()
			if len(redirects) == 0 {
				fmt.Fprintln(c.stdout, "No redirects stored.")
				return nil
			}
			w := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "FROM\tTO")
			for _, from := range slices.Sorted(maps.Keys(redirects)) {
				fmt.Fprintf(w, "%s\t%s\n", from, redirects[from])
			}
			return w.Flush()
		},
	}
}

func (c *cliContext) videosCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "videos",
		Short: "List the published aggregate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := storage.Open(c.cfg.Backend, c.cfg.DataDir)
			if err != nil {
				return err
			}
			defer backend.Close()
			aggs, err := storage.OpenAggregateStore(cmd.Context(), backend)
			if err != nil {
				return err
			}

			agg := aggs.Snapshot()
			if len(agg.Items) == 0 {
				fmt.Fprintln(c.stdout, "No videos published yet.")
				return nil
			}
			items := agg.Items
			if limit > 0 && len(items) > limit {
				items = items[:limit]
			}

			w := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "VIDEO ID\tPUBLISHED\tCHANNEL\tTITLE")
			for _, v := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					v.ID,
					v.PublishedAt.Format("2006-01-02 15:04"),
					truncate(v.ChannelTitle, 24),
					truncate(v.Title, 60),
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(c.stderr, "\nShowing %d of %d videos\n", len(items), len(agg.Items))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "max", "n", 50, "maximum videos to list (0 = all)")
	return cmd
}

func (c *cliContext) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(c.stdout, "ytfeed", version)
		},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
