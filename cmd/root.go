// Package cmd defines and implements the CLI commands for the actions-digest executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/actions-digest/internal/app"
	"github.com/JakeFAU/actions-digest/internal/config"
)

// appKey is the context key under which the App is stored.
type appKey struct{}

// newApp is the application factory. It's a variable so tests can inject
// services.
var newApp = func(ctx context.Context, cfg config.Config) (*app.App, error) {
	return app.New(ctx, cfg)
}

type cli struct {
	cfgFile string
	app     *app.App
}

// closeApp releases services. PersistentPostRun does not run after a failed
// command, so run calls it as well.
func (c *cli) closeApp() {
	if c.app != nil {
		c.app.Close()
		c.app = nil
	}
}

// newRootCmd creates and configures the root command.
func newRootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions-digest",
		Short: "Ingests presidential actions and serves an enriched digest.",
		Long: `actions-digest discovers presidential actions by walking the paginated
index, stores a stub for each new permalink, then extracts each document's
text and enriches it with a summary, a tweet-sized excerpt and a plain-language
explanation from an OpenAI-compatible model.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			c.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, appInstance))
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			c.closeApp()
		},
	}

	cmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (YAML); DIGEST_* environment variables override it")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSlugsCmd())
	cmd.AddCommand(newMigrateCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey{}).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// run executes the CLI with args and returns the command error.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	c := &cli{}
	defer c.closeApp()

	root := newRootCmd(c)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		return fmt.Errorf("%s: %w", root.Name(), err)
	}
	return nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command's
// context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
