package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errNoLinks = errors.New("no links found")

func newScrapeCmd() *cobra.Command {
	var rootURL string
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Discovers new presidential actions and enriches them",
		Long: `Walks the paginated index starting at --url, inserting a stub for every
permalink not yet stored, then fetches, parses and enriches each new document.
Every link selected for enrichment is printed to stdout, one per line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if rootURL == "" {
				rootURL = appInstance.Config.Source.RootURL
			}

			orch, err := appInstance.Orchestrator()
			if err != nil {
				return err
			}
			res, err := orch.Run(cmd.Context(), rootURL)
			if err != nil {
				return fmt.Errorf("scrape %s: %w", rootURL, err)
			}
			if res.Err != nil {
				appInstance.Logger.Warn("scrape stopped early", zap.Error(res.Err))
			}

			links := res.Links()
			if len(links) == 0 {
				return errNoLinks
			}
			out := cmd.OutOrStdout()
			for _, link := range links {
				if _, err := fmt.Fprintln(out, link); err != nil {
					return fmt.Errorf("write link: %w", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rootURL, "url", "", "first listing page (defaults to source.root_url)")
	return cmd
}
