package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSlugsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "slugs",
		Short: "Assigns URL slugs to documents that lack one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			assigner, err := appInstance.SlugAssigner()
			if err != nil {
				return err
			}
			res, err := assigner.Assign(cmd.Context())
			if err != nil {
				return fmt.Errorf("assign slugs: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "assigned %d slugs, skipped %d\n", res.Assigned, res.Skipped)
			if err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
			return nil
		},
	}
}
