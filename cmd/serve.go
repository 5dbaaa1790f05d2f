package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/actions-digest/internal/api"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the read API over stored documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			srv := api.NewServer(
				appInstance.Store,
				appInstance,
				api.Config{RequestTimeout: appInstance.Config.Server.RequestTimeout},
				appInstance.Logger.Named("api"),
			)
			addr := fmt.Sprintf(":%d", appInstance.Config.Server.Port)
			if err := srv.ListenAndServe(cmd.Context(), addr); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
}
