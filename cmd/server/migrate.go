package main

import (
	"github.com/spf13/cobra"
	"github.com/vedran77/pulsedm/internal/config"
	"github.com/vedran77/pulsedm/internal/logging"
)

func newMigrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			st.close()
			logging.Info().Str("driver", cfg.Database.Driver).Msg("migrations applied")
			return nil
		},
	}
}
