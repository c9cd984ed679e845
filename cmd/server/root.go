package main

import (
	"github.com/spf13/cobra"
	"github.com/vedran77/pulsedm/internal/config"
	"github.com/vedran77/pulsedm/internal/logging"
)

func newRootCmd() *cobra.Command {
	cfg := &config.Config{}

	root := &cobra.Command{
		Use:           "pulsedm",
		Short:         "Direct messaging server with realtime delivery",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			*cfg = *loaded
			logging.Init(logging.Config{
				Level:  loaded.Logging.Level,
				Format: loaded.Logging.Format,
				Caller: loaded.Logging.Caller,
			})
			return nil
		},
	}

	root.AddCommand(
		newServeCmd(cfg),
		newMigrateCmd(cfg),
		newReconcileCmd(cfg),
		newTokenCmd(cfg),
	)
	return root
}
