package main

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/vedran77/pulsedm/internal/config"
	"github.com/vedran77/pulsedm/internal/service"
)

func newReconcileCmd(cfg *config.Config) *cobra.Command {
	var userFlag string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Backfill missing conversations for a user from their message history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := uuid.Parse(userFlag)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}

			st, err := openStore(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer st.close()

			report, err := newServices(cfg, st).reconcile.ReconcileUser(cmd.Context(), userID, service.TriggerCLI)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&userFlag, "user", "", "user id to reconcile")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
