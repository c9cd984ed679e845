package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/vedran77/pulsedm/internal/config"
	"github.com/vedran77/pulsedm/internal/service"
)

func newTokenCmd(cfg *config.Config) *cobra.Command {
	var userFlag string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed session token for a user (development only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.IsProduction() {
				return errors.New("token minting is disabled in production")
			}
			userID, err := uuid.Parse(userFlag)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}

			token, err := service.NewIdentityService(nil, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).IssueToken(userID)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&userFlag, "user", "", "user id to issue the token for")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
