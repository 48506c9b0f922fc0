package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgirmay/pulse/pkg/auth"
	"github.com/jgirmay/pulse/pkg/config"
)

type tokenOptions struct {
	userID string
	email  string
	ttl    time.Duration
}

// newTokenCommand issues a bearer token for local testing
func newTokenCommand() *cobra.Command {
	opts := &tokenOptions{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		Example: `  pulse token --user u-123
  pulse token --user u-123 --ttl 1h`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer).
				GenerateToken(opts.userID, opts.email, opts.ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.userID, "user", "", "user id placed in the subject claim (required)")
	cmd.Flags().StringVar(&opts.email, "email", "", "optional email claim")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
