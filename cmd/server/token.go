package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alochat/realtime/internal/auth"
)

func newTokenCommand(flags *globalFlags) *cobra.Command {
	var userID string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed credential for a user id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if ttl > 0 {
				cfg.Auth.TTL = ttl
			}
			issuer, err := auth.New(cfg.Auth)
			if err != nil {
				return err
			}
			token, exp, err := issuer.Issue(userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id to put in the subject claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "credential lifetime (defaults to auth.ttl)")
	return cmd
}
