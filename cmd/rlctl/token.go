package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/researchledger/internal/auth"
	"github.com/jmerrifield20/researchledger/internal/config"
)

func newTokenCmd() *cobra.Command {
	var scopes []string
	cmd := &cobra.Command{
		Use:   "token <operator>",
		Short: "Issue an operator token signed with the server's auth.secret",
		Long: `token reads the same configuration as researchd (researchd.yaml, .env
and RL_* variables) and prints a signed operator token.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.AuthSecret == "" {
				return errors.New("auth.secret is not configured")
			}
			issuer, err := auth.NewIssuer(cfg.AuthSecret, cfg.AuthIssuer, cfg.AuthTokenTTL)
			if err != nil {
				return err
			}
			tok, err := issuer.Issue(args[0], scopes...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scope",
		[]string{auth.ScopeRecord, auth.ScopeRead, auth.ScopeExport}, "scopes to grant")
	return cmd
}
