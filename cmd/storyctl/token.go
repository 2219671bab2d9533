package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/storyloom/core/internal/pkg/jwt"
)

func newTokenCmd(g *globalOptions) *cobra.Command {
	ttl := 24 * time.Hour
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a bearer token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := g.load(); err != nil {
				return err
			}
			token, err := jwt.Sign(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", ttl, "Token lifetime")
	return cmd
}
