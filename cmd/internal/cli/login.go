package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"tasklink/cmd/internal/session"

	"github.com/spf13/cobra"
)

func newLoginCommand(g *globalOptions) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the bearer token used by watch",
		Long: `Store the bearer token used by watch.

Pass "-" to read the token from stdin:
  echo "$TOKEN" | tasklink login --token -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "-" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token: %w", err)
				}
				token = line
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return errors.New("login: --token is required")
			}

			store, err := g.openSession()
			if err != nil {
				return err
			}
			if err := store.SetToken(session.DefaultKey, token); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "token saved to %s\n", store.Path())
			return err
		},
	}

	cmd.Flags().StringVar(&token, "token", "", `bearer token, or "-" for stdin`)
	return cmd
}

func newLogoutCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := g.openSession()
			if err != nil {
				return err
			}
			if err := store.DeleteToken(session.DefaultKey); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return err
		},
	}
}
