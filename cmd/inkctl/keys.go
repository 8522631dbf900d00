package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/af-corp/inkwell/internal/auth"
)

func newKeysCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Issue or revoke API keys",
	}
	cmd.AddCommand(newKeysCreateCommand(a), newKeysRevokeCommand(a))
	return cmd
}

func newKeysCreateCommand(a *app) *cobra.Command {
	var (
		user    string
		name    string
		roles   []string
		env     string
		expires string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API key for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dur, err := auth.ParseDuration(expires)
			if err != nil {
				return fmt.Errorf("invalid --expires: %w", err)
			}
			pool, err := a.db(cmd.Context())
			if err != nil {
				return err
			}
			rdb, err := a.redis(cmd.Context())
			if err != nil {
				return err
			}
			issued, err := auth.NewCachedKeyStore(pool, rdb, a.cfg.Auth.KeyCacheTTL).Issue(cmd.Context(), auth.NewKey{
				UserID:    user,
				Name:      name,
				Roles:     roles,
				Env:       env,
				ExpiresIn: dur,
			})
			if err != nil {
				return err
			}
			printIssuedKey(cmd.OutOrStdout(), issued, user, roles)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user the key acts as (required)")
	cmd.Flags().StringVar(&name, "name", "", "human-friendly key name")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "roles granted to the key, e.g. editor,admin")
	cmd.Flags().StringVar(&env, "env", "prod", "environment prefix: dev, staging or prod")
	cmd.Flags().StringVar(&expires, "expires", "365d", "expiry duration (e.g., 365d, 720h)")
	cmd.MarkFlagRequired("user")
	return cmd
}

func printIssuedKey(w io.Writer, k *auth.IssuedKey, user string, roles []string) {
	fmt.Fprintln(w, "=== inkwell API key issued ===")
	fmt.Fprintf(w, "  Key ID:   %s\n", k.ID)
	fmt.Fprintf(w, "  Prefix:   %s\n", k.Prefix)
	fmt.Fprintf(w, "  User:     %s\n", user)
	if len(roles) > 0 {
		fmt.Fprintf(w, "  Roles:    %s\n", strings.Join(roles, ","))
	}
	fmt.Fprintf(w, "  Expires:  %s\n", k.ExpiresAt.Format(time.RFC3339))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  API key (shown once, store it now):")
	fmt.Fprintf(w, "  %s\n", k.Key)
}

func newKeysRevokeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := a.db(cmd.Context())
			if err != nil {
				return err
			}
			rdb, err := a.redis(cmd.Context())
			if err != nil {
				return err
			}
			if err := auth.NewCachedKeyStore(pool, rdb, a.cfg.Auth.KeyCacheTTL).Revoke(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
			return nil
		},
	}
}
