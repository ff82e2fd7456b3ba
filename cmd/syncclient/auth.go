package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/filesync-core/internal/clientconfig"
	"github.com/tonimelisma/filesync-core/internal/watch"
)

func newLoginCmd() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and persist a session token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd, username, password)
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "account username")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("password")

	return cmd
}

func runLogin(cmd *cobra.Command, username, password string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	tok, err := cc.Client.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	cc.Cfg.Username = username
	cc.Cfg.AuthToken = tok.AccessToken
	cc.Cfg.RefreshToken = tok.RefreshToken

	if cc.Cfg.ClientID == "" {
		cc.Cfg.ClientID = watch.DeriveClientID(username)
	}

	if err := clientconfig.Save(flagConfigPath, cc.Cfg); err != nil {
		return fmt.Errorf("saving client config: %w", err)
	}

	cc.Logger.Info("logged in", "username", username, "client_id", cc.Cfg.ClientID)

	return nil
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Invalidate the local session token",
		RunE:  runLogout,
	}
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	if err := cc.Client.Logout(ctx); err != nil {
		cc.Logger.Warn("server logout call failed, clearing local token anyway", "error", err)
	}

	cc.Cfg.AuthToken = ""
	cc.Cfg.RefreshToken = ""

	if err := clientconfig.Save(flagConfigPath, cc.Cfg); err != nil {
		return fmt.Errorf("saving client config: %w", err)
	}

	cc.Logger.Info("logged out", "username", cc.Cfg.Username)

	return nil
}
