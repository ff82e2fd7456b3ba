package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the local client's configuration and session state",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg

	tokenState := "missing"
	if cfg.AuthToken != "" {
		tokenState = "present"
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "(not yet assigned — run 'login')"
	}

	fmt.Printf("Server:      %s\n", cfg.ServerURL)
	fmt.Printf("Sync path:   %s\n", cfg.SyncPath)
	fmt.Printf("Username:    %s\n", cfg.Username)
	fmt.Printf("Client ID:   %s\n", clientID)
	fmt.Printf("Token:       %s\n", tokenState)
	fmt.Printf("Interval:    %ds\n", cfg.SyncInterval)

	return nil
}
