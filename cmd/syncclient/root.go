package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/filesync-core/internal/apiclient"
	"github.com/tonimelisma/filesync-core/internal/clientconfig"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that must not fail when no
// client.properties exists yet (login writes the first one).
const skipConfigAnnotation = "skipConfig"

var flagConfigPath string

// CLIContext bundles everything a subcommand needs, built once in
// PersistentPreRunE and threaded through cmd.Context().
type CLIContext struct {
	Cfg    *clientconfig.Config
	Client *apiclient.Client
	Token  *apiclient.StaticToken
	Logger *slog.Logger
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — command should not have skipConfigAnnotation")
	}

	return cc
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "syncclient",
		Short:         "Sync client CLI",
		Long:          "A command-line client for the multi-device file sync service.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadCLIContext(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "client.properties", "path to client.properties")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newResolveCmd())

	return cmd
}

func loadCLIContext(cmd *cobra.Command) error {
	cfg, err := clientconfig.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("loading client config: %w", err)
	}

	logger := buildLogger()

	token := apiclient.NewStaticToken(cfg.AuthToken)
	client := apiclient.New(cfg.ServerURL, &http.Client{}, token, logger)

	cc := &CLIContext{Cfg: cfg, Client: client, Token: token, Logger: logger}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

func buildLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
