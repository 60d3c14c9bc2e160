package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"user-directory-service/cmd/api/app"
	"user-directory-service/cmd/api/server"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "user-directory",
		Short:         "User directory REST service",
		Long:          "HTTP service that creates, lists, reads, updates and deletes users stored in SQLite or PostgreSQL.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(),
		"Directory containing app.env (overrides CONFIG_PATH)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd.Context(), configPath)
		},
	}

	root.RunE = serve.RunE
	root.AddCommand(serve, &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	return root
}

func serveRun(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.New(configPath)
	if err != nil {
		return err
	}

	ctx, stop := server.WithSignal(ctx)
	defer stop()

	return a.Run(ctx)
}

func defaultConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return "."
}
