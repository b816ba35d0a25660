package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	registryapp "github.com/stacklok/nuget-registry-server/internal/app"
	"github.com/stacklok/nuget-registry-server/internal/config"
)

const defaultGracefulTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the registry server",
		Long: `Start the registry server.

The server requires a configuration file (--config) that specifies:
- the public host and port advertised in protocol documents
- the accepted tenants (a prefix list or a pattern)
- the packages directory and storage mode
- the authentication mode and its credentials

Run "nuget-registry-api init" to write one interactively.`,
		RunE: runServe,
	}

	cmd.Flags().String("address", "", "Address to listen on, overriding server.address")
	cmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("address", cmd.Flags().Lookup("address")); err != nil {
		slog.Error("Failed to bind address flag", "error", err)
	}
	if err := viper.BindPFlag("config", cmd.Flags().Lookup("config")); err != nil {
		slog.Error("Failed to bind config flag", "error", err)
	}
	if err := cmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
	}
	return cmd
}

// buildApp loads the configuration and builds the application without starting it.
func buildApp(ctx context.Context, configPath, address string) (*registryapp.RegistryApp, error) {
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"public_host", cfg.Server.PublicHost,
		"storage_mode", cfg.Storage.GetMode(),
	)

	opts := []registryapp.RegistryAppOptions{registryapp.WithConfig(cfg)}
	if address != "" {
		opts = append(opts, registryapp.WithAddress(address))
	}
	return registryapp.NewRegistryApp(ctx, opts...)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registryApp, err := buildApp(ctx, viper.GetString("config"), viper.GetString("address"))
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- registryApp.Start()
	}()

	select {
	case err := <-serveErr:
		if stopErr := registryApp.Stop(defaultGracefulTimeout); stopErr != nil {
			slog.Error("Failed to stop server", "error", stopErr)
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Received shutdown signal")
	if err := registryApp.Stop(defaultGracefulTimeout); err != nil {
		return err
	}
	return <-serveErr
}
