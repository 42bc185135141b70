package main // Entry point package

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/config"
	"github.com/iliyamo/auth-service/internal/logger"
)

func main() {
	root := &cobra.Command{
		Use:           "auth-service",
		Short:         "Token lifecycle service: login, refresh rotation, revocation and one-time codes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), cleanupCmd(), mailerCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// bootstrap loads the configuration and builds the root logger shared by
// every subcommand.
func bootstrap(component string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	log := logger.WithComponent(logger.New(cfg.Env, cfg.LogLevel), component)
	return cfg, log, nil
}
