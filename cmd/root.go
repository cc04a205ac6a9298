package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/cardano-indexer/internal/version"
	"github.com/ethpandaops/cardano-indexer/pkg/config"
	"github.com/ethpandaops/cardano-indexer/pkg/server"
)

var (
	log              = logrus.New()
	serverConfigFile string
	readonly         bool
	planLocation     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cardano-indexer",
	Short: "Indexes Cardano blocks into a relational store.",
	Long: `Indexes Cardano blocks into a relational store by running the tasks of an
execution plan against every block read from the chain-sync stream.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		return runServer(cmd.Context(), cfg)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverConfigFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&planLocation, "plan", "", "execution plan path or URL, overrides executionPlan")
	rootCmd.Flags().BoolVar(&readonly, "readonly", false, "look up rows instead of inserting them, overrides readonly")
}

// loadConfig loads the config file, applies flag overrides and sets the log level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(serverConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cmd.Flags().Changed("plan") {
		cfg.ExecutionPlan = planLocation
	}

	if cmd.Flags().Changed("readonly") {
		cfg.Readonly = readonly
	}

	level, err := logrus.ParseLevel(cfg.LoggingLevel)
	if err != nil {
		log.WithError(err).Warn("Invalid logging level, using info")

		level = logrus.InfoLevel
	}

	log.SetLevel(level)

	return cfg, nil
}

func runServer(ctx context.Context, cfg *config.Config) error {
	log.WithFields(logrus.Fields{
		"version": version.Full(),
		"network": cfg.Network,
	}).Info("Starting cardano-indexer")

	srv, err := server.NewServer(ctx, log, cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("cardano-indexer exited - cya!")

	return nil
}
