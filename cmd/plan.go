package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/cardano-indexer/pkg/dispatcher"
	"github.com/ethpandaops/cardano-indexer/pkg/server"
	"github.com/ethpandaops/cardano-indexer/pkg/task"
)

var planEra string

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Validates the execution plan and prints the tasks run per era.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		eras := task.Eras()

		if planEra != "" {
			era, err := task.ParseEra(planEra)
			if err != nil {
				return err
			}

			eras = []task.Era{era}
		}

		d, err := server.NewDispatcher(cmd.Context(), log, cfg.ExecutionPlan, server.PipelineOptions{
			Network:  cfg.Network,
			Readonly: cfg.Readonly,
		}, nil)
		if err != nil {
			return err
		}

		out := make(map[string][]dispatcher.PlannedTask, len(eras))

		for _, era := range eras {
			planned, err := d.Describe(era)
			if err != nil {
				return fmt.Errorf("describe %s: %w", era, err)
			}

			out[era.String()] = planned
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	},
}

func init() {
	planCmd.Flags().StringVar(&planEra, "era", "", "only print this era (genesis, byron or multiera)")
	rootCmd.AddCommand(planCmd)
}
