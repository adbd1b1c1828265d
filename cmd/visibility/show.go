package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/echoai/visibility-engine/internal/storage"
)

func newShowCmd() *cobra.Command {
	var (
		dbPath string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a persisted run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.NewSQLiteStore(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if asJSON {
				data, err := json.MarshalIndent(run, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(data))
				return nil
			}

			cmd.Printf("run %s (%s)\n", run.ID, run.Status)
			cmd.Printf("  experiment: %s\n", run.ExperimentID)
			cmd.Printf("  provider:   %s / %s\n", run.Provider, run.Model)
			cmd.Printf("  iterations: %d successful, %d failed of %d\n",
				run.SuccessfulIterations, run.FailedIterations, run.TotalIterations)
			if run.FailureReason != "" {
				cmd.Printf("  failure:    %s\n", run.FailureReason)
			}
			if run.Metrics != nil {
				m := run.Metrics
				cmd.Printf("  visibility: %.1f%% (%.0f%% CI %.1f%%-%.1f%%)\n",
					m.VisibilityRate*100, m.ConfidenceLevel*100,
					m.Interval.Lower*100, m.Interval.Upper*100)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "runs.db", "SQLite file holding persisted runs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run as JSON")
	return cmd
}

func newListCmd() *cobra.Command {
	var (
		dbPath       string
		experimentID string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted runs for an experiment",
		RunE: func(cmd *cobra.Command, args []string) error {
			if experimentID == "" {
				return fmt.Errorf("--experiment-id is required")
			}

			store, err := storage.NewSQLiteStore(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), experimentID)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				cmd.Println("no runs found")
				return nil
			}

			for _, run := range runs {
				line := fmt.Sprintf("%s  %-9s  %d/%d ok", run.ID, run.Status,
					run.SuccessfulIterations, run.TotalIterations)
				if run.Metrics != nil {
					line += fmt.Sprintf("  visibility %.1f%%", run.Metrics.VisibilityRate*100)
				}
				cmd.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "runs.db", "SQLite file holding persisted runs")
	cmd.Flags().StringVar(&experimentID, "experiment-id", "", "experiment whose runs to list")
	return cmd
}
