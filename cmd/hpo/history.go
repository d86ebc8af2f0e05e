package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/thalesfsp/hpo"
)

func newHistoryCmd() *cobra.Command {
	var file, historyDir, run string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the trials of a persisted run and its incumbent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			def, err := hpo.LoadDefinition(file)
			if err != nil {
				return err
			}

			if historyDir != "" {
				def.History.Dir = historyDir
			}

			if run != "" {
				def.History.Run = run
			}

			if def.History.Dir == "" {
				return errors.New("no history directory: set history.dir or --history-dir")
			}

			space, err := def.ToSpace()
			if err != nil {
				return err
			}

			history, err := openHistory(cmd.Context(), def, space)
			if err != nil {
				return err
			}
			defer history.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TRIAL\tHASH\tSTATUS\tCOST\tDURATION\tCONFIG")

			for _, t := range history.Trials() {
				cost := "-"
				if t.Status == hpo.TrialSucceeded {
					cost = fmt.Sprintf("%g", t.Cost)
				}

				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", t.Index, t.Hash, t.Status, cost, t.Duration.Round(1e6), t.Config)
			}

			if err := w.Flush(); err != nil {
				return err
			}

			inc, err := history.IncumbentObservation()
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Incumbent: none (%v)\n", err)
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Incumbent %s (cost %g over %d runs): %s\n", inc.Hash, inc.Cost, len(inc.Costs), inc.Config)

			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", envOr(envFile, "hpo.yaml"), "definition file")
	f.StringVar(&historyDir, "history-dir", envOr(envHistoryDir, ""), "directory of the run history")
	f.StringVar(&run, "run", envOr(envRun, ""), "run name within the history directory")

	return cmd
}
