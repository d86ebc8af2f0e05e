package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thalesfsp/hpo"
)

func newValidateCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a definition file and print its default configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			def, err := hpo.LoadDefinition(file)
			if err != nil {
				return err
			}

			space, err := def.ToSpace()
			if err != nil {
				return err
			}

			if def.Executable.Path != "" {
				if _, err := def.ToExecutor(); err != nil {
					return err
				}
			}

			if err := def.ToConfig().Validate(); err != nil {
				return err
			}

			cfg := space.DefaultConfiguration()
			if err := space.Validate(cfg); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Hyperparameters: %d\n", space.Len())

			for _, h := range space.Hyperparameters() {
				if c, ok := space.Condition(h.Name); ok {
					fmt.Fprintf(w, "  %s (%s) if %s=%s\n", h.Name, h.Kind, c.Parent, hpo.FormatValue(c.Value))
				} else {
					fmt.Fprintf(w, "  %s (%s)\n", h.Name, h.Kind)
				}
			}

			fmt.Fprintf(w, "Default %s: %s\n", cfg.Hash(), cfg)

			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", envOr(envFile, "hpo.yaml"), "definition file")

	return cmd
}
