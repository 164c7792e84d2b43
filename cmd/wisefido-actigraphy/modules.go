package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"wisefido-actigraphy/internal/module/builtin"
)

func modulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List built-in modules with their inputs and outputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := builtin.NewRegistry()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODULE\tVERSION\tSTREAMS\tREQUIRES\tPRODUCES")
			for _, name := range registry.Names() {
				m, err := registry.Create(name, nil)
				if err != nil {
					return err
				}
				spec := m.Spec()
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", spec.Name, spec.Version,
					orDash(spec.Streams), orDash(spec.Requires), strings.Join(spec.Produces, ","))
			}
			return tw.Flush()
		},
	}
}

func orDash(s []string) string {
	if len(s) == 0 {
		return "-"
	}
	return strings.Join(s, ",")
}
