package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the libraries a running serve daemon has loaded",
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := fetchStatus(socketPath)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tLOAD PATH\tRELOADS")
		for _, row := range rows {
			fmt.Fprintf(w, "%s\t%s\t%d\n", row.Name, row.LoadPath, row.Reloads)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
