package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Load a library by its logical name, via a running serve daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if _, err := sendSimpleCommand(socketPath, cmdAdd+" "+name); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
}
