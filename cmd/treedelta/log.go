package main

import (
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/commands"
	"github.com/spf13/cobra"
)

func NewLogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log [directory]",
		Short: "List the revisions of the repository a directory belongs to.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return commands.Log(dir)
		},
	}
	return cmd
}
