package main

import (
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/commands"
	"github.com/spf13/cobra"
)

// NewUpdateCommand creates the 'update' command for the CLI.
func NewUpdateCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:               "update [revision]",
		Short:             "Bring a working copy to a revision (HEAD by default).",
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: revisionCompletions,
		RunE: func(cmd *cobra.Command, args []string) error {
			rev := ""
			if len(args) > 0 {
				rev = args[0]
			}
			return commands.Update(dir, rev)
		},
	}

	cmd.Flags().StringVarP(&dir, "directory", "d", ".", "The working copy to update")

	return cmd
}
