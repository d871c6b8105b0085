package main

import (
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/commands"
	"github.com/spf13/cobra"
)

func NewCommitCommand() *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "commit [directory]",
		Short: "Commit the changes in a working copy as a new revision.",
		Long: `Drives the difference between the working copy's base revisions and
its files on disk into the repository. A directory that is not yet a
working copy becomes one, committing into a repository of its own.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return commands.Commit(dir, message)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "A message to associate with the revision")

	return cmd
}
