package main

import (
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/commands"
	"github.com/spf13/cobra"
)

// NewDiffCommand creates the 'diff' command, which prints the edit that
// turns one revision into another.
func NewDiffCommand() *cobra.Command {
	var dir string
	var asYAML bool

	cmd := &cobra.Command{
		Use:               "diff <from> <to>",
		Short:             "Show the tree delta between two revisions.",
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: revisionCompletions,
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.Diff(dir, args[0], args[1], asYAML, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&dir, "directory", "d", ".", "A working copy or repository directory")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print every editor call and delta window as yaml")

	return cmd
}
