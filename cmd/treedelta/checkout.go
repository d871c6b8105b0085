package main

import (
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/commands"
	"github.com/spf13/cobra"
)

// NewCheckoutCommand creates the 'checkout' command for the CLI.
func NewCheckoutCommand() *cobra.Command {
	var sourceDir string
	var outputDir string

	cmd := &cobra.Command{
		Use:   "checkout <revision>",
		Short: "Check out a revision into a new working copy.",
		Long: `Writes the tree of a revision into the output directory and records
it as a working copy of the repository. The revision is a number, rN or
HEAD.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: revisionCompletions,
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.Checkout(sourceDir, args[0], outputDir)
		},
	}

	cmd.Flags().StringVarP(&sourceDir, "directory", "d", ".", "The directory containing the .treedelta repository")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "The directory to check out into")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}
