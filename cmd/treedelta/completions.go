package main

import (
	"os"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/commands"
	"github.com/spf13/cobra"
)

// revisionCompletions suggests revision numbers for the positional
// revision arguments of checkout, update and diff.
func revisionCompletions(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	maxArgs := 1
	if cmd.Name() == "diff" {
		maxArgs = 2
	}
	if len(args) >= maxArgs {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	dir, err := os.Getwd()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	// The directory flag can override the current working directory.
	if dirFlag, err := cmd.Flags().GetString("directory"); err == nil && dirFlag != "" {
		dir = dirFlag
	}

	suggestions, err := commands.RevisionIdentifiers(dir)
	if err != nil {
		// Don't return an error, just fail to complete.
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return suggestions, cobra.ShellCompDirectiveNoFileComp
}
