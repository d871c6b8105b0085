package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "treedelta",
		Short: "Version a directory tree and move working copies between revisions with tree deltas.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// glog reads its flags from the go flag set; mark it parsed.
			return flag.CommandLine.Parse(nil)
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	// Add commands
	rootCmd.AddCommand(NewCommitCommand())
	rootCmd.AddCommand(NewCheckoutCommand())
	rootCmd.AddCommand(NewUpdateCommand())
	rootCmd.AddCommand(NewLogCommand())
	rootCmd.AddCommand(NewDiffCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	err := rootCmd.Execute()
	glog.Flush()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
