package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCompletionCommand creates the 'completion' command, which writes a
// shell completion script for treedelta. Revision arguments of checkout,
// update and diff complete to the revisions of the repository in scope.
func NewCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate completion script",
		Long: `To load completions:

Bash:

  $ source <(treedelta completion bash)

  To load completions for all new sessions, run once:
  $ treedelta completion bash > /etc/bash_completion.d/treedelta

Zsh:

  $ treedelta completion zsh > "${fpath[1]}/_treedelta"

  You will need to start a new shell for this setup to take effect.

Fish:

  $ treedelta completion fish | source
  $ treedelta completion fish > ~/.config/fish/completions/treedelta.fish

Powershell:

  PS> treedelta completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletionV2(out, true)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return fmt.Errorf("unsupported shell %q", args[0])
		},
	}
}
