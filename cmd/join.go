package cmd

import (
	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:     "join <room-code>",
	Aliases: []string{"j"},
	Short:   "Join an existing room",
	Long: `Join a room created by another participant using its code.

Examples:
  anonmeet join brave-otter-42
  anonmeet join brave-otter-42 --name bob`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadCallConfig()
		if err != nil {
			return err
		}
		return runCall(args[0], cfg)
	},
}

func init() {
	registerCallFlags(joinCmd)
	rootCmd.AddCommand(joinCmd)
}
