package cmd

import (
	"github.com/spf13/cobra"

	"github.com/anonmeet/anonmeet/internal/roomcode"
	"github.com/anonmeet/anonmeet/internal/ui"
)

var createCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"c", "new"},
	Short:   "Create a room and wait for others",
	Long: `Create a new room with a generated code and join it immediately.

Examples:
  anonmeet create
  anonmeet create --name alice
  anonmeet create --store redis --redis-addr localhost:6379`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadCallConfig()
		if err != nil {
			return err
		}

		code := roomcode.Generate()
		ui.RenderRoomInfo(code, cfg.GetRoomLink(code))

		return runCall(code, cfg)
	},
}

func init() {
	registerCallFlags(createCmd)
	rootCmd.AddCommand(createCmd)
}
