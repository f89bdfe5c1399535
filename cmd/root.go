package cmd

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/anonmeet/anonmeet/internal/ui"
	"github.com/anonmeet/anonmeet/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "anonmeet",
	Short:   "Anonymous group calls in your terminal, powered by WebRTC",
	Long:    `AnonMeet is a command-line tool for anonymous audio/video group calls. Participants meet in a room identified by a short code and connect to each other directly over WebRTC in a full mesh; a lightweight document store is used only to find each other and exchange session descriptions.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		os.Exit(0)
	}()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
