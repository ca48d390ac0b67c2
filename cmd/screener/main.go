// Command screener answers phone calls on the owner's behalf, asks who is
// calling and why, then forwards, books or ends the call.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=..."
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "screener",
	Short:         "Real-time call screening agent for Twilio Media Streams",
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `screener answers incoming Twilio calls, talks with the caller through a
speech-to-text, chat and text-to-speech backend, and then forwards the call,
books a meeting on the owner's calendar, or politely ends it.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "screener", version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
