package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "screen-share",
	Short:        "Screen sharing over WebRTC with a WebSocket signaling relay",
	Long:         `Signaling relay plus host and viewer clients. Commands: serve, host, view, discover.`,
	RunE:         runServe, // default: run the relay (same as "screen-share serve")
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(discoverCmd)
}

// Execute runs the root command and returns the error (for main to log.Fatal).
func Execute() error {
	return rootCmd.Execute()
}
