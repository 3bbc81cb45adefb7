// Package cmd builds the command tree for the vinyl CLI.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/vinyl-go/cmd/authlastfm"
	"github.com/tphakala/vinyl-go/cmd/devices"
	"github.com/tphakala/vinyl-go/cmd/realtime"
)

// RootCommand creates and returns the root command.
func RootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vinyl",
		Short: "Vinyl recognition and scrobbling daemon",
		Long: "Listens to a turntable's audio feed, segments it into track-length " +
			"recordings, identifies them with music recognition services, and " +
			"scrobbles confirmed plays to Last.fm.",
	}

	rootCmd.AddCommand(
		realtime.Command(),
		authlastfm.Command(),
		devices.Command(),
	)

	return rootCmd
}
