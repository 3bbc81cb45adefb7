// Package devices implements the audio capture device listing command.
package devices

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/vinyl-go/internal/myaudio"
)

// Command creates the capture device listing command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available audio capture devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := myaudio.ListAudioSources()
			if err != nil {
				return fmt.Errorf("failed to enumerate capture devices: %w", err)
			}
			if len(infos) == 0 {
				cmd.Println("No audio capture devices found.")
				return nil
			}

			cmd.Println("Available audio capture devices:")
			for _, info := range infos {
				cmd.Printf("  %d: %s\n", info.Index, info.Name)
			}
			cmd.Println()
			cmd.Println("Set realtime.audio.source in config.yaml to the device name,")
			cmd.Println("or pass it with 'vinyl realtime --source'.")
			return nil
		},
	}
}
