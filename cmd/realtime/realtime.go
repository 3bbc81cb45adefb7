// Package realtime implements the main daemon command.
package realtime

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/vinyl-go/internal/conf"
	"github.com/tphakala/vinyl-go/internal/daemon"
)

// Command creates the realtime monitoring command.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Monitor audio in realtime mode",
		Long:  "Start listening to the configured audio source and scrobble recognized plays.",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Settings load after flag parsing so bound flags override
			// the config file.
			settings, err := conf.Load()
			if err != nil {
				return err
			}
			return daemon.Run(settings)
		},
	}

	setupFlags(cmd)
	return cmd
}

// setupFlags binds command line flags to their viper settings so the flag
// value wins over config.yaml when given.
func setupFlags(cmd *cobra.Command) {
	cmd.Flags().String("source", viper.GetString("realtime.audio.source"), "Audio capture source (\"sysdefault\", \"USB Audio\", etc.)")
	cmd.Flags().Bool("debug", viper.GetBool("debug"), "Enable debug output")
	cmd.Flags().Bool("telemetry", viper.GetBool("realtime.telemetry.enabled"), "Enable Prometheus telemetry endpoint")
	cmd.Flags().String("listen", viper.GetString("realtime.telemetry.listen"), "Listen address and port of telemetry endpoint")
	cmd.Flags().String("port", viper.GetString("webserver.port"), "HTTP API port")

	bindings := map[string]string{
		"realtime.audio.source":      "source",
		"debug":                      "debug",
		"realtime.telemetry.enabled": "telemetry",
		"realtime.telemetry.listen":  "listen",
		"webserver.port":             "port",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			fmt.Printf("error binding flag %s: %v\n", flag, err)
		}
	}
}
