package main

import (
	"os"

	"github.com/tphakala/vinyl-go/cmd"
	"github.com/tphakala/vinyl-go/internal/logging"
)

func main() {
	logging.Init()

	rootCmd := cmd.RootCommand()
	if err := rootCmd.Execute(); err != nil {
		logging.Error("command failed", "error", err)
		os.Exit(1)
	}
}
