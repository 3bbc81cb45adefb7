// Package authlastfm implements the one-time Last.fm desktop authorization
// flow that produces a permanent session key.
package authlastfm

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tphakala/vinyl-go/internal/scrobble"
)

// Command creates the Last.fm authorization command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "authlastfm",
		Short: "Authorize this station with your Last.fm account",
		Long: "Runs the Last.fm desktop authorization flow: open the printed URL, " +
			"approve the application, and the resulting session key is printed. " +
			"Session keys do not expire; store the key in LASTFM_SESSION_KEY.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuth(cmd, os.Stdin)
		},
	}
}

func runAuth(cmd *cobra.Command, stdin *os.File) error {
	apiKey := os.Getenv("LASTFM_API_KEY")
	apiSecret := os.Getenv("LASTFM_API_SECRET")
	if apiKey == "" || apiSecret == "" {
		return fmt.Errorf("LASTFM_API_KEY and LASTFM_API_SECRET must be set; " +
			"create API credentials at https://www.last.fm/api/account/create")
	}

	client := scrobble.NewClient(apiKey, apiSecret, "")

	token, err := client.GetToken()
	if err != nil {
		return fmt.Errorf("failed to request auth token: %w", err)
	}

	cmd.Println("Open this URL in a browser and authorize the application:")
	cmd.Println()
	cmd.Println("  " + client.AuthURL(token))
	cmd.Println()
	cmd.Print("Press Enter once you have approved access... ")
	if _, err := bufio.NewReader(stdin).ReadString('\n'); err != nil {
		return fmt.Errorf("failed to read confirmation: %w", err)
	}

	sessionKey, err := client.GetSession(token)
	if err != nil {
		return fmt.Errorf("failed to fetch session key (was access approved?): %w", err)
	}

	cmd.Println()
	cmd.Println("Authorization complete. Add this to the daemon's environment:")
	cmd.Println()
	cmd.Printf("  export LASTFM_SESSION_KEY=%s\n", sessionKey)
	return nil
}
