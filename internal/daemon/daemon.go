// Package daemon assembles the realtime service from its components and
// runs it until a termination signal arrives.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tphakala/vinyl-go/internal/api"
	"github.com/tphakala/vinyl-go/internal/conf"
	"github.com/tphakala/vinyl-go/internal/datastore"
	"github.com/tphakala/vinyl-go/internal/duplicate"
	"github.com/tphakala/vinyl-go/internal/logging"
	"github.com/tphakala/vinyl-go/internal/monitor"
	"github.com/tphakala/vinyl-go/internal/mqtt"
	"github.com/tphakala/vinyl-go/internal/observability"
	"github.com/tphakala/vinyl-go/internal/recognition"
	"github.com/tphakala/vinyl-go/internal/scrobble"
)

// mqttConnectTimeout bounds the initial broker handshake so a dead broker
// never delays pipeline startup indefinitely.
const mqttConnectTimeout = 30 * time.Second

// Run starts the full realtime pipeline and blocks until SIGINT or SIGTERM.
func Run(settings *conf.Settings) error {
	log := logging.ForService("daemon")
	if log == nil {
		log = logging.Discard()
	}

	// The datastore holds the durable scrobble queue; nothing can run
	// without it.
	store := datastore.New(settings)
	if err := store.Open(); err != nil {
		return fmt.Errorf("failed to open datastore: %w", err)
	}

	orch, err := recognition.NewOrchestrator(settings)
	if err != nil {
		_ = store.Close()
		return err
	}

	lastfm := settings.Realtime.Scrobbler.Lastfm
	client := scrobble.NewClient(
		settings.Secrets.LastfmAPIKey,
		settings.Secrets.LastfmAPISecret,
		settings.Secrets.LastfmSessionKey,
	)
	if lastfm.Enabled && !client.Authenticated() {
		log.Warn("lastfm enabled but LASTFM_SESSION_KEY is not set; " +
			"run 'vinyl authlastfm' to authorize, queued scrobbles will wait")
	}
	queue := scrobble.NewQueue(store, client, lastfm)

	dupCfg := settings.Realtime.Duplicates
	dup := duplicate.New(duplicate.Config{
		Enabled:      dupCfg.Enabled,
		TimeWindow:   dupCfg.TimeWindow,
		CacheSize:    dupCfg.CacheSize,
		RefreshOnHit: dupCfg.RefreshOnHit,
	})

	metrics, err := observability.NewMetrics()
	if err != nil {
		_ = store.Close()
		return err
	}

	var mqttClient mqtt.Client
	if settings.Realtime.MQTT.Enabled {
		mqttClient, err = mqtt.NewClient(settings)
		if err != nil {
			_ = store.Close()
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), mqttConnectTimeout)
		if err := mqttClient.Connect(ctx); err != nil {
			// Auto-reconnect keeps trying in the background.
			log.Warn("initial MQTT connect failed, continuing", "error", err)
		}
		cancel()
	}

	mon := monitor.New(settings, store, orch, queue, dup, metrics, mqttClient)
	if err := mon.Start(); err != nil {
		_ = store.Close()
		return err
	}

	// Servers get their own quit channel: they outlive pipeline restarts
	// issued over the API.
	serverQuit := make(chan struct{})
	var serverWg sync.WaitGroup

	if settings.Realtime.Telemetry.Enabled {
		endpoint, err := observability.NewEndpoint(settings, metrics)
		if err != nil {
			log.Error("failed to initialize telemetry endpoint", "error", err)
		} else {
			endpoint.Start(&serverWg, serverQuit)
		}
	}

	if settings.WebServer.Enabled {
		controller := api.New(settings, mon)
		controller.Start(&serverWg, serverQuit)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("shutting down", "signal", sig.String())

	// Shutdown order: capture and workers first so no new writes race the
	// store, then the servers, the broker, and the datastore last.
	mon.Stop()
	close(serverQuit)
	serverWg.Wait()
	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	if err := store.Close(); err != nil {
		return fmt.Errorf("failed to close datastore: %w", err)
	}
	return nil
}
