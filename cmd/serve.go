/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"streamhub/aggregator"
	"streamhub/config"
	"streamhub/delivery"
	"streamhub/events"
	"streamhub/feeds"
	"streamhub/server"
	"streamhub/sources"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the aggregator HTTP API and run ingestion",
		Description: `Starts the HTTP server, runs an initial aggregation pass over every
		configured stream, registers the webhook callback with each provider and
		then keeps polling all streams as a fallback.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on",
				EnvVars: []string{"STREAMHUB_PORT"},
				Value:   config.DefaultPort,
			},
			&cli.StringFlag{
				Name:    "allow-origins",
				Usage:   "Comma separated list of origins allowed by CORS",
				EnvVars: []string{"STREAMHUB_ALLOW_ORIGINS"},
				Value:   "*",
			},
			baseURLFlag(),
			pollIntervalFlag(),
			requestTimeoutFlag(),
			providersFlag(),
			databaseURLFlag(false),
			natsURLFlag(),
		},
		Action: func(ctx *cli.Context) error {
			settings := settingsFromFlags(ctx)
			if err := settings.Validate(); err != nil {
				return err
			}

			registry, err := loadRegistry(ctx.String("providers"))
			if err != nil {
				return err
			}

			// Graceful shutdown on interrupt
			runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := openStore(runCtx, settings.DatabaseURL)
			if err != nil {
				return err
			}
			defer store.Close()

			natsPublisher, err := newPublisher(settings.NATSURL)
			if err != nil {
				return err
			}
			broadcaster := server.NewBroadcaster()
			publisher := events.Multi{broadcaster, natsPublisher}
			defer publisher.Close()

			client := sources.NewHTTPClient()
			supervisor := delivery.NewSupervisor(runCtx)
			coordinator := delivery.NewCoordinator(delivery.Config{
				Aggregator: aggregator.New(
					registry,
					sources.NewFetcher(client, settings.RequestTimeout),
					store,
					publisher,
				),
				Handshaker:   sources.NewSubscriber(client, settings.RequestTimeout),
				Streams:      registry.Streams(),
				Store:        store,
				Publisher:    publisher,
				Supervisor:   supervisor,
				BaseURL:      settings.BaseURL,
				PollInterval: settings.PollInterval,
			})

			app := server.Server(&server.ServerConfig{
				Feeds:        feeds.NewService(store),
				Ingestor:     coordinator,
				Broadcaster:  broadcaster,
				AllowOrigins: ctx.String("allow-origins"),
			})

			listenErr := make(chan error, 1)
			go func() {
				log.WithField("port", settings.Port).Info("Starting server")
				listenErr <- app.Listen(fmt.Sprintf(":%d", settings.Port))
			}()

			// Webhooks must be reachable before the handshake runs
			if err := coordinator.Start(runCtx); err != nil {
				log.WithError(err).Warn("Startup interrupted")
			}

			select {
			case <-runCtx.Done():
				log.Info("Gracefully shutting down")
			case err := <-listenErr:
				stop()
				if err != nil {
					log.WithError(err).Error("Server stopped")
				}
			}

			if err := app.ShutdownWithTimeout(60 * time.Second); err != nil {
				log.WithError(err).Warn("Server shutdown")
			}
			waitForTasks(supervisor, 30*time.Second)

			log.Info("Done")
			return nil
		},
	}
}

// waitForTasks gives running passes a bounded time to finish
func waitForTasks(supervisor *delivery.Supervisor, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		supervisor.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn("Timed out waiting for background tasks")
	}
}

// runOnce builds a context that is cancelled on interrupt for one-shot commands
func runOnce(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
