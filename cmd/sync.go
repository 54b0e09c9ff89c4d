/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"streamhub/aggregator"
	"streamhub/sources"

	"github.com/urfave/cli/v2"
)

func syncCmd() *cli.Command {
	return &cli.Command{
		Name:        "sync",
		Usage:       "Run a single aggregation pass",
		Description: `Fetches every configured stream once, stores the result and prints a report.`,
		Flags: []cli.Flag{
			requestTimeoutFlag(),
			providersFlag(),
			databaseURLFlag(false),
			natsURLFlag(),
		},
		Action: func(ctx *cli.Context) error {
			registry, err := loadRegistry(ctx.String("providers"))
			if err != nil {
				return err
			}

			runCtx, stop := runOnce(ctx.Context)
			defer stop()

			store, err := openStore(runCtx, ctx.String("database-url"))
			if err != nil {
				return err
			}
			defer store.Close()

			publisher, err := newPublisher(ctx.String("nats-url"))
			if err != nil {
				return err
			}
			defer publisher.Close()

			fetcher := sources.NewFetcher(sources.NewHTTPClient(), ctx.Duration("request-timeout"))
			report, err := aggregator.New(registry, fetcher, store, publisher).Run(runCtx)
			if err != nil {
				return fmt.Errorf("aggregation pass failed: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func handshakeCmd() *cli.Command {
	return &cli.Command{
		Name:        "handshake",
		Usage:       "Register the webhook callback with every stream",
		Description: `Subscribes {base-url}/webhooks/{stream} with each provider stream once and prints the outcome.`,
		Flags: []cli.Flag{
			baseURLFlag(),
			requestTimeoutFlag(),
			providersFlag(),
		},
		Action: func(ctx *cli.Context) error {
			registry, err := loadRegistry(ctx.String("providers"))
			if err != nil {
				return err
			}

			runCtx, stop := runOnce(ctx.Context)
			defer stop()

			subscriber := sources.NewSubscriber(sources.NewHTTPClient(), ctx.Duration("request-timeout"))
			report := subscriber.SubscribeAll(runCtx, registry.Streams(), ctx.String("base-url"))

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if len(report.Failed) > 0 {
				return cli.Exit(fmt.Sprintf("%d streams failed the handshake", len(report.Failed)), 1)
			}
			return nil
		},
	}
}
