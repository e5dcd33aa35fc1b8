/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"dexwatch/dexscreener"
	"dexwatch/models"
)

func fetchCmd() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Print the current snapshot of a feed",
		Description: `Fetches one DexScreener feed once and prints every record to stdout.

Returns each record as a JSON object on a single line. Use a tool like jq to
process the output.

Orders are looked up for the tokens listed in the other three feeds.

Prints all other log messages to stderr.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "kind",
				Aliases:  []string{"k"},
				Usage:    "Feed to fetch (ads, profiles, boosts, orders)",
				Required: true,
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Value:   10 * time.Second,
				Usage:   "Timeout for each upstream request",
				EnvVars: []string{"DEXWATCH_TIMEOUT"},
			},
			&cli.IntFlag{
				Name:    "max-order-lookups",
				Value:   50,
				Usage:   "Maximum number of tokens whose paid orders are checked",
				EnvVars: []string{"DEXWATCH_MAX_ORDER_LOOKUPS"},
			},
		},
		Action: func(ctx *cli.Context) error {
			// Disable logging to stdout
			log.SetOutput(os.Stderr)

			kind, err := models.ParseFeedKind(ctx.String("kind"))
			if err != nil {
				return err
			}

			client := dexscreener.NewClient(dexscreener.DefaultBaseURL, dexscreener.WithTimeout(ctx.Duration("timeout")))
			fetcher := dexscreener.NewFetcher(client, ctx.Int("max-order-lookups"))

			if kind == models.PaidOrder {
				// Orders are per token, collect tokens first
				for _, k := range []models.FeedKind{models.BannerAd, models.TokenProfile, models.TokenBoost} {
					if _, err := fetcher.Fetch(ctx.Context, k); err != nil {
						log.WithFields(log.Fields{
							"kind":  k,
							"error": err,
						}).Warn("Could not collect tokens")
					}
				}
				log.WithField("tokens", fetcher.Tokens().Len()).Info("Looking up orders")
			}

			records, err := fetcher.Fetch(ctx.Context, kind)
			if err != nil {
				return err
			}

			for i := range records {
				printStdout(&records[i])
			}
			return nil
		},
	}
}

func printStdout(record *models.Record) {
	// Print as single JSON string on a single line
	recordJson, err := json.Marshal(record)
	if err == nil {
		fmt.Println(string(recordJson))
	}
}
