/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "dexwatch",
		Usage: "Telegram alerts for new DexScreener ads, profiles, boosts and orders",
		Description: `Polls the public DexScreener API and posts a Telegram message for every
		new banner ad, token profile, token boost and paid order.

		The first poll only records what is already listed so that a restart
		does not flood the chat. Seen events can be kept in an SQLite database
		to survive restarts.

		Flags can generally be set via environment variables, e.g.:

		--interval => DEXWATCH_INTERVAL=30s
		--telegram-token => TELEGRAM_BOT_TOKEN=123:abc
		--chat-id => TELEGRAM_CHAT_ID=-1001234

		A .env file in the working directory is loaded before flags are parsed.
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (trace, debug, info, warn, error)",
				EnvVars: []string{"DEXWATCH_LOG_LEVEL"},
			},
		},
		Before: func(ctx *cli.Context) error {
			level, err := log.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return err
			}
			log.SetLevel(level)
			return nil
		},
		Commands: []*cli.Command{
			monitorCmd(),
			fetchCmd(),
			migrateCmd(),
			rollbackCmd(),
			tidyCmd(),
			chatIDCmd(),
			testMessageCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

// Execute loads .env and runs the app
func Execute() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("Could not load .env file")
	}

	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
