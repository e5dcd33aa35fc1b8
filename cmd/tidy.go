/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"time"

	"dexwatch/db"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func tidyCmd() *cli.Command {
	return &cli.Command{
		Name:  "tidy",
		Usage: "Tidy up the database",
		Description: `Tidy up the database by forgetting old events.

		Removes identities first seen more than --days days ago. An event that is
		forgotten while DexScreener still lists it is notified again, so keep
		--days well above how long the feeds keep an entry.`,
		Flags: []cli.Flag{
			databaseFlag("dexwatch.db"),
			&cli.IntFlag{
				Name:    "days",
				Value:   30,
				Usage:   "Keep identities seen within this many days",
				EnvVars: []string{"DEXWATCH_TIDY_DAYS"},
			},
		},
		Action: func(ctx *cli.Context) error {
			days := ctx.Int("days")
			if days < 1 {
				return errors.New("--days must be at least 1")
			}

			database := ctx.String("database")
			log.WithField("database", database).Info("Database configured")
			if err := db.Migrate(database); err != nil {
				return err
			}

			seenDB, err := db.Open(database)
			if err != nil {
				return err
			}
			defer seenDB.Close()

			removed, err := seenDB.Tidy(ctx.Context, time.Duration(days)*24*time.Hour)
			if err != nil {
				return err
			}
			remaining, err := seenDB.Count(ctx.Context)
			if err != nil {
				return err
			}
			fields := log.Fields{"removed": removed}
			for kind, n := range remaining {
				fields[kind.String()] = n
			}
			log.WithFields(fields).Info("Tidied database")
			return nil
		},
	}
}
