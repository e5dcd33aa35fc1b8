/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"dexwatch/db"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Run database migrations",
		Description: `Runs database migrations on the configured database. Will create the database if it does not exist.`,
		Flags: []cli.Flag{
			databaseFlag("dexwatch.db"),
		},
		Action: func(ctx *cli.Context) error {
			database := ctx.String("database")
			log.WithField("database", database).Info("Database configured")
			return db.Migrate(database)
		},
	}
}

func rollbackCmd() *cli.Command {
	return &cli.Command{
		Name:        "rollback",
		Usage:       "Rollback database migration",
		Description: `Rolls back the last database migration`,
		Flags: []cli.Flag{
			databaseFlag("dexwatch.db"),
		},
		Action: func(ctx *cli.Context) error {
			database := ctx.String("database")
			log.WithField("database", database).Info("Database configured")
			return db.Rollback(database)
		},
	}
}
