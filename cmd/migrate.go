/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"streamhub/db"

	"github.com/urfave/cli/v2"
)

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Run database migrations",
		Description: `Applies all pending migrations to the configured PostgreSQL database.`,
		Flags: []cli.Flag{
			databaseURLFlag(true),
		},
		Action: func(ctx *cli.Context) error {
			return db.Migrate(ctx.String("database-url"))
		},
	}
}

func rollbackCmd() *cli.Command {
	return &cli.Command{
		Name:        "rollback",
		Usage:       "Rollback database migration",
		Description: `Rolls back the last database migration`,
		Flags: []cli.Flag{
			databaseURLFlag(true),
		},
		Action: func(ctx *cli.Context) error {
			return db.Rollback(ctx.String("database-url"))
		},
	}
}
