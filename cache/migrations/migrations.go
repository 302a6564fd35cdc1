package migrations

import (
	"strings"

	migrate "github.com/rubenv/sql-migrate"

	"github.com/bridgewatch/bridgewatch/db"

	_ "embed"
)

const upDownSeparator = "-- +migrate Up"

//go:embed cache0001.sql
var mig001 string
var mig001splitted = strings.Split(mig001, upDownSeparator)

var cacheMigrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id:   "cache0001",
			Up:   []string{mig001splitted[1]},
			Down: []string{mig001splitted[0]},
		},
	},
}

func RunMigrations(dbPath string) error {
	return db.RunMigrations(dbPath, cacheMigrations)
}
