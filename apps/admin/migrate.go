package main

import (
	"context"

	"github.com/trezcool/bhorti/storage/database"
)

var gooseRunFunc = database.RunMigrations // mockable

func (cli *commandLine) migrate(ctx context.Context, args []string) error {
	return gooseRunFunc(ctx, cli.db, cli.conf, args[0], args[1:]...)
}
