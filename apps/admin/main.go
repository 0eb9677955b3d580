package main

import (
	"fmt"
	"os"

	"github.com/trezcool/engage/core"
	"github.com/trezcool/engage/services/logger"
	"github.com/trezcool/engage/storage/database"
	"github.com/trezcool/engage/storage/database/inmem"
	"github.com/trezcool/engage/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewZapLogger(conf)

	cli := commandLine{
		conf:   conf,
		logger: logger,
		out:    os.Stdout,
	}

	// createdb runs before the app database exists
	if len(os.Args) < 2 || os.Args[1] != "createdb" {
		if conf.Database.UsesInMemory() {
			logger.Warn("in-memory engine: changes are lost on exit")
			cli.repo = inmemdb.NewLearnerRepository(inmemdb.Open())
		} else {
			db, err := database.Open(conf)
			if err != nil {
				logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
			}
			defer func() { _ = db.Close() }()
			cli.db = db
			cli.repo = sqlxrepos.NewLearnerRepository(db)
		}
	}

	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %v", err), err)
		}
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}
