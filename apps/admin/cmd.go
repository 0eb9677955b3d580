package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	"github.com/trezcool/engage/core"
	"github.com/trezcool/engage/core/learner"
	"github.com/trezcool/engage/core/risk"
	"github.com/trezcool/engage/fs"
	"github.com/trezcool/engage/services/content"
	"github.com/trezcool/engage/storage/database"
)

var (
	createDBFunc = database.CreateIfNotExist // mockable

	errHelp       = errors.New("help provided")
	errNeedsSQLDB = errors.New("this command needs the postgres engine")
)

type commandLine struct {
	conf   *core.Config
	logger core.Logger
	db     *sqlx.DB // nil with the inmem engine
	repo   learner.Repository
	out    io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  createdb                      - create the app database & user if they do not exist")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]        - run a goose migration command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  seed [-csv PATH]              - upsert learners from a CSV file (the sample data by default)")
	fmt.Fprintln(cli.out, "  recompute [-workers N]        - recompute every learner's risk")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	seedCmd := flag.NewFlagSet("seed", flag.ContinueOnError)
	seedCmd.SetOutput(cli.out)
	seedCSV := seedCmd.String("csv", "", "Path of the CSV file to import. The embedded sample data is used when empty.")

	recomputeCmd := flag.NewFlagSet("recompute", flag.ContinueOnError)
	recomputeCmd.SetOutput(cli.out)
	recomputeWorkers := recomputeCmd.Int("workers", 0, "Number of scoring workers. Defaults to the number of CPUs.")

	ctx := context.Background()

	switch args[1] {
	case "createdb":
		return createDBFunc(cli.conf)
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "seed":
		if err := seedCmd.Parse(args[2:]); err != nil {
			return parseErr(err)
		}
		return cli.seed(ctx, *seedCSV)
	case "recompute":
		if err := recomputeCmd.Parse(args[2:]); err != nil {
			return parseErr(err)
		}
		if *recomputeWorkers < 0 {
			recomputeCmd.Usage()
			return errHelp
		}
		return cli.recompute(ctx, *recomputeWorkers)
	default:
		cli.printUsage()
		return errHelp
	}
}

func parseErr(err error) error {
	if errors.Is(err, flag.ErrHelp) {
		return errHelp
	}
	return err
}

func (cli *commandLine) service() *learner.Service {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	learner.InitValidators(validate, translator)

	generator := contentsvc.NewGenerator(cli.conf, contentsvc.NewFallback(nil), cli.logger)
	return learner.NewService(cli.repo, generator, nil /* mailSvc */, validate, cli.logger, cli.conf)
}

// seed upserts the learners of the CSV file at path, matched by email.
func (cli *commandLine) seed(ctx context.Context, path string) error {
	var (
		f   io.ReadCloser
		err error
	)
	if path == "" {
		f, err = appfs.FS.Open(appfs.SampleLearnersCSVPath)
	} else {
		f, err = os.Open(path)
	}
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	records, err := learner.ParseCSV(f)
	if err != nil {
		return err
	}
	res, err := cli.service().Import(ctx, records)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "processed: %d, created: %d, updated: %d, failed: %d\n", res.Processed, res.Created, res.Updated, res.Failed)
	return nil
}

func (cli *commandLine) recompute(ctx context.Context, workers int) error {
	if workers > 0 {
		cli.conf.Nudge.Workers = workers
	}
	learners, counts, err := cli.service().Recompute(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "recomputed %d learners: high=%d medium=%d low=%d\n",
		len(learners), counts[risk.LabelHigh], counts[risk.LabelMedium], counts[risk.LabelLow])
	return nil
}
