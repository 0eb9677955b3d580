package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof" // register the /debug/pprof handlers

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/engage/apps/api/echo"
	"github.com/trezcool/engage/core"
	"github.com/trezcool/engage/core/learner"
	"github.com/trezcool/engage/fs"
	"github.com/trezcool/engage/services/content"
	"github.com/trezcool/engage/services/email"
	"github.com/trezcool/engage/services/logger"
	"github.com/trezcool/engage/services/metrics"
	"github.com/trezcool/engage/storage/database"
	"github.com/trezcool/engage/storage/database/inmem"
	"github.com/trezcool/engage/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	zapLogger := logsvc.NewZapLogger(conf)
	defer zapLogger.Sync()

	var logger core.Logger = zapLogger
	if conf.RollbarToken != "" {
		rbLogger := logsvc.NewRollbarLogger(zapLogger, conf)
		rbLogger.Enable(!conf.Debug)
		defer rbLogger.Close()
		logger = rbLogger
	}

	// set up DB & repos
	repo, closeDB, err := setUpRepository(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = closeDB(); err != nil {
			logger.Error("closing database", err)
		}
	}()

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	generator := contentsvc.NewGenerator(
		conf,
		contentsvc.NewFallback(contentsvc.LoadTemplates(conf, logger)),
		logger,
	)
	recorder := metricsvc.NewRecorder()

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	learner.InitValidators(validate, translator)

	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, conf, logger)

	learnerSvc := learner.NewService(repo, generator, mailSvc, validate, logger, conf)
	learnerSvc.SetRecorder(recorder)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewString("db_engine").Set(conf.Database.Engine)
	expvar.NewString("llm_enabled").Set(fmt.Sprint(generator.Enabled()))

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			LearnerSvc: learnerSvc,
			Validate:   validate,
			Translator: translator,
			Metrics:    recorder,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

// setUpRepository returns the learner repository of the configured engine,
// along with a func to release its resources.
func setUpRepository(conf *core.Config) (learner.Repository, func() error, error) {
	if conf.Database.UsesInMemory() {
		db := inmemdb.Open()
		return inmemdb.NewLearnerRepository(db), func() error { return nil }, nil
	}

	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, nil, err
	}
	db, err := database.Open(conf)
	if err != nil {
		return nil, nil, err
	}
	if err = database.Migrate(db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return sqlxrepos.NewLearnerRepository(db), db.Close, nil
}
