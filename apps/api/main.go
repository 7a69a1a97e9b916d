package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // register the /debug/pprof handlers
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	echoapi "github.com/trezcool/bhorti/apps/api/echo"
	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/address"
	"github.com/trezcool/bhorti/core/admission"
	"github.com/trezcool/bhorti/core/applicant"
	"github.com/trezcool/bhorti/core/registration"
	"github.com/trezcool/bhorti/core/settings"
	"github.com/trezcool/bhorti/core/user"
	emailsvc "github.com/trezcool/bhorti/services/email"
	logsvc "github.com/trezcool/bhorti/services/logger"
	pdfsvc "github.com/trezcool/bhorti/services/pdf"
	rediscache "github.com/trezcool/bhorti/storage/cache/redis"
	"github.com/trezcool/bhorti/storage/database"
	sqlxrepos "github.com/trezcool/bhorti/storage/database/sqlx"
	filestore "github.com/trezcool/bhorti/storage/files"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	defer logger.Close()

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	// set up DB
	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			dbLogger.Fatal("Failed to close", err)
		}
	}()

	// set up redis (optional): settings cache & serial allocation
	var settingsCache settings.Cache
	var serials core.SerialAllocator = sqlxrepos.NewSerialCounter(db)
	if conf.Redis.URL != "" {
		rdb, err := rediscache.Open(context.Background(), conf.Redis.URL)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up redis: %v", err), err)
		}
		defer rdb.Close()

		settingsCache = rediscache.NewSettingsCache(rdb)
		serials = rediscache.NewSerialAllocator(rdb, sqlxrepos.NewSerialCounter(db), logger)
	}

	// set up services
	mailSvc := emailsvc.New(conf, log.New(os.Stdout, "MAIL : ", log.LstdFlags), logger)
	files := filestore.NewLocalStore(conf)
	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db))
	settingsSvc := settings.NewService(sqlxrepos.NewSettingsRepository(db), settingsCache, logger)
	admSvc := admission.NewService(db, sqlxrepos.NewAdmissionRepository(db), serials, settingsSvc, mailSvc, logger)
	regSvc := registration.NewService(db, sqlxrepos.NewRegistrationRepository(db), serials, settingsSvc, mailSvc)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	address.InitValidators(validate, translator)
	applicant.InitValidators(validate, translator)
	admission.InitValidators(validate)
	registration.InitValidators(validate)
	settings.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	core.ParseEmailTemplates(conf, logger)

	user.LoadCommonPasswords(logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:            conf,
			Logger:          logger,
			Validate:        validate,
			Translator:      translator,
			UserSvc:         usrSvc,
			SettingsSvc:     settingsSvc,
			AdmissionSvc:    admSvc,
			RegistrationSvc: regSvc,
			Files:           files,
			MediaRoot:       files.Root(),
			Slips:           pdfsvc.NewGenerator(conf, files, logger),
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

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(context.Background(), db, conf); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
