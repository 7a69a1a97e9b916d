package main

import (
	"fmt"
	"log"
	"os"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/admission"
	"github.com/trezcool/bhorti/core/registration"
	"github.com/trezcool/bhorti/core/settings"
	emailsvc "github.com/trezcool/bhorti/services/email"
	logsvc "github.com/trezcool/bhorti/services/logger"
	"github.com/trezcool/bhorti/storage/database"
	sqlxrepos "github.com/trezcool/bhorti/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	if err = db.Ping(); err != nil {
		logger.Fatal(fmt.Sprintf("pinging database: %v", err), err)
	}

	core.ParseEmailTemplates(conf, logger)

	// approvals are mailed before the process exits
	mailSvc := emailsvc.NewSynchronous(conf, log.New(os.Stdout, "MAIL : ", log.LstdFlags), logger)
	serials := sqlxrepos.NewSerialCounter(db)
	settingsSvc := settings.NewService(sqlxrepos.NewSettingsRepository(db), nil, logger)

	// start CLI
	cli := commandLine{
		conf:    conf,
		db:      db,
		out:     os.Stdout,
		usrRepo: sqlxrepos.NewUserRepository(db),
		admSvc:  admission.NewService(db, sqlxrepos.NewAdmissionRepository(db), serials, settingsSvc, mailSvc, logger),
		regSvc:  registration.NewService(db, sqlxrepos.NewRegistrationRepository(db), serials, settingsSvc, mailSvc),
	}
	err = cli.run(os.Args)
	_ = db.Close()
	logger.Close()
	if err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
