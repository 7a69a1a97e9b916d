package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/address"
	"github.com/trezcool/bhorti/core/admission"
	"github.com/trezcool/bhorti/core/applicant"
	"github.com/trezcool/bhorti/core/registration"
	"github.com/trezcool/bhorti/core/settings"
	"github.com/trezcool/bhorti/core/user"
	"github.com/trezcool/bhorti/storage/database"
)

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
func (NopLogger) Fatal(string, ...interface{}) {}

// MailRecorder is an EmailService keeping the messages it was asked to send.
type MailRecorder struct {
	Messages []*core.EmailMessage
}

func (mr *MailRecorder) SendMessages(msgs ...*core.EmailMessage) {
	mr.Messages = append(mr.Messages, msgs...)
}

// Config returns a test config rooted in a temporary directory.
func Config(t *testing.T) *core.Config {
	return core.NewTestConfig(t.TempDir())
}

// PrepareDB creates and migrates a fresh sqlite database, closed at the end of the test.
func PrepareDB(t *testing.T, conf ...*core.Config) *sqlx.DB {
	t.Helper()
	var cfg *core.Config
	if len(conf) > 0 {
		cfg = conf[0]
	} else {
		cfg = Config(t)
	}

	if err := database.CreateIfNotExist(cfg); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	db, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(context.Background(), db, cfg); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return db
}

// NewValidator returns a validator with every application validation registered.
func NewValidator() *validator.Validate {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	address.InitValidators(validate, translator)
	applicant.InitValidators(validate, translator)
	admission.InitValidators(validate)
	registration.InitValidators(validate)
	settings.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	user.LoadCommonPasswords(NopLogger{})
	return validate
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	usr.SetActive(isActive)
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}
