package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/admission"
	"github.com/trezcool/bhorti/core/registration"
	"github.com/trezcool/bhorti/core/settings"
	"github.com/trezcool/bhorti/core/user"
	pdfsvc "github.com/trezcool/bhorti/services/pdf"
)

type (
	ServerDeps struct {
		Conf            *core.Config
		Logger          core.Logger
		Validate        *validator.Validate
		Translator      ut.Translator
		UserSvc         user.Service
		SettingsSvc     settings.Service
		AdmissionSvc    admission.Service
		RegistrationSvc registration.Service
		Files           core.FileStore
		MediaRoot       string // served under Conf.Media.URL, empty to disable
		Slips           *pdfsvc.Generator
		DisableReqLogs  bool
	}

	Server struct {
		deps     ServerDeps
		app      *echo.Echo
		auth     *auth
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		auth:     newAuth(deps.Conf, deps.UserSvc),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.deps.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{conf.FrontendBaseURL},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	s.app.Use(middleware.BodyLimit("4M"))

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)
	if s.deps.MediaRoot != "" {
		s.app.Static(conf.Media.URL, s.deps.MediaRoot)
	}

	api := s.app.Group("/api")
	jwt := s.auth.jwt()

	s.registerUserAPI(api, jwt)
	s.registerSettingsAPI(api, jwt)
	s.registerAddressAPI(api)
	s.registerUploadAPI(api)
	s.registerAdmissionAPI(api, jwt)
	s.registerRegistrationAPI(api, jwt)
}

// Start blocks serving requests; listening errors are sent to Errors().
func (s *Server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Host); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{
		"name":  s.deps.Conf.AppName,
		"build": s.deps.Conf.Build,
		"forms": []string{settings.FormAdmission, settings.FormSSC, settings.FormClass6},
	})
}

func (s *Server) validate(data interface{ Validate(*validator.Validate) error }) error {
	return data.Validate(s.deps.Validate)
}
