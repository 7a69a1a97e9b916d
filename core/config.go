package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env              string
		Debug            bool
		TestMode         bool
		AppName          string
		Build            string
		SecretKey        string
		WorkDir          string
		FrontendBaseURL  string
		SendgridApiKey   string
		RollbarToken     string
		defaultFromEmail string

		Server   ServerConfig
		Database DatabaseConfig
		Redis    RedisConfig
		Media    MediaConfig
	}

	ServerConfig struct {
		Host                      string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		FormTokenExpirationDelta  time.Duration
	}

	DatabaseConfig struct {
		Engine        string // postgres | sqlite
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		Path          string // sqlite only
	}

	RedisConfig struct {
		URL string // empty disables redis
	}

	MediaConfig struct {
		Root         string
		URL          string
		MaxPhotoSize int64 // bytes
	}
)

func (c *Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(c.defaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: "noreply@localhost"}
	}
	return *addr
}

func (dc DatabaseConfig) Address() string {
	return net.JoinHostPort(dc.Host, dc.Port)
}

func (dc DatabaseConfig) IsSqlite() bool {
	return dc.Engine == "sqlite"
}

// NewConfig reads the configuration from defaults, `config/.env.<env>` and the environment, in that order.
func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("appName", "Bhorti")
	conf.SetDefault("build", "develop")
	conf.SetDefault("secretKey", "k2#u9-d8w=bq^v0x+1r!7g@z4m(e6t)s&j3y%ln5hpcf")
	conf.SetDefault("frontendBaseURL", "http://localhost:3000")
	conf.SetDefault("defaultFromEmail", "Bhorti <noreply@localhost>")
	conf.SetDefault("sendgridApiKey", "")
	conf.SetDefault("rollbarToken", "")

	conf.SetDefault("server.host", ":8000")
	conf.SetDefault("server.debugHost", ":4000")
	conf.SetDefault("server.shutdownTimeout", 5*time.Second)
	conf.SetDefault("server.jwtExpirationDelta", 8*time.Hour)
	conf.SetDefault("server.jwtRefreshExpirationDelta", 7*24*time.Hour)
	conf.SetDefault("server.formTokenExpirationDelta", 60*24*time.Hour)

	conf.SetDefault("database.engine", "postgres")
	conf.SetDefault("database.host", "localhost")
	conf.SetDefault("database.port", "5432")
	conf.SetDefault("database.name", "bhorti")
	conf.SetDefault("database.user", "bhorti")
	conf.SetDefault("database.password", "bhorti")
	conf.SetDefault("database.adminUser", "postgres")
	conf.SetDefault("database.adminPassword", "postgres")
	conf.SetDefault("database.disableTLS", true)
	conf.SetDefault("database.path", "bhorti.db")

	conf.SetDefault("redis.url", "")

	conf.SetDefault("media.root", "media")
	conf.SetDefault("media.url", "/media")
	conf.SetDefault("media.maxPhotoSize", 300*1024)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	conf.SetDefault("testMode", env == "TEST")
	conf.SetEnvPrefix(env)
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	wd := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return &Config{
		Env:              env,
		Debug:            conf.GetBool("debug"),
		TestMode:         conf.GetBool("testMode"),
		AppName:          conf.GetString("appName"),
		Build:            conf.GetString("build"),
		SecretKey:        conf.GetString("secretKey"),
		WorkDir:          wd,
		FrontendBaseURL:  conf.GetString("frontendBaseURL"),
		SendgridApiKey:   conf.GetString("sendgridApiKey"),
		RollbarToken:     conf.GetString("rollbarToken"),
		defaultFromEmail: conf.GetString("defaultFromEmail"),
		Server: ServerConfig{
			Host:                      conf.GetString("server.host"),
			DebugHost:                 conf.GetString("server.debugHost"),
			ShutdownTimeout:           conf.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        conf.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: conf.GetDuration("server.jwtRefreshExpirationDelta"),
			FormTokenExpirationDelta:  conf.GetDuration("server.formTokenExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        conf.GetString("database.engine"),
			Host:          conf.GetString("database.host"),
			Port:          conf.GetString("database.port"),
			Name:          conf.GetString("database.name"),
			User:          conf.GetString("database.user"),
			Password:      conf.GetString("database.password"),
			AdminUser:     conf.GetString("database.adminUser"),
			AdminPassword: conf.GetString("database.adminPassword"),
			DisableTLS:    conf.GetBool("database.disableTLS"),
			Path:          conf.GetString("database.path"),
		},
		Redis: RedisConfig{
			URL: conf.GetString("redis.url"),
		},
		Media: MediaConfig{
			Root:         conf.GetString("media.root"),
			URL:          conf.GetString("media.url"),
			MaxPhotoSize: conf.GetInt64("media.maxPhotoSize"),
		},
	}
}

// NewTestConfig returns a Config suitable for tests: sqlite database, console mails, no redis.
func NewTestConfig(workDir string) *Config {
	return &Config{
		Env:              "TEST",
		Debug:            false,
		TestMode:         true,
		AppName:          "Bhorti",
		Build:            "test",
		SecretKey:        "test-secret",
		WorkDir:          workDir,
		FrontendBaseURL:  "http://localhost:3000",
		defaultFromEmail: "Bhorti <noreply@localhost>",
		Server: ServerConfig{
			ShutdownTimeout:           time.Second,
			JWTExpirationDelta:        time.Hour,
			JWTRefreshExpirationDelta: 24 * time.Hour,
			FormTokenExpirationDelta:  3 * 24 * time.Hour,
		},
		Database: DatabaseConfig{Engine: "sqlite", Path: filepath.Join(workDir, "test.db")},
		Media:    MediaConfig{Root: filepath.Join(workDir, "media"), URL: "/media", MaxPhotoSize: 300 * 1024},
	}
}

func (c *Config) String() string {
	return fmt.Sprintf("%s (%s) env=%s db=%s", c.AppName, c.Build, c.Env, c.Database.Engine)
}
