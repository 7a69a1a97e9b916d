package logsvc

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/user"
)

// RollbarLogger prints to a standard logger and reports to rollbar when a token is configured.
type RollbarLogger struct {
	std   *log.Logger
	debug bool
	mu    *sync.Mutex // rollbar's person is global
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.RollbarToken != "" && !conf.TestMode)
	return &RollbarLogger{std: std, debug: conf.Debug, mu: new(sync.Mutex)}
}

// Close waits for the pending reports to be sent.
func (l RollbarLogger) Close() {
	rollbar.Close()
}

// expected args: error, map[string]interface{}, user.User
func (l RollbarLogger) report(level, msg string, args []interface{}) {
	var usrSet bool
	newArgs := make([]interface{}, 0, len(args)+1)
	newArgs = append(newArgs, msg)

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, arg := range args {
		if usr, ok := arg.(user.User); ok {
			if !usrSet { // only set one User
				rollbar.SetPerson(usr.ID, usr.Username, usr.Email)
				usrSet = true
			}
		} else {
			newArgs = append(newArgs, arg)
		}
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	rollbar.Log(level, newArgs...)
}

func (l RollbarLogger) print(level, msg string, args []interface{}) {
	line := new(strings.Builder)
	_, _ = fmt.Fprintf(line, "%s: %s", strings.ToUpper(level), msg)
	for _, arg := range args {
		switch a := arg.(type) {
		case error:
			_, _ = fmt.Fprintf(line, "\n%+v", a)
		case map[string]interface{}:
			keys := make([]string, 0, len(a))
			for k := range a {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				_, _ = fmt.Fprintf(line, " %s=%v", k, a[k])
			}
		case user.User:
			_, _ = fmt.Fprintf(line, " user=%s", a.Username)
		default:
			_, _ = fmt.Fprintf(line, " %v", a)
		}
	}
	l.std.Println(line.String())
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	if l.debug {
		l.print(rollbar.DEBUG, msg, args)
	}
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	l.report(rollbar.INFO, msg, args)
	l.print(rollbar.INFO, msg, args)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	l.report(rollbar.WARN, msg, args)
	l.print(rollbar.WARN, msg, args)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	l.report(rollbar.ERR, msg, args)
	l.print(rollbar.ERR, msg, args)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.report(rollbar.CRIT, msg, args)
	l.print(rollbar.CRIT, msg, args)
	rollbar.Close()
	l.std.Fatal(msg)
}
