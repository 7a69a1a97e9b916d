package core

// Logger is any service able to log and report application events.
// Expected args: error, map[string]interface{} or the authenticated user.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
