package core

// Logger is the application logger.
// args may carry errors, context maps (map[string]interface{}) or a learner ID wrapped in LogPerson.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// LogPerson identifies who a log entry is about.
type LogPerson struct {
	ID    string
	Name  string
	Email string
}
