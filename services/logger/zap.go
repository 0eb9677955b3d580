package logsvc

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/trezcool/engage/core"
)

// ZapLogger writes structured entries with zap.
type ZapLogger struct {
	zl *zap.Logger
}

var _ core.Logger = (*ZapLogger)(nil)

// NewZapLogger builds a console logger in debug mode, a JSON one otherwise.
func NewZapLogger(conf *core.Config) *ZapLogger {
	var cfg zap.Config
	if conf.Debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	zl, err := cfg.Build(zap.AddCallerSkip(1), zap.Fields(zap.String("app", conf.AppName), zap.String("build", conf.Build)))
	if err != nil {
		zl = zap.NewExample()
	}
	return &ZapLogger{zl: zl}
}

// WrapZap wraps an existing zap logger, e.g. zaptest.NewLogger(t) or zap.NewNop().
func WrapZap(zl *zap.Logger) *ZapLogger {
	return &ZapLogger{zl: zl}
}

func (l ZapLogger) Zap() *zap.Logger {
	return l.zl
}

func (l ZapLogger) Sync() {
	_ = l.zl.Sync()
}

// fields converts the logger args to zap fields.
// expected fmt: error, map[string]interface{}, core.LogPerson
func fields(args []interface{}) []zapcore.Field {
	fs := make([]zapcore.Field, 0, len(args))
	for i, arg := range args {
		switch a := arg.(type) {
		case error:
			fs = append(fs, zap.Error(a))
		case map[string]interface{}:
			for k, v := range a {
				fs = append(fs, zap.Any(k, v))
			}
		case core.LogPerson:
			fs = append(fs, zap.String("learner_id", a.ID))
		default:
			fs = append(fs, zap.Any(fmt.Sprintf("arg%d", i), a))
		}
	}
	return fs
}

func (l ZapLogger) Debug(msg string, args ...interface{}) { l.zl.Debug(msg, fields(args)...) }
func (l ZapLogger) Info(msg string, args ...interface{})  { l.zl.Info(msg, fields(args)...) }
func (l ZapLogger) Warn(msg string, args ...interface{})  { l.zl.Warn(msg, fields(args)...) }
func (l ZapLogger) Error(msg string, args ...interface{}) { l.zl.Error(msg, fields(args)...) }
func (l ZapLogger) Fatal(msg string, args ...interface{}) { l.zl.Fatal(msg, fields(args)...) }
