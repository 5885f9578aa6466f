// Package logrus adapts a *logrus.Entry to lateral.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/lateral"
)

var _ lateral.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New tags every line with component=lateral.
func New(l *logrus.Logger) LogrusLogger {
	return LogrusLogger{E: l.WithField("component", "lateral")}
}

func (l LogrusLogger) Debug(msg string, f lateral.Fields) { l.entry(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f lateral.Fields)  { l.entry(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f lateral.Fields)  { l.entry(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f lateral.Fields) { l.entry(f).Error(msg) }

func (l LogrusLogger) entry(f lateral.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	e := l.E
	if err, ok := f["err"].(error); ok {
		e = e.WithError(err)
	}
	out := make(logrus.Fields, len(f))
	for k, v := range f {
		if k != "err" {
			out[k] = v
		}
	}
	return e.WithFields(out)
}
