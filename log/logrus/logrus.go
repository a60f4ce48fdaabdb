package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/optisync"
)

var _ optisync.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

func New(l *logrus.Logger) LogrusLogger {
	return LogrusLogger{E: logrus.NewEntry(l).WithField("component", "optisync")}
}

func (l LogrusLogger) Debug(msg string, f optisync.Fields) { l.with(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f optisync.Fields)  { l.with(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f optisync.Fields)  { l.with(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f optisync.Fields) { l.with(f).Error(msg) }

// with renders error values as strings; logrus' JSON formatter drops
// unexported error structs otherwise.
func (l LogrusLogger) with(f optisync.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	lf := make(logrus.Fields, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && err != nil {
			lf[k] = err.Error()
			continue
		}
		lf[k] = v
	}
	return l.E.WithFields(lf)
}
