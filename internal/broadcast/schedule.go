package broadcast

import (
	"time"

	"github.com/robfig/cron/v3"

	logx "versebot/pkg/logx"
)

// fixedInterval fires every d, measured from the previous activation.
// cron.Every rounds down to whole seconds; this keeps sub-second precision.
type fixedInterval struct {
	d time.Duration
}

func (s fixedInterval) Next(t time.Time) time.Time {
	return t.Add(s.d)
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}

func newCron(log logx.Logger) *cron.Cron {
	cl := cronLogger{log: log}
	return cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
}
