package sweeper

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/ompldr/server/internal/logging"
	"github.com/robfig/cron/v3"
)

// loggingWrapper logs start and finish of every run with an execution id.
func loggingWrapper(logger logging.Logger) cron.JobWrapper {
	return func(j cron.Job) cron.Job {
		return cron.FuncJob(func() {
			ctx := context.Background()
			jobLogger := logger.With("job_name", jobName(j), "execution_id", uuid.NewString())

			start := time.Now()
			jobLogger.Debug(ctx, "job started")
			j.Run()
			jobLogger.Debug(ctx, "job finished", "duration", time.Since(start))
		})
	}
}

// recoveryWrapper keeps a panicking job from taking the process down.
func recoveryWrapper(logger logging.Logger) cron.JobWrapper {
	return func(j cron.Job) cron.Job {
		return cron.FuncJob(func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error(context.Background(), "job panicked",
						"job_name", jobName(j),
						"panic", fmt.Sprint(r),
						"stack_trace", string(debug.Stack()),
					)
				}
			}()
			j.Run()
		})
	}
}

func jobName(j cron.Job) string {
	if named, ok := j.(interface{ Name() string }); ok {
		return named.Name()
	}
	t := reflect.TypeOf(j)
	if t.Kind() == reflect.Ptr {
		return t.Elem().String()
	}
	return t.String()
}

// cronLogger feeds cron's own messages into our logger.
type cronLogger struct {
	logger logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(context.Background(), msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(context.Background(), msg, append(keysAndValues, "error", err)...)
}
