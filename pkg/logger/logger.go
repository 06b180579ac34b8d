package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus logger
type Logger struct {
	*logrus.Logger
}

var (
	std  *Logger
	once sync.Once
)

// NewLogger 创建日志实例，level 为空时读取 LOG_LEVEL
func NewLogger(level, format string, out io.Writer) *Logger {
	log := logrus.New()

	if format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	if out == nil {
		out = os.Stdout
	}
	log.SetOutput(out)

	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	switch strings.ToLower(level) {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	return &Logger{Logger: log}
}

// Init 初始化全局日志，只生效一次
func Init(level, format string) *Logger {
	once.Do(func() {
		std = NewLogger(level, format, nil)
	})
	return std
}

// L 返回全局日志，未初始化时使用默认配置
func L() *Logger {
	return Init("", "")
}

// WithJob 定时任务统一使用的日志字段
func WithJob(name string) *logrus.Entry {
	return L().WithField("job", name)
}

// WithActivity adds activity ID to logger
func (l *Logger) WithActivity(activityID int64) *logrus.Entry {
	return l.WithField("activity_id", activityID)
}

// WithUserID adds user ID to logger
func (l *Logger) WithUserID(userID int64) *logrus.Entry {
	return l.WithField("user_id", userID)
}
