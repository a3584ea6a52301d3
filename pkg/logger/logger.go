package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	log  *slog.Logger
	once sync.Once
)

// Init configures the global JSON logger. The level comes from LOG_LEVEL
// (debug, info, warn, error) and defaults to info.
func Init() {
	once.Do(func() {
		level := slog.LevelInfo
		switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	})
}

func logger() *slog.Logger {
	if log == nil {
		Init()
	}
	return log
}

func attrs(fields map[string]interface{}) []any {
	out := make([]any, 0, len(fields)*2)
	for key, value := range fields {
		out = append(out, key, value)
	}
	return out
}

func Debug(event string, fields map[string]interface{}) {
	logger().Debug(event, attrs(fields)...)
}

func Info(event string, fields map[string]interface{}) {
	logger().Info(event, attrs(fields)...)
}

func Warn(event string, fields map[string]interface{}) {
	logger().Warn(event, attrs(fields)...)
}

func Error(event string, err error, fields map[string]interface{}) {
	args := attrs(fields)
	if err != nil {
		args = append(args, "error", err.Error())
	}
	logger().Error(event, args...)
}

func DebugWithUser(userID, event string, fields map[string]interface{}) {
	logger().Debug(event, append(attrs(fields), "user_id", userID)...)
}

func InfoWithUser(userID, event string, fields map[string]interface{}) {
	logger().Info(event, append(attrs(fields), "user_id", userID)...)
}

func WarnWithUser(userID, event string, fields map[string]interface{}) {
	logger().Warn(event, append(attrs(fields), "user_id", userID)...)
}
