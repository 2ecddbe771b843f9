// Package logger writes logstash compatible JSON events, one per line, so that the service's output can be shipped
// as is
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/qvantel/solapse/internal/config"
)

// Level values follow logback's so that events can be filtered the same way as the JVM services
const (
	traceLevel   = 5000
	debugLevel   = 10000
	infoLevel    = 20000
	warningLevel = 30000
	errorLevel   = 40000
)

var levels = map[string]int{
	"TRACE": traceLevel,
	"DEBUG": debugLevel,
	"INFO":  infoLevel,
	"WARN":  warningLevel,
	"ERROR": errorLevel,
}

// timeFormat is yyyy-MM-dd'T'HH:mm:ss.SSSZ
const timeFormat = "2006-01-02T15:04:05.000-0700"

// sink holds everything an event needs besides its message. It's set once by Init but tests swap the writer
type sink struct {
	mu       sync.Mutex
	w        io.Writer
	min      int
	artifact string
	service  string
}

var std = &sink{w: os.Stdout, min: infoLevel, service: "solapse"}

// EventLogData contains the needed information to be rendered as a logstash compatible json event log
type EventLogData struct {
	TimeStamp   string `json:"@timestamp"`
	Version     string `json:"@version"`
	LogType     string `json:"log_type"`
	LogLevel    string `json:"log_level"`
	LevelValue  int    `json:"level_value"`
	ServiceName string `json:"service_name"`
	LoggerName  string `json:"logger_name"`
	ArtifactID  string `json:"artifact_id"`
	TraceToken  string `json:"trace_token"`
	Message     string `json:"message"`
}

func (s *sink) event(ts time.Time, level string, message string) EventLogData {
	return EventLogData{
		TimeStamp:   ts.Format(timeFormat),
		Version:     "1",
		LogType:     "LOG",
		LogLevel:    level,
		LevelValue:  levels[level],
		ServiceName: s.service,
		LoggerName:  s.service,
		ArtifactID:  s.artifact,
		TraceToken:  "undefined",
		Message:     message,
	}
}

func (s *sink) enabled(level string) bool {
	return levels[level] >= s.min
}

// write emits a single line, the trainer and the API log from different goroutines so lines must not interleave
func (s *sink) write(level, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled(level) {
		return
	}
	b, err := json.Marshal(s.event(time.Now(), level, message))
	if err != nil {
		return
	}
	fmt.Fprintln(s.w, string(b))
}

// SetOutput redirects the log events to the given writer (stdout by default)
func SetOutput(w io.Writer) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.w = w
}

// Trace logs a message with the TRACE log level
func Trace(message string) {
	std.write("TRACE", message)
}

// Debug logs a message with the DEBUG log level
func Debug(message string) {
	std.write("DEBUG", message)
}

// Info logs a message with the INFO log level
func Info(message string) {
	std.write("INFO", message)
}

// Warning logs a message with the WARN log level
func Warning(message string) {
	std.write("WARN", message)
}

// Error logs a message with the ERROR log level, the first error provided (if any) is appended to it
func Error(message string, errs ...error) {
	if len(errs) != 0 && errs[0] != nil {
		message += " (" + errs[0].Error() + ")"
	}
	std.write("ERROR", message)
}

// Init sets the minimum level and the identity of the service. Unknown levels fall back to INFO
func Init(conf config.Config) {
	std.mu.Lock()
	defer std.mu.Unlock()
	lvl, ok := levels[conf.Logger.Level]
	if !ok {
		lvl = infoLevel
	}
	std.min = lvl
	std.artifact = conf.Logger.ArtifactID
	std.service = conf.Logger.ServiceName
}

// GinFormatter is used to adapt Gin's access logging to the same event format. Successful requests are logged at
// TRACE since predictions are high volume, client errors at DEBUG and server errors at WARN
func GinFormatter(param gin.LogFormatterParams) string {
	level := "TRACE"
	switch {
	case param.StatusCode >= 500:
		level = "WARN"
	case param.StatusCode >= 400:
		level = "DEBUG"
	}

	std.mu.Lock()
	defer std.mu.Unlock()
	if !std.enabled(level) {
		return ""
	}
	event := std.event(param.TimeStamp, level, fmt.Sprintf("[%s] %s %s %s - %d (in %s) %s",
		param.ClientIP,
		param.Request.Proto,
		param.Method,
		param.Path,
		param.StatusCode,
		param.Latency,
		param.ErrorMessage,
	))
	b, err := json.Marshal(event)
	if err != nil {
		return ""
	}
	return string(b) + "\n"
}
