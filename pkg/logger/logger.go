package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var logLevelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

const consoleTimeFormat = "2006-01-02 15:04:05.000"

var (
	currentLevel atomic.Int32

	consoleMu sync.Mutex
	console   = log.New(os.Stderr, "", 0)

	fileSink = &rotatingFile{}
)

func init() {
	currentLevel.Store(int32(INFO))
}

// fileEntry is one JSON line in the log file.
type fileEntry struct {
	Level     string                 `json:"level"`
	Timestamp string                 `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
}

func SetLevel(level LogLevel) {
	currentLevel.Store(int32(level))
}

func GetLevel() LogLevel {
	return LogLevel(currentLevel.Load())
}

// ParseLevel maps LOG_LEVEL style names to a LogLevel. Unknown names fall back to INFO.
func ParseLevel(name string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL", "CRITICAL":
		return FATAL
	default:
		return INFO
	}
}

func (l LogLevel) String() string {
	if name, ok := logLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// SetOutput redirects console lines, mostly for tests.
func SetOutput(w io.Writer) {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	console.SetOutput(w)
}

func logMessage(level LogLevel, component string, message string, fields map[string]interface{}) {
	if level < GetLevel() {
		return
	}

	now := time.Now()
	fields = redact(fields)

	if fileSink.enabled() {
		entry := fileEntry{
			Level:     level.String(),
			Timestamp: now.UTC().Format(time.RFC3339Nano),
			Component: component,
			Message:   message,
			Fields:    fields,
		}
		if level >= WARN {
			if _, file, line, ok := runtime.Caller(2); ok {
				entry.Caller = fmt.Sprintf("%s:%d", file, line)
			}
		}
		if data, err := json.Marshal(entry); err == nil {
			if err := fileSink.write(append(data, '\n')); err != nil {
				log.Println("Failed to write file log:", err)
			}
		}
	}

	var sb strings.Builder
	sb.WriteString("[" + now.Format(consoleTimeFormat) + "] [" + level.String() + "]")
	if component != "" {
		sb.WriteString(" " + component + ":")
	}
	sb.WriteString(" " + message)
	if len(fields) > 0 {
		sb.WriteString(" " + formatFields(fields))
	}

	consoleMu.Lock()
	console.Println(sb.String())
	consoleMu.Unlock()
}

func formatFields(fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+formatValue(fields[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue quotes strings that would otherwise blur into neighbouring fields.
func formatValue(v interface{}) string {
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	if s == "" || strings.ContainsAny(s, " ,{}=\t\n") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// redact masks values whose key names a credential. fields is not modified.
func redact(fields map[string]interface{}) map[string]interface{} {
	var out map[string]interface{}
	for k, v := range fields {
		if !isSecretKey(k) {
			continue
		}
		if out == nil {
			out = make(map[string]interface{}, len(fields))
			for k2, v2 := range fields {
				out[k2] = v2
			}
		}
		out[k] = maskValue(fmt.Sprintf("%v", v))
	}
	if out == nil {
		return fields
	}
	return out
}

func isSecretKey(key string) bool {
	k := strings.ToLower(key)
	return k == "token" || k == "authorization" || k == "password" ||
		strings.HasSuffix(k, "_token") || strings.HasSuffix(k, "_secret")
}

func maskValue(s string) string {
	if s == "" || strings.Trim(s, "*") == "" {
		return s
	}
	r := []rune(s)
	if len(r) <= 8 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:4]) + strings.Repeat("*", len(r)-8) + string(r[len(r)-4:])
}

func DebugC(component string, message string) {
	logMessage(DEBUG, component, message, nil)
}

func DebugCF(component string, message string, fields map[string]interface{}) {
	logMessage(DEBUG, component, message, fields)
}

func InfoC(component string, message string) {
	logMessage(INFO, component, message, nil)
}

func InfoCF(component string, message string, fields map[string]interface{}) {
	logMessage(INFO, component, message, fields)
}

func WarnC(component string, message string) {
	logMessage(WARN, component, message, nil)
}

func WarnCF(component string, message string, fields map[string]interface{}) {
	logMessage(WARN, component, message, fields)
}

func ErrorC(component string, message string) {
	logMessage(ERROR, component, message, nil)
}

func ErrorCF(component string, message string, fields map[string]interface{}) {
	logMessage(ERROR, component, message, fields)
}
