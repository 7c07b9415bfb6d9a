package logger

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// ANSI color codes for console output
const (
	colorReset        = "\033[0m"
	colorCyan         = "\033[36m"
	colorGreen        = "\033[32m"
	colorBrightRed    = "\033[91m"
	colorBrightYellow = "\033[93m"
	colorBrightGray   = "\033[90m"
)

// componentNameWidth is the fixed column width for component names.
const componentNameWidth = 16

// Level is a log severity level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name to a Level. Unknown names map to LevelInfo.
func ParseLevel(name string) Level {
	switch name {
	case "DEBUG", "debug":
		return LevelDebug
	case "WARN", "warn":
		return LevelWarn
	case "ERROR", "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Entry is a single log entry.
type Entry struct {
	Time      time.Time
	Level     Level
	Component string
	Message   string
}

// Logger provides leveled console logging with streaming support.
// Subscribers receive every entry regardless of the console level.
type Logger struct {
	component string

	mu             sync.RWMutex
	minLevel       Level
	subscribers    []chan Entry
	colorEnabled   bool
	disableConsole bool
}

// New creates a new logger for the given component.
func New(component string) *Logger {
	return &Logger{
		component:    component,
		minLevel:     LevelInfo,
		colorEnabled: isTerminal(),
	}
}

func isTerminal() bool {
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// WithComponent returns a logger that shares settings with the parent but
// labels entries with a different component name.
func (l *Logger) WithComponent(component string) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Logger{
		component:      component,
		minLevel:       l.minLevel,
		subscribers:    l.subscribers,
		colorEnabled:   l.colorEnabled,
		disableConsole: l.disableConsole,
	}
}

// SetLevel sets the minimum level written to the console.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.minLevel = level
	l.mu.Unlock()
}

// DisableConsoleOutput disables console output when entries are streamed elsewhere.
func (l *Logger) DisableConsoleOutput() {
	l.mu.Lock()
	l.disableConsole = true
	l.mu.Unlock()
}

// Subscribe returns a channel that receives every log entry.
func (l *Logger) Subscribe() <-chan Entry {
	ch := make(chan Entry, 100)
	l.mu.Lock()
	l.subscribers = append(l.subscribers, ch)
	l.mu.Unlock()
	return ch
}

func levelColor(level Level) string {
	switch level {
	case LevelDebug:
		return colorBrightGray
	case LevelInfo:
		return colorGreen
	case LevelWarn:
		return colorBrightYellow
	case LevelError:
		return colorBrightRed
	default:
		return colorReset
	}
}

func (l *Logger) log(level Level, message string) {
	now := time.Now()
	entry := Entry{
		Time:      now,
		Level:     level,
		Component: l.component,
		Message:   message,
	}

	l.mu.RLock()
	toConsole := !l.disableConsole && level >= l.minLevel
	color := ""
	reset := ""
	if l.colorEnabled {
		color = levelColor(level)
		reset = colorReset
	}
	l.mu.RUnlock()

	if toConsole {
		timestamp := now.Format("2006-01-02 15:04:05.000")
		component := fmt.Sprintf("%-*s", componentNameWidth, l.component)
		fmt.Printf("%s[%s]%s [%s] [%s%-5s%s] %s\n",
			colorCyan, timestamp, reset, component, color, level, reset, message)
	}

	l.mu.RLock()
	for _, ch := range l.subscribers {
		select {
		case ch <- entry:
		default:
			// Skip if channel is full
		}
	}
	l.mu.RUnlock()
}

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(LevelDebug, fmt.Sprintf(format, args...))
}

// Infof logs a formatted info message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(LevelInfo, fmt.Sprintf(format, args...))
}

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(LevelWarn, fmt.Sprintf(format, args...))
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(LevelError, fmt.Sprintf(format, args...))
}
