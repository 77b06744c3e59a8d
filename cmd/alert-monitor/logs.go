package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rivo/tview"
)

// LogLevel is the severity of an event shown in the log panel.
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogMessage is one entry in the event log.
type LogMessage struct {
	Time    time.Time
	Level   LogLevel
	Message string
}

// LogManager keeps the last maxMessages events for the log panel and
// mirrors each one to the file logger.
type LogManager struct {
	textView    *tview.TextView
	logger      *slog.Logger
	messages    []LogMessage
	maxMessages int
	mu          sync.Mutex
	now         func() time.Time
}

// NewLogManager creates the log panel.
func NewLogManager(maxMessages int, logger *slog.Logger) *LogManager {
	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetMaxLines(maxMessages)
	textView.SetBorder(true).SetTitle(" Events ")

	return &LogManager{
		textView:    textView,
		logger:      logger,
		messages:    make([]LogMessage, 0, maxMessages),
		maxMessages: maxMessages,
		now:         time.Now,
	}
}

// View returns the panel primitive.
func (lm *LogManager) View() tview.Primitive {
	return lm.textView
}

// AddLog records an event.
func (lm *LogManager) AddLog(level LogLevel, msg string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.messages = append(lm.messages, LogMessage{Time: lm.now(), Level: level, Message: msg})
	if len(lm.messages) > lm.maxMessages {
		lm.messages = lm.messages[len(lm.messages)-lm.maxMessages:]
	}

	switch level {
	case LogLevelError:
		lm.logger.Error(msg)
	case LogLevelWarn:
		lm.logger.Warn(msg)
	case LogLevelDebug:
		lm.logger.Debug(msg)
	default:
		lm.logger.Info(msg)
	}

	lm.textView.SetText(lm.render())
	lm.textView.ScrollToEnd()
}

// Messages returns a copy of the retained events, oldest first.
func (lm *LogManager) Messages() []LogMessage {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return append([]LogMessage(nil), lm.messages...)
}

func (lm *LogManager) render() string {
	var b strings.Builder
	for _, msg := range lm.messages {
		fmt.Fprintf(&b, "[gray]%s[-] [%s]%-5s[-] %s\n",
			msg.Time.Format("15:04:05"), colorForLevel(msg.Level), msg.Level, tview.Escape(msg.Message))
	}
	return b.String()
}

func colorForLevel(level LogLevel) string {
	switch level {
	case LogLevelDebug:
		return "gray"
	case LogLevelWarn:
		return "yellow"
	case LogLevelError:
		return "red"
	}
	return "white"
}
