package log

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// BadgerLogrusAdapter implements badger.Logger interface using logrus.
// Badger's informational chatter (table loads, compactions) is demoted to debug.
type BadgerLogrusAdapter struct {
	*logrus.Entry
}

// NewBadgerLogrusAdapter creates a new adapter
func NewBadgerLogrusAdapter(entry *logrus.Entry) *BadgerLogrusAdapter {
	return &BadgerLogrusAdapter{entry}
}

// Errorf logs an error message
func (l *BadgerLogrusAdapter) Errorf(f string, v ...interface{}) { l.Entry.Errorf(f, v...) }

// Warningf logs a warning message
func (l *BadgerLogrusAdapter) Warningf(f string, v ...interface{}) { l.Entry.Warningf(f, v...) }

// Infof logs at debug level
func (l *BadgerLogrusAdapter) Infof(f string, v ...interface{}) { l.Entry.Debugf(f, v...) }

// Debugf logs a debug message
func (l *BadgerLogrusAdapter) Debugf(f string, v ...interface{}) { l.Entry.Debugf(f, v...) }

// TelegramLogrusAdapter implements the telegram-bot-api BotLogger interface using logrus.
// The library only logs request dumps and decode problems, so everything goes to debug.
type TelegramLogrusAdapter struct {
	entry *logrus.Entry
}

// NewTelegramLogrusAdapter creates a new adapter
func NewTelegramLogrusAdapter(entry *logrus.Entry) *TelegramLogrusAdapter {
	return &TelegramLogrusAdapter{entry: entry}
}

// Println logs its arguments at debug level
func (l *TelegramLogrusAdapter) Println(v ...interface{}) {
	l.entry.Debug(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

// Printf logs a formatted message at debug level
func (l *TelegramLogrusAdapter) Printf(format string, v ...interface{}) {
	l.entry.Debugf(format, v...)
}
