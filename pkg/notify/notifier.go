// Package notify delivers progress messages and result files to the user who started a run.
package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/vcloud-bot/vcloud-bot/pkg/utils"
)

// Notifier is the delivery sink. Text is HTML formatted.
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendFile(ctx context.Context, chatID int64, data []byte, name string) error
}

// SafeNotifier logs and swallows every delivery error of the wrapped Notifier, so a failed
// message can never abort the run that produced it
type SafeNotifier struct {
	inner Notifier
	log   *logrus.Entry
}

// NewSafeNotifier wraps inner
func NewSafeNotifier(inner Notifier, log *logrus.Entry) *SafeNotifier {
	return &SafeNotifier{inner: inner, log: log}
}

// SendText implements Notifier and always returns nil
func (s *SafeNotifier) SendText(ctx context.Context, chatID int64, text string) error {
	if err := s.inner.SendText(ctx, chatID, text); err != nil {
		s.log.WithFields(logrus.Fields{
			"chat_id":    chatID,
			"error_type": utils.CategorizeError(err),
		}).Warnf("Message delivery failed: %v", err)
	}
	return nil
}

// SendFile implements Notifier and always returns nil
func (s *SafeNotifier) SendFile(ctx context.Context, chatID int64, data []byte, name string) error {
	if err := s.inner.SendFile(ctx, chatID, data, name); err != nil {
		s.log.WithFields(logrus.Fields{
			"chat_id":    chatID,
			"file":       name,
			"error_type": utils.CategorizeError(err),
		}).Warnf("File delivery failed: %v", err)
	}
	return nil
}

// LogNotifier writes messages to the log and files into a directory. Used for local runs.
type LogNotifier struct {
	dir string
	log *logrus.Entry
}

// NewLogNotifier creates a LogNotifier writing files into dir
func NewLogNotifier(dir string, log *logrus.Entry) *LogNotifier {
	return &LogNotifier{dir: dir, log: log}
}

// SendText implements Notifier
func (l *LogNotifier) SendText(_ context.Context, chatID int64, text string) error {
	l.log.WithField("chat_id", chatID).Info(text)
	return nil
}

// SendFile implements Notifier. The file name is sanitized before use.
func (l *LogNotifier) SendFile(_ context.Context, chatID int64, data []byte, name string) error {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("%w: create %s: %w", utils.ErrDelivery, l.dir, err)
	}
	path := filepath.Join(l.dir, utils.SanitizeFilename(name))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: write %s: %w", utils.ErrDelivery, path, err)
	}
	l.log.WithFields(logrus.Fields{"chat_id": chatID, "path": path, "bytes": len(data)}).Info("Result file written")
	return nil
}
