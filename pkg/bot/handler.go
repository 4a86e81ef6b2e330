// Package bot is the Telegram ingress: the webhook server and the update handler that turns an
// uploaded URL list into a bulk run.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/vcloud-bot/vcloud-bot/pkg/config"
	"github.com/vcloud-bot/vcloud-bot/pkg/jobs"
	"github.com/vcloud-bot/vcloud-bot/pkg/models"
	"github.com/vcloud-bot/vcloud-bot/pkg/notify"
	"github.com/vcloud-bot/vcloud-bot/pkg/parse"
	"github.com/vcloud-bot/vcloud-bot/pkg/pipeline"
	"github.com/vcloud-bot/vcloud-bot/pkg/utils"
)

const plainTextMIME = "text/plain"

// Downloader fetches the bytes of an uploaded document
type Downloader interface {
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// Deps are the collaborators of a Handler
type Deps struct {
	Notifier    notify.Notifier // Wrapped in a SafeNotifier by NewHandler
	Files       Downloader
	Jobs        *jobs.Manager
	NewPipeline pipeline.Factory
	SeedPolicy  config.SeedPolicy
	FilePrefix  string
}

// Handler dispatches Telegram updates
type Handler struct {
	notifier    notify.Notifier
	files       Downloader
	jobs        *jobs.Manager
	newPipeline pipeline.Factory
	validator   *parse.Validator
	maxURLs     int
	prefix      string
	now         func() time.Time
	log         *logrus.Entry
}

// NewHandler creates a Handler
func NewHandler(deps Deps, log *logrus.Entry) *Handler {
	return &Handler{
		notifier:    notify.NewSafeNotifier(deps.Notifier, log.WithField("component", "notifier")),
		files:       deps.Files,
		jobs:        deps.Jobs,
		newPipeline: deps.NewPipeline,
		validator:   parse.NewValidator(deps.SeedPolicy.AllowedDomains),
		maxURLs:     deps.SeedPolicy.MaxURLs,
		prefix:      deps.FilePrefix,
		now:         time.Now,
		log:         log,
	}
}

// HandleUpdate processes one update to completion. Errors are reported to the chat, never returned.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID
	updLog := h.log.WithFields(logrus.Fields{"update_id": update.UpdateID, "chat_id": chatID})

	switch commandName(msg.Text) {
	case "start", "help":
		_ = h.notifier.SendText(ctx, chatID, notify.HelpText)
		return
	case "status":
		_ = h.notifier.SendText(ctx, chatID, StatusText(h.jobs.Active(chatID)))
		return
	}

	doc := msg.Document
	if doc == nil {
		return
	}
	if doc.MimeType != plainTextMIME {
		updLog.WithField("mime_type", doc.MimeType).Debug("Ignoring non-text document")
		_ = h.notifier.SendText(ctx, chatID, notify.UnsupportedDocumentText)
		return
	}

	if err := h.processDocument(ctx, chatID, doc, updLog); err != nil {
		updLog.WithField("error_type", utils.CategorizeError(err)).Errorf("Document processing failed: %v", err)
		_ = h.notifier.SendText(context.WithoutCancel(ctx), chatID, notify.ErrorText(err))
	}
}

func (h *Handler) processDocument(ctx context.Context, chatID int64, doc *tgbotapi.Document, log *logrus.Entry) error {
	log = log.WithField("file", doc.FileName)
	_ = h.notifier.SendText(ctx, chatID, notify.ReceivedText)

	data, err := h.files.Download(ctx, doc.FileID)
	if err != nil {
		return err
	}

	list := parse.ParseSeedList(string(data), h.validator, h.maxURLs)
	log.WithFields(logrus.Fields{
		"valid":     list.TotalValid,
		"dropped":   list.Dropped,
		"truncated": list.Truncated,
	}).Info("Seed list parsed")

	if len(list.URLs) == 0 {
		log.Info(utils.ErrNoValidURLs.Error())
		_ = h.notifier.SendText(ctx, chatID, notify.NoValidURLsText)
		return nil
	}
	if list.Truncated {
		_ = h.notifier.SendText(ctx, chatID, notify.TruncatedText(list.TotalValid, h.maxURLs))
	} else {
		_ = h.notifier.SendText(ctx, chatID, notify.FoundText(len(list.URLs)))
	}

	job := h.jobs.Create(chatID, doc.FileName, len(list.URLs))
	return h.jobs.Run(job.ID, func(runCtx context.Context, progress jobs.Progress) (models.BulkResult, error) {
		p := h.newPipeline(log.WithField("job_id", job.ID))
		progress.Attach(p)

		reporter := pipeline.MultiReporter(progress, notify.BatchReporter(h.notifier, chatID))
		result := p.ProcessBulkURLs(runCtx, list.URLs, reporter)

		// A cancelled run still delivers what it collected
		_, err := notify.SendResult(context.WithoutCancel(ctx), h.notifier, chatID, result, h.prefix, h.now())
		return result, err
	})
}

// commandName returns the bot command of text without the slash and any @botname suffix, or ""
func commandName(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	name := strings.Fields(text)[0][1:]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name)
}

// StatusText lists the active runs of a chat
func StatusText(active []jobs.Job) string {
	if len(active) == 0 {
		return notify.NoActiveRunsText
	}
	var b strings.Builder
	b.WriteString("📊 <b>Active runs</b>")
	for _, j := range active {
		id := j.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(&b, "\n• <code>%s</code> %s: %d/%d URLs, %d links", id, j.Status, j.ProcessedURLs, j.TotalURLs, j.TotalLinks)
		if j.TotalBatches > 0 {
			fmt.Fprintf(&b, ", batch %d/%d", j.BatchesDone+1, j.TotalBatches)
		}
	}
	return b.String()
}
