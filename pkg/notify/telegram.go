package notify

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/vcloud-bot/vcloud-bot/pkg/config"
	"github.com/vcloud-bot/vcloud-bot/pkg/utils"
)

// Telegram caps bot downloads at 20 MB
const maxDownloadBytes = 20 << 20

// TelegramNotifier sends through the Telegram Bot API, paced by a token bucket
type TelegramNotifier struct {
	bot          *tgbotapi.BotAPI
	client       *http.Client
	limiter      *rate.Limiter
	fileEndpoint string
	inlineLimit  int
	inlineChars  int
	log          *logrus.Entry
}

// NewTelegramNotifier connects to the Bot API (a getMe call) and returns a ready notifier.
// client is used both for API calls and for file downloads; nil means a 60s-timeout client.
func NewTelegramNotifier(cfg config.TelegramConfig, client *http.Client, log *logrus.Entry) (*TelegramNotifier, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: bot token is empty", utils.ErrConfigValidation)
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = config.DefaultTelegramAPIEndpoint
	}
	if cfg.FileEndpoint == "" {
		cfg.FileEndpoint = config.DefaultTelegramFileEndpoint
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = config.DefaultSendRatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = config.DefaultSendBurst
	}
	if cfg.InlineFallbackLimit <= 0 {
		cfg.InlineFallbackLimit = config.DefaultInlineFallbackLimit
	}
	if cfg.InlineFallbackChars <= 0 {
		cfg.InlineFallbackChars = config.DefaultInlineFallbackChars
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to Telegram: %w", utils.ErrDelivery, err)
	}
	log.WithField("bot", bot.Self.UserName).Info("Connected to Telegram Bot API")

	return &TelegramNotifier{
		bot:          bot,
		client:       client,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		fileEndpoint: cfg.FileEndpoint,
		inlineLimit:  cfg.InlineFallbackLimit,
		inlineChars:  cfg.InlineFallbackChars,
		log:          log,
	}, nil
}

// Username returns the bot's @username without the @
func (t *TelegramNotifier) Username() string {
	return t.bot.Self.UserName
}

// SendText implements Notifier
func (t *TelegramNotifier) SendText(ctx context.Context, chatID int64, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %w", utils.ErrDelivery, err)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("%w: sendMessage: %w", utils.ErrDelivery, err)
	}
	return nil
}

// SendFile implements Notifier. When the upload fails and the payload is small, the content is
// sent inline as a <pre> block instead.
func (t *TelegramNotifier) SendFile(ctx context.Context, chatID int64, data []byte, name string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %w", utils.ErrDelivery, err)
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	_, sendErr := t.bot.Send(doc)
	if sendErr == nil {
		return nil
	}

	if len(data) >= t.inlineLimit {
		return fmt.Errorf("%w: sendDocument %s: %w", utils.ErrDelivery, name, sendErr)
	}
	t.log.WithFields(logrus.Fields{
		"chat_id": chatID,
		"file":    name,
	}).Warnf("Document upload failed, sending content inline: %v", sendErr)

	inline := "<pre>" + html.EscapeString(utils.Truncate(string(data), t.inlineChars)) + "</pre>"
	if err := t.SendText(ctx, chatID, inline); err != nil {
		return fmt.Errorf("%w: sendDocument %s: %v; inline fallback: %w", utils.ErrDelivery, name, sendErr, err)
	}
	return nil
}

// Download fetches the content of an uploaded document by file id
func (t *TelegramNotifier) Download(ctx context.Context, fileID string) ([]byte, error) {
	file, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("%w: getFile: %w", utils.ErrDownload, err)
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("%w: getFile returned no file path", utils.ErrDownload)
	}

	fileURL := fmt.Sprintf(t.fileEndpoint, t.bot.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrDownload, err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP status %d", utils.ErrDownload, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", utils.ErrDownload, err)
	}
	return data, nil
}

// SetWebhook registers webhookURL with Telegram. A non-empty secret is echoed back by Telegram in
// the X-Telegram-Bot-Api-Secret-Token header of every update.
func (t *TelegramNotifier) SetWebhook(webhookURL, secret string) error {
	params := tgbotapi.Params{"url": webhookURL}
	params.AddNonEmpty("secret_token", secret)
	resp, err := t.bot.MakeRequest("setWebhook", params)
	if err != nil {
		return fmt.Errorf("%w: setWebhook: %w", utils.ErrDelivery, err)
	}
	t.log.WithFields(logrus.Fields{"url": webhookURL, "description": resp.Description}).Info("Webhook registered")
	return nil
}
