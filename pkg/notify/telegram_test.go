package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcloud-bot/vcloud-bot/pkg/config"
	"github.com/vcloud-bot/vcloud-bot/pkg/utils"
)

const testToken = "123456:TEST-token"

type sentMessage struct {
	ChatID    string
	Text      string
	ParseMode string
}

type sentDocument struct {
	ChatID string
	Name   string
	Data   string
}

// fakeTelegram is a minimal Bot API: getMe, sendMessage, sendDocument, getFile, setWebhook and
// file downloads
type fakeTelegram struct {
	*httptest.Server

	mu            sync.Mutex
	messages      []sentMessage
	documents     []sentDocument
	webhooks      []map[string]string
	files         map[string]string // file_id -> content
	failDocuments bool
	failGetMe     bool
}

func newFakeTelegram(t *testing.T) *fakeTelegram {
	t.Helper()
	f := &fakeTelegram{files: map[string]string{}}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeTelegram) ok(w http.ResponseWriter, result string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"ok":true,"result":%s}`, result)
}

func (f *fakeTelegram) fail(w http.ResponseWriter, code int, description string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"ok":false,"error_code":%d,"description":%q}`, code, description)
}

func (f *fakeTelegram) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if strings.HasPrefix(r.URL.Path, "/file/bot"+testToken+"/") {
		fileID := strings.TrimPrefix(r.URL.Path, "/file/bot"+testToken+"/documents/")
		content, ok := f.files[fileID]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, content)
		return
	}

	method := strings.TrimPrefix(r.URL.Path, "/bot"+testToken+"/")
	message := `{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}`

	switch method {
	case "getMe":
		if f.failGetMe {
			f.fail(w, 401, "Unauthorized")
			return
		}
		f.ok(w, `{"id":1,"is_bot":true,"first_name":"vcloud","username":"vcloud_test_bot"}`)
	case "sendMessage":
		_ = r.ParseForm()
		f.messages = append(f.messages, sentMessage{
			ChatID:    r.PostForm.Get("chat_id"),
			Text:      r.PostForm.Get("text"),
			ParseMode: r.PostForm.Get("parse_mode"),
		})
		f.ok(w, message)
	case "sendDocument":
		if f.failDocuments {
			f.fail(w, 400, "Bad Request: file is too big")
			return
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			f.fail(w, 400, err.Error())
			return
		}
		file, header, err := r.FormFile("document")
		if err != nil {
			f.fail(w, 400, err.Error())
			return
		}
		data, _ := io.ReadAll(file)
		f.documents = append(f.documents, sentDocument{
			ChatID: r.FormValue("chat_id"),
			Name:   header.Filename,
			Data:   string(data),
		})
		f.ok(w, message)
	case "getFile":
		_ = r.ParseForm()
		fileID := r.PostForm.Get("file_id")
		if _, ok := f.files[fileID]; !ok && fileID != "missing-on-disk" {
			f.fail(w, 400, "Bad Request: invalid file_id")
			return
		}
		f.ok(w, fmt.Sprintf(`{"file_id":%q,"file_unique_id":"u","file_path":"documents/%s"}`, fileID, fileID))
	case "setWebhook":
		_ = r.ParseForm()
		params := map[string]string{}
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		f.webhooks = append(f.webhooks, params)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":true,"description":"Webhook was set"}`)
	default:
		f.fail(w, 404, "Not Found")
	}
}

func (f *fakeTelegram) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.messages...)
}

func (f *fakeTelegram) sentDocuments() []sentDocument {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentDocument(nil), f.documents...)
}

func (f *fakeTelegram) config() config.TelegramConfig {
	return config.TelegramConfig{
		Token:               testToken,
		APIEndpoint:         f.URL + "/bot%s/%s",
		FileEndpoint:        f.URL + "/file/bot%s/%s",
		RatePerSecond:       1000,
		Burst:               10,
		InlineFallbackLimit: 4000,
		InlineFallbackChars: 3800,
	}
}

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestNotifier(t *testing.T, f *fakeTelegram, mutate func(*config.TelegramConfig)) *TelegramNotifier {
	t.Helper()
	cfg := f.config()
	if mutate != nil {
		mutate(&cfg)
	}
	n, err := NewTelegramNotifier(cfg, f.Client(), testLogger())
	require.NoError(t, err)
	return n
}

func TestNewTelegramNotifier(t *testing.T) {
	t.Run("connects and reads bot identity", func(t *testing.T) {
		f := newFakeTelegram(t)
		n := newTestNotifier(t, f, nil)
		assert.Equal(t, "vcloud_test_bot", n.Username())
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := NewTelegramNotifier(config.TelegramConfig{}, nil, testLogger())
		assert.ErrorIs(t, err, utils.ErrConfigValidation)
	})

	t.Run("rejected token", func(t *testing.T) {
		f := newFakeTelegram(t)
		f.failGetMe = true
		_, err := NewTelegramNotifier(f.config(), f.Client(), testLogger())
		assert.ErrorIs(t, err, utils.ErrDelivery)
	})
}

func TestTelegramNotifier_SendText(t *testing.T) {
	f := newFakeTelegram(t)
	n := newTestNotifier(t, f, nil)

	require.NoError(t, n.SendText(context.Background(), 42, FoundText(3)))

	msgs := f.sentMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "42", msgs[0].ChatID)
	assert.Equal(t, "HTML", msgs[0].ParseMode)
	assert.Equal(t, FoundText(3), msgs[0].Text)
}

func TestTelegramNotifier_SendTextCancelled(t *testing.T) {
	f := newFakeTelegram(t)
	n := newTestNotifier(t, f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := n.SendText(ctx, 42, "hi")
	assert.ErrorIs(t, err, utils.ErrDelivery)
	assert.Empty(t, f.sentMessages())
}

func TestTelegramNotifier_SendFile(t *testing.T) {
	f := newFakeTelegram(t)
	n := newTestNotifier(t, f, nil)

	content := "Movie|https://vcloud.zip/1\n"
	require.NoError(t, n.SendFile(context.Background(), 42, []byte(content), "vcloud_1_links.txt"))

	docs := f.sentDocuments()
	require.Len(t, docs, 1)
	assert.Equal(t, "42", docs[0].ChatID)
	assert.Equal(t, "vcloud_1_links.txt", docs[0].Name)
	assert.Equal(t, content, docs[0].Data)
	assert.Empty(t, f.sentMessages())
}

func TestTelegramNotifier_SendFileInlineFallback(t *testing.T) {
	f := newFakeTelegram(t)
	f.failDocuments = true
	n := newTestNotifier(t, f, func(c *config.TelegramConfig) {
		c.InlineFallbackLimit = 20
		c.InlineFallbackChars = 5
	})

	t.Run("small payload is sent inline, escaped and truncated", func(t *testing.T) {
		require.NoError(t, n.SendFile(context.Background(), 42, []byte("a<b>cdefgh"), "r.txt"))

		msgs := f.sentMessages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "<pre>a&lt;b&gt;c</pre>", msgs[0].Text)
	})

	t.Run("payload at the limit fails", func(t *testing.T) {
		err := n.SendFile(context.Background(), 42, []byte(strings.Repeat("x", 20)), "r.txt")
		assert.ErrorIs(t, err, utils.ErrDelivery)
		assert.Len(t, f.sentMessages(), 1, "no inline message for large payloads")
	})
}

func TestTelegramNotifier_Download(t *testing.T) {
	f := newFakeTelegram(t)
	f.files["file_1.txt"] = "https://vegamovies.gt/a\n"
	n := newTestNotifier(t, f, nil)

	t.Run("resolves and downloads", func(t *testing.T) {
		data, err := n.Download(context.Background(), "file_1.txt")
		require.NoError(t, err)
		assert.Equal(t, "https://vegamovies.gt/a\n", string(data))
	})

	t.Run("unknown file id", func(t *testing.T) {
		_, err := n.Download(context.Background(), "nope")
		assert.ErrorIs(t, err, utils.ErrDownload)
	})

	t.Run("file endpoint 404", func(t *testing.T) {
		_, err := n.Download(context.Background(), "missing-on-disk")
		assert.ErrorIs(t, err, utils.ErrDownload)
		assert.Contains(t, err.Error(), "404")
	})
}

func TestTelegramNotifier_SetWebhook(t *testing.T) {
	f := newFakeTelegram(t)
	n := newTestNotifier(t, f, nil)

	require.NoError(t, n.SetWebhook("https://bot.example.com/webhook", "s3cret"))
	require.NoError(t, n.SetWebhook("https://bot.example.com/webhook", ""))

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.webhooks, 2)
	assert.Equal(t, "https://bot.example.com/webhook", f.webhooks[0]["url"])
	assert.Equal(t, "s3cret", f.webhooks[0]["secret_token"])
	_, hasSecret := f.webhooks[1]["secret_token"]
	assert.False(t, hasSecret)
}
