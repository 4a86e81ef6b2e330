package bot

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/vcloud-bot/vcloud-bot/pkg/config"
	"github.com/vcloud-bot/vcloud-bot/pkg/jobs"
	"github.com/vcloud-bot/vcloud-bot/pkg/models"
	"github.com/vcloud-bot/vcloud-bot/pkg/utils"
)

const (
	serverName      = "vcloud.zip Heavy Bot"
	secretHeader    = "X-Telegram-Bot-Api-Secret-Token"
	maxUpdateBytes  = 1 << 20
	webhookPath     = "/webhook"
)

// UpdateHandler processes a decoded Telegram update
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

// WebhookSetter registers the webhook URL with Telegram
type WebhookSetter interface {
	SetWebhook(url, secret string) error
}

var statusPage = template.Must(template.New("status").Parse(`<!DOCTYPE html><html><head><title>{{.Name}}</title><style>body{font-family:Arial;max-width:800px;margin:0 auto;padding:20px;}</style></head>
<body><h1>🤖 vcloud.zip HEAVY DUTY BOT</h1><div style="background:#d4edda;padding:20px;border-radius:10px;">
<h2>✅ RUNNING</h2><p><b>Unlimited Processing - No Timeouts</b></p><p>{{.MaxURLs}} URLs per file | Batch processing</p></div>
<div style="margin-top:20px;"><p>Webhook URL: <code>{{.WebhookURL}}</code></p>
<p>Bot Token: <code>{{.Token}}</code></p><p>Active runs: {{.Active}}</p></div></body></html>`))

// Server is the HTTP ingress
type Server struct {
	cfg      *config.AppConfig
	handler  UpdateHandler
	webhooks WebhookSetter
	jobs     *jobs.Manager
	router   chi.Router
	log      *logrus.Entry

	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewServer creates the router. Updates are handled on goroutines derived from baseCtx, so
// cancelling baseCtx reaches in-flight runs. webhooks may be nil.
func NewServer(baseCtx context.Context, cfg *config.AppConfig, handler UpdateHandler, webhooks WebhookSetter, jm *jobs.Manager, log *logrus.Entry) *Server {
	s := &Server{
		cfg:      cfg,
		handler:  handler,
		webhooks: webhooks,
		jobs:     jm,
		log:      log,
		baseCtx:  baseCtx,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/set-webhook", s.handleSetWebhook)
	r.Post(webhookPath, s.handleWebhook)
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
	})
	s.router = r
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Wait blocks until every dispatched update has been handled or ctx is done
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.cfg.WebhookSecret != "" {
		got := r.Header.Get(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookSecret)) != 1 {
			s.log.WithField("remote", r.RemoteAddr).Warn("Webhook call with bad secret token")
			http.Error(w, "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateBytes)).Decode(&update); err != nil {
		err = fmt.Errorf("%w: decode update: %w", utils.ErrParsing, err)
		s.log.WithField("error_type", utils.CategorizeError(err)).Warnf("Malformed update: %v", err)
		http.Error(w, "ERROR", http.StatusBadRequest)
		return
	}

	s.dispatch(update)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

// dispatch handles the update in the background so Telegram gets its acknowledgement immediately
func (s *Server) dispatch(update tgbotapi.Update) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.WithFields(logrus.Fields{
					"update_id":  update.UpdateID,
					"panic_info": r,
				}).Error("PANIC recovered while handling update")
			}
		}()
		s.handler.HandleUpdate(s.baseCtx, update)
	}()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Name       string
		MaxURLs    int
		WebhookURL string
		Token      string
		Active     int
	}{
		Name:       serverName,
		MaxURLs:    s.cfg.MaxURLsPerFile,
		WebhookURL: s.webhookURL(r),
		Token:      s.cfg.MaskedToken(),
	}
	for _, j := range s.jobs.List() {
		if !j.Status.IsTerminal() {
			data.Active++
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusPage.Execute(w, data); err != nil {
		s.log.Warnf("Failed to render status page: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"server":    serverName,
		"timestamp": time.Now().UTC().Format(models.TimestampLayout),
	})
}

func (s *Server) handleSetWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhooks == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Telegram client not configured"})
		return
	}
	url := s.webhookURL(r)
	if err := s.webhooks.SetWebhook(url, s.cfg.WebhookSecret); err != nil {
		s.log.WithField("error_type", utils.CategorizeError(err)).Errorf("Set webhook failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "url": url})
}

// webhookURL is PublicURL + /webhook when configured, otherwise derived from the request
func (s *Server) webhookURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return strings.TrimSuffix(s.cfg.PublicURL, "/") + webhookPath
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + webhookPath
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.List())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs each request at debug level through logrus
func requestLogger(log *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
			}).Debug("HTTP request")
		})
	}
}
