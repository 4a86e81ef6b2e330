package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vcloud-bot/vcloud-bot/pkg/bot"
	"github.com/vcloud-bot/vcloud-bot/pkg/config"
	"github.com/vcloud-bot/vcloud-bot/pkg/extract"
	"github.com/vcloud-bot/vcloud-bot/pkg/fetch"
	"github.com/vcloud-bot/vcloud-bot/pkg/jobs"
	applog "github.com/vcloud-bot/vcloud-bot/pkg/log"
	"github.com/vcloud-bot/vcloud-bot/pkg/mcp"
	"github.com/vcloud-bot/vcloud-bot/pkg/models"
	"github.com/vcloud-bot/vcloud-bot/pkg/notify"
	"github.com/vcloud-bot/vcloud-bot/pkg/parse"
	"github.com/vcloud-bot/vcloud-bot/pkg/pipeline"
	"github.com/vcloud-bot/vcloud-bot/pkg/utils"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "run":
		runBulk(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "set-webhook":
		runSetWebhook(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("vcloud-bot %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `vcloud-bot - Telegram bot extracting vcloud.zip links from movie index pages

Usage:
  vcloud-bot <command> [options]

Commands:
  serve        Start the Telegram webhook server
  run          Process a local URL file and write the result next to a YAML summary
  validate     Validate configuration (file and environment)
  set-webhook  Register the webhook URL with Telegram
  mcp-server   Start MCP server for AI tool integration
  version      Show version info

Configuration is read from -config (optional) plus .env files and environment variables.
Run 'vcloud-bot <command> -h' for command-specific help.`)
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
		log.Debugf("Setting log level to: %s", level.String())
	}

	return log
}

// loadConfig loads the optional config file plus environment overrides and applies defaults.
// Validation warnings are returned alongside the config.
func loadConfig(path string) (*config.AppConfig, []string, error) {
	appCfg, err := config.Load(path, true)
	if err != nil {
		return nil, nil, err
	}
	warnings, err := appCfg.Validate()
	if err != nil {
		return nil, warnings, err
	}
	return appCfg, warnings, nil
}

// loadAndValidateConfig loads the config and logs its warnings; a fatal problem exits.
func loadAndValidateConfig(configFile string, log *logrus.Logger) *config.AppConfig {
	log.Infof("Loading configuration from %s (plus environment)", configFile)
	appCfg, warnings, err := loadConfig(configFile)
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	return appCfg
}

// newPipelineFactory wires the shared HTTP client and retrying fetcher into a per-run pipeline
// constructor
func newPipelineFactory(appCfg *config.AppConfig, log *logrus.Entry) pipeline.Factory {
	client := fetch.NewClient(appCfg.HTTPClientSettings, log.WithField("component", "http_client"))
	fetcher := fetch.NewFetcher(client, appCfg.RetryPolicy(), nil, log.WithField("component", "fetcher"))
	pipeCfg := appCfg.PipelineConfig()

	return func(runLog *logrus.Entry) *pipeline.Pipeline {
		return pipeline.New(pipeCfg, fetcher, extract.New(pipeCfg, runLog), fetch.NewClockSleeper(runLog), runLog)
	}
}

// logAppConfig logs the effective configuration, never the token itself
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Config: Port:%d, Token:%s, PublicURL:%q, WebhookSecret:%t",
		appCfg.Port, appCfg.MaskedToken(), appCfg.PublicURL, appCfg.WebhookSecret != "")
	log.Infof("Config Seeds: AllowedDomains:%v, MaxURLsPerFile:%d, BatchSize:%d, MaxConcurrentRuns:%d",
		appCfg.AllowedDomains, appCfg.MaxURLsPerFile, appCfg.BatchSize, appCfg.MaxConcurrentRuns)
	log.Infof("Config Patterns: Intermediate:%v, Target:%v, CacheIntermediates:%t",
		appCfg.IntermediatePatterns, appCfg.TargetPatterns, appCfg.CacheIntermediates)
	log.Infof("Config Delays: Intermediate:%v, Seed:%v, Batch:%v",
		appCfg.IntermediateDelay, appCfg.SeedDelay, appCfg.BatchDelay)
	log.Infof("Config Retries: Max:%d, InitialDelay:%v, Growth:%.2f, MaxDelay:%v, Timeout:%v",
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.RetryGrowthFactor, appCfg.MaxRetryDelay, appCfg.HTTPClientSettings.Timeout)
}

// runServe handles the serve subcommand
func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file (optional)")
	port := fs.Int("port", 0, "Listen port (overrides config and PORT)")
	shutdownTimeout := fs.Duration("shutdown-timeout", 2*time.Minute, "How long in-flight runs may continue after a shutdown signal")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vcloud-bot serve [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(*logLevel, os.Stderr)
	appCfg := loadAndValidateConfig(*configFile, log)
	if *port > 0 {
		appCfg.Port = *port
	}
	logAppConfig(appCfg, log)

	if err := serve(appCfg, *shutdownTimeout, log); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Info("Server stopped.")
}

// serve runs the webhook server until SIGINT/SIGTERM, then drains in-flight updates
func serve(appCfg *config.AppConfig, shutdownTimeout time.Duration, log *logrus.Logger) error {
	logEntry := log.WithField("component", "serve")
	if err := tgbotapi.SetLogger(applog.NewTelegramLogrusAdapter(log.WithField("component", "tgbotapi"))); err != nil {
		logEntry.Warnf("Could not attach Telegram logger: %v", err)
	}

	telegram, err := notify.NewTelegramNotifier(appCfg.TelegramConfig(), nil, log.WithField("component", "telegram"))
	if err != nil {
		return err
	}

	jm := jobs.NewManager(appCfg.MaxConcurrentRuns, log.WithField("component", "jobs"))
	handler := bot.NewHandler(bot.Deps{
		Notifier:    telegram,
		Files:       telegram,
		Jobs:        jm,
		NewPipeline: newPipelineFactory(appCfg, log.WithField("component", "pipeline")),
		SeedPolicy:  appCfg.SeedPolicy(),
		FilePrefix:  appCfg.OutputFilePrefix,
	}, log.WithField("component", "handler"))

	// Updates outlive the signal: they are cancelled only when the shutdown grace period runs out
	baseCtx, cancelUpdates := context.WithCancel(context.Background())
	defer cancelUpdates()
	srv := bot.NewServer(baseCtx, appCfg, handler, telegram, jm, log.WithField("component", "http"))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", appCfg.Port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		logEntry.Infof("Listening on %s as @%s", httpServer.Addr, telegram.Username())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logEntry.Warn("Shutting down, no new updates accepted...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logEntry.Warnf("HTTP shutdown: %v", err)
		}

		if err := srv.Wait(shutdownCtx); err != nil {
			logEntry.Warnf("In-flight runs did not finish within %v, cancelling them", shutdownTimeout)
			jm.CancelAll()
			cancelUpdates()

			drainCtx, cancelDrain := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancelDrain()
			if err := srv.Wait(drainCtx); err != nil {
				logEntry.Errorf("Abandoning unfinished updates: %v", err)
			}
		}
		return nil
	})

	return g.Wait()
}

// runBulk handles the run subcommand
func runBulk(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file (optional)")
	input := fs.String("input", "", "Text file with one seed URL per line (required)")
	output := fs.String("output", "output", "Directory for the result file and its YAML summary")
	cache := fs.Bool("cache", false, "Reuse intermediate pages already fetched in this run")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vcloud-bot run -input urls.txt [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *input == "" {
		fmt.Fprintln(os.Stderr, "Error: -input is required")
		fs.Usage()
		os.Exit(1)
	}

	log := setupLogger(*logLevel, os.Stderr)
	appCfg := loadAndValidateConfig(*configFile, log)
	if *cache {
		appCfg.CacheIntermediates = true
	}
	logAppConfig(appCfg, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	factory := newPipelineFactory(appCfg, log.WithField("component", "pipeline"))
	report, err := processFile(ctx, appCfg, *input, *output, factory, log.WithField("component", "run"))
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}
	fmt.Printf("Result:  %s\nSummary: %s\nURLs: %d, links: %d, emergency: %d\n",
		report.ResultPath, report.SummaryPath, report.Result.ProcessedURLs, report.Result.TotalVcloudLinks, report.Result.EmergencyURLs)
}

// runReport describes the files written by one local run
type runReport struct {
	ResultPath  string
	SummaryPath string
	Result      models.BulkResult
}

// processFile runs one bulk pass over a local seed file. Progress goes to the log; the result file
// and its YAML summary go to outputDir.
func processFile(ctx context.Context, appCfg *config.AppConfig, inputPath, outputDir string, factory pipeline.Factory, log *logrus.Entry) (runReport, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return runReport{}, fmt.Errorf("read input: %w", err)
	}

	list := parse.ParseSeedList(string(data), parse.NewValidator(appCfg.AllowedDomains), appCfg.MaxURLsPerFile)
	log.WithFields(logrus.Fields{
		"valid":     list.TotalValid,
		"dropped":   list.Dropped,
		"truncated": list.Truncated,
	}).Info("Seed list parsed")
	if len(list.URLs) == 0 {
		return runReport{}, fmt.Errorf("%s: %w", inputPath, utils.ErrNoValidURLs)
	}

	sink := notify.NewLogNotifier(outputDir, log)
	var chatID int64 // Local runs have no chat

	if list.Truncated {
		_ = sink.SendText(ctx, chatID, notify.TruncatedText(list.TotalValid, appCfg.MaxURLsPerFile))
	} else {
		_ = sink.SendText(ctx, chatID, notify.FoundText(len(list.URLs)))
	}

	p := factory(log)
	result := p.ProcessBulkURLs(ctx, list.URLs, notify.BatchReporter(sink, chatID))

	name, err := notify.SendResult(ctx, sink, chatID, result, appCfg.OutputFilePrefix, time.Now())
	if err != nil {
		return runReport{}, err
	}
	summaryPath, err := pipeline.WriteSummary(outputDir, name, result)
	if err != nil {
		return runReport{}, err
	}

	return runReport{
		ResultPath:  filepath.Join(outputDir, utils.SanitizeFilename(name)),
		SummaryPath: summaryPath,
		Result:      result,
	}, nil
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file (optional)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vcloud-bot validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doValidate(*configFile, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, warnings, err := loadConfig(configPath)
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "OK: %d allowed domains (%s)\n", len(appCfg.AllowedDomains), strings.Join(appCfg.AllowedDomains, ", "))
	fmt.Fprintf(stdout, "OK: %d intermediate patterns, %d target patterns\n", len(appCfg.IntermediatePatterns), len(appCfg.TargetPatterns))
	fmt.Fprintf(stdout, "OK: up to %d URLs per file in batches of %d\n", appCfg.MaxURLsPerFile, appCfg.BatchSize)

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runSetWebhook handles the set-webhook subcommand
func runSetWebhook(args []string) {
	fs := flag.NewFlagSet("set-webhook", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file (optional)")
	webhookURL := fs.String("url", "", "Public base URL of the server, e.g. https://bot.example.com (defaults to public_url)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vcloud-bot set-webhook [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(*logLevel, os.Stderr)
	appCfg := loadAndValidateConfig(*configFile, log)

	target, err := webhookTarget(*webhookURL, appCfg.PublicURL)
	if err != nil {
		log.Fatalf("%v", err)
	}

	telegram, err := notify.NewTelegramNotifier(appCfg.TelegramConfig(), nil, log.WithField("component", "telegram"))
	if err != nil {
		log.Fatalf("Telegram error: %v", err)
	}
	if err := telegram.SetWebhook(target, appCfg.WebhookSecret); err != nil {
		log.Fatalf("Set webhook failed: %v", err)
	}
	fmt.Printf("Webhook set to %s\n", target)
}

// webhookTarget returns the full webhook URL for a base URL given on the command line or in config
func webhookTarget(flagURL, publicURL string) (string, error) {
	base := strings.TrimSpace(flagURL)
	if base == "" {
		base = strings.TrimSpace(publicURL)
	}
	if base == "" {
		return "", errors.New("no webhook URL: pass -url or set public_url / PUBLIC_URL")
	}
	if !strings.HasPrefix(base, "https://") && !strings.HasPrefix(base, "http://") {
		return "", fmt.Errorf("webhook URL %q must start with https://", base)
	}
	base = strings.TrimSuffix(base, "/")
	if strings.HasSuffix(base, "/webhook") {
		return base, nil
	}
	return base + "/webhook", nil
}

// runMcpServer handles the mcp-server subcommand
func runMcpServer(args []string) {
	fs := flag.NewFlagSet("mcp-server", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file (optional)")
	transport := fs.String("transport", "stdio", "Transport type (stdio, sse)")
	port := fs.Int("port", 8081, "HTTP port (for sse transport)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: vcloud-bot mcp-server [options]

Start an MCP (Model Context Protocol) server for AI tool integration.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Available MCP Tools:
  validate_urls   Apply the seed-list rules to a list of URLs
  process_url     Crawl one seed URL and return its links
  start_bulk      Start a background bulk run
  get_job_status  Get the status (and output) of a bulk run
  list_jobs       List bulk runs
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doMcpServer(*configFile, *transport, *port, *logLevel, os.Stderr)
	os.Exit(exitCode)
}

// doMcpServer is the testable implementation of the MCP server
func doMcpServer(configPath, transport string, port int, logLevel string, stderr io.Writer) int {
	log := logrus.New()
	log.SetOutput(stderr) // MCP protocol uses stdout, logs go to stderr
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid log level: %s\n", logLevel)
		return 1
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})

	appCfg, warnings, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	for _, w := range warnings {
		log.Warn(w)
	}

	server, err := mcp.NewServer(&mcp.ServerConfig{
		AppConfig:   appCfg,
		ConfigPath:  configPath,
		Transport:   transport,
		Port:        port,
		Logger:      log,
		NewPipeline: newPipelineFactory(appCfg, log.WithField("component", "pipeline")),
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}

	log.Infof("Starting MCP server (transport: %s)", transport)
	runErr := server.Run()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Jobs still running at exit: %v", err)
	}

	if runErr != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", runErr)
		return 1
	}
	return 0
}
