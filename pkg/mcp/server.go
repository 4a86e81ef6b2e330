// Package mcp exposes the crawl pipeline and the run registry as MCP tools.
package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/vcloud-bot/vcloud-bot/pkg/config"
	"github.com/vcloud-bot/vcloud-bot/pkg/jobs"
	"github.com/vcloud-bot/vcloud-bot/pkg/parse"
	"github.com/vcloud-bot/vcloud-bot/pkg/pipeline"
	"github.com/vcloud-bot/vcloud-bot/pkg/utils"
)

const (
	serverName    = "vcloud-bot"
	serverVersion = "1.0.0"

	toolSource = "mcp" // Job source recorded for runs started through start_bulk
)

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig   *config.AppConfig
	ConfigPath  string
	Transport   string // "stdio" or "sse"
	Port        int
	Logger      *logrus.Logger
	Jobs        *jobs.Manager // Created from MaxConcurrentRuns when nil
	NewPipeline pipeline.Factory
}

// Server wraps the MCP server with the bulk extraction tools
type Server struct {
	mcpServer   *server.MCPServer
	cfg         *ServerConfig
	log         *logrus.Entry
	jobManager  *jobs.Manager
	validator   *parse.Validator
	newPipeline pipeline.Factory
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("%w: AppConfig is required", utils.ErrConfigValidation)
	}
	if cfg.NewPipeline == nil {
		return nil, fmt.Errorf("%w: pipeline factory is required", utils.ErrConfigValidation)
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	log := cfg.Logger.WithField("component", "mcp")

	jm := cfg.Jobs
	if jm == nil {
		jm = jobs.NewManager(cfg.AppConfig.MaxConcurrentRuns, log)
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer:   mcpServer,
		cfg:         cfg,
		log:         log,
		jobManager:  jm,
		validator:   parse.NewValidator(cfg.AppConfig.AllowedDomains),
		newPipeline: cfg.NewPipeline,
	}

	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	validateTool := mcp.NewTool("validate_urls",
		mcp.WithDescription("Apply the seed-list rules to a list of URLs: allowed domains, http(s) only, capped at the per-file limit"),
		mcp.WithArray("urls",
			mcp.Required(),
			mcp.Description("Candidate seed URLs, one per entry"),
			mcp.WithStringItems(),
		),
	)
	s.mcpServer.AddTool(validateTool, s.handleValidateURLs)

	processTool := mcp.NewTool("process_url",
		mcp.WithDescription("Crawl one seed URL through its intermediate pages and return the target links found"),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Seed URL on an allowed domain"),
		),
	)
	s.mcpServer.AddTool(processTool, s.handleProcessURL)

	bulkTool := mcp.NewTool("start_bulk",
		mcp.WithDescription("Start a background bulk run over a list of seed URLs. Returns immediately with a job ID."),
		mcp.WithArray("urls",
			mcp.Required(),
			mcp.Description("Seed URLs; invalid entries are dropped"),
			mcp.WithStringItems(),
		),
	)
	s.mcpServer.AddTool(bulkTool, s.handleStartBulk)

	statusTool := mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the status of a bulk run"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by start_bulk"),
		),
		mcp.WithBoolean("include_output",
			mcp.Description("Include the title|url output of a completed run (default: true)"),
		),
	)
	s.mcpServer.AddTool(statusTool, s.handleGetJobStatus)

	listTool := mcp.NewTool("list_jobs",
		mcp.WithDescription("List every known bulk run, oldest first"),
	)
	s.mcpServer.AddTool(listTool, s.handleListJobs)

	s.log.Infof("Registered %d MCP tools", 5)
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	if s.cfg.ConfigPath != "" {
		s.log.Debugf("Using configuration from %s", s.cfg.ConfigPath)
	}
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running jobs and waits for them to return
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()
	return s.jobManager.Wait(ctx)
}
