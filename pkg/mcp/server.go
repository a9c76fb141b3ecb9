package mcp

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/velocityhq/velocity/internal/graph"
	"github.com/velocityhq/velocity/internal/jobs"
	"github.com/velocityhq/velocity/internal/ledger"
	"github.com/velocityhq/velocity/internal/store"
	"github.com/velocityhq/velocity/internal/tools"
)

// VelocityServerDeps holds the dependencies for creating a VelocityServer.
type VelocityServerDeps struct {
	Manager  *jobs.Manager
	Ledger   *ledger.Ledger
	Store    store.Store
	Registry *tools.Registry
	Graph    *graph.Graph
	Logger   *slog.Logger

	// WatchInterval overrides the run-watch polling interval (tests).
	WatchInterval time.Duration
}

// VelocityServer wraps an MCP server with onboarding tool handlers.
type VelocityServer struct {
	manager   *jobs.Manager
	ledger    *ledger.Ledger
	store     store.Store
	registry  *tools.Registry
	graph     *graph.Graph
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  RunNotifier
	watchTick time.Duration
	mcpServer *server.MCPServer
}

// NewVelocityServer creates a new VelocityServer with all 7 tools registered.
func NewVelocityServer(deps VelocityServerDeps) *VelocityServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	watchTick := deps.WatchInterval
	if watchTick <= 0 {
		watchTick = 2 * time.Second
	}

	s := &VelocityServer{
		manager:   deps.Manager,
		ledger:    deps.Ledger,
		store:     deps.Store,
		registry:  deps.Registry,
		graph:     deps.Graph,
		logger:    logger,
		sessions:  NewSessionRegistry(),
		watchTick: watchTick,
	}

	mcpSrv := server.NewMCPServer(
		"velocity",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Velocity is a merchant onboarding verification engine. Use onboard.submit to start a verification run, onboard.status to poll its progress, onboard.items to inspect open action items, onboard.resume to provide corrections after review, onboard.runs to list runs, onboard.simulate to toggle failure simulation, and onboard.graph to inspect the stage graph."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *VelocityServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *VelocityServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *VelocityServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: submitTool(), Handler: s.handleSubmit},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: itemsTool(), Handler: s.handleItems},
		{Tool: resumeTool(), Handler: s.handleResume},
		{Tool: runsTool(), Handler: s.handleRuns},
		{Tool: simulateTool(), Handler: s.handleSimulate},
		{Tool: graphTool(), Handler: s.handleGraph},
	}
}

// --- Tool definitions ---

func submitTool() mcp.Tool {
	return mcp.NewTool("onboard.submit",
		mcp.WithDescription("Submit a merchant application and start a background verification run"),
		mcp.WithString("merchant_id", mcp.Required(), mcp.Description("External identifier of the merchant")),
		mcp.WithObject("application", mcp.Required(), mcp.Description("Merchant application payload (business_details, bank_details, signatory_details)")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("onboard.status",
		mcp.WithDescription("Get the status of a verification run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func itemsTool() mcp.Tool {
	return mcp.NewTool("onboard.items",
		mcp.WithDescription("List action items raised during a verification run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
		mcp.WithBoolean("include_resolved", mcp.Description("Include resolved items (default: false)")),
	)
}

func resumeTool() mcp.Tool {
	return mcp.NewTool("onboard.resume",
		mcp.WithDescription("Resume a run paused for review with corrected application data"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to resume")),
		mcp.WithObject("updated_data", mcp.Description("Corrected application fields, deep-merged into the stored payload")),
		mcp.WithString("user_message", mcp.Description("Free-text note from the merchant")),
	)
}

func runsTool() mcp.Tool {
	return mcp.NewTool("onboard.runs",
		mcp.WithDescription("List verification runs"),
		mcp.WithString("status", mcp.Description("Filter by job status"),
			mcp.Enum("QUEUED", "PROCESSING", "NEEDS_REVIEW", "COMPLETED", "FAILED"),
		),
		mcp.WithString("merchant_id", mcp.Description("Filter by merchant")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs to return (default: 50)")),
	)
}

func simulateTool() mcp.Tool {
	return mcp.NewTool("onboard.simulate",
		mcp.WithDescription("Inspect or toggle failure-simulation flags on the tool registry"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("list", "set", "reset"),
			mcp.Description("list current flags, set one flag, or reset all"),
		),
		mcp.WithString("flag", mcp.Description("Flag name (required for action=set)")),
		mcp.WithBoolean("enabled", mcp.Description("Desired flag value (default: true)")),
	)
}

func graphTool() mcp.Tool {
	return mcp.NewTool("onboard.graph",
		mcp.WithDescription("Describe the verification stage graph"),
		mcp.WithString("format", mcp.Description("Output format: text (default) or mermaid"),
			mcp.Enum("text", "mermaid"),
		),
	)
}
