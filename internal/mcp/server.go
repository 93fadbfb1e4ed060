// Package mcp exposes the verification loop as Model Context Protocol
// tools, so a coding assistant can verify its own changes.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ternarybob/vloop/internal/dashboard"
	"github.com/ternarybob/vloop/internal/project"
	"github.com/ternarybob/vloop/pkg/fault"
	"github.com/ternarybob/vloop/pkg/loop"
	"github.com/ternarybob/vloop/pkg/report"
	"github.com/ternarybob/vloop/pkg/sdk"
)

// Resolver returns the workspace a tool call operates on. projectID is the
// "project" argument, which may be empty.
type Resolver func(projectID string) (*project.Workspace, error)

// Single resolves every call to ws.
func Single(ws *project.Workspace) Resolver {
	return func(string) (*project.Workspace, error) { return ws, nil }
}

// Managed resolves calls through the service's project manager. The
// "project" argument is required.
func Managed(m *project.Manager) Resolver {
	return func(id string) (*project.Workspace, error) {
		if id == "" {
			return nil, fault.New(fault.EUsage, "project is required; list projects with the REST API")
		}
		return m.Workspace(id)
	}
}

const instructions = `vloop verifies changes before they are called done.
After changing code, call verify with the change type. A change is only
verified when verify reports VERIFIED; a failed stage must be fixed and
verified again. After three failed attempts at one stage the run escalates
and a human has to look. Never report a stage as verified that did not run.`

// Server wraps the verification tools in an MCP server.
type Server struct {
	resolve Resolver
	server  *server.MCPServer
}

// NewServer creates an MCP server whose tools act on the workspaces
// returned by resolve.
func NewServer(resolve Resolver, version string) *Server {
	s := &Server{resolve: resolve}

	mcpServer := server.NewMCPServer(
		"vloop",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	s.registerTools(mcpServer)

	s.server = mcpServer
	return s
}

func projectArg() mcp.ToolOption {
	return mcp.WithString("project",
		mcp.Description("Project ID. Only needed when talking to the vloop service."),
	)
}

func changeTypes() []string {
	all := sdk.ChangeTypes()
	out := make([]string, len(all))
	for i, ct := range all {
		out[i] = string(ct)
	}
	return out
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(
		mcp.NewTool("verify",
			mcp.WithDescription("Run every mandatory stage for a change until it is verified or escalated. Blocks until the run ends."),
			mcp.WithString("change_type",
				mcp.Required(),
				mcp.Description("What kind of change was made; decides which stages are mandatory."),
				mcp.Enum(changeTypes()...),
			),
			mcp.WithString("feature",
				mcp.Description("Feature the change belongs to; criteria of this feature can be completed by the run."),
			),
			projectArg(),
		),
		s.handleVerify,
	)

	mcpServer.AddTool(
		mcp.NewTool("verify_step",
			mcp.WithDescription("Execute the current stage of the current run once. Start a run first with start_run."),
			projectArg(),
		),
		s.handleStep,
	)

	mcpServer.AddTool(
		mcp.NewTool("start_run",
			mcp.WithDescription("Start a verification run without executing any stage. Use verify_step to advance it."),
			mcp.WithString("change_type",
				mcp.Required(),
				mcp.Description("What kind of change was made."),
				mcp.Enum(changeTypes()...),
			),
			mcp.WithString("feature", mcp.Description("Feature the change belongs to.")),
			projectArg(),
		),
		s.handleStartRun,
	)

	mcpServer.AddTool(
		mcp.NewTool("run_status",
			mcp.WithDescription("Show the current run, criteria, dev server reachability and recent runs."),
			projectArg(),
		),
		s.handleStatus,
	)

	mcpServer.AddTool(
		mcp.NewTool("run_report",
			mcp.WithDescription("Get the markdown verification report of a run."),
			mcp.WithString("run", mcp.Description("Run ID or prefix. Defaults to the current run.")),
			projectArg(),
		),
		s.handleReport,
	)

	mcpServer.AddTool(
		mcp.NewTool("criteria_list",
			mcp.WithDescription("List acceptance criteria and their status."),
			mcp.WithString("feature", mcp.Description("Only list criteria of this feature.")),
			projectArg(),
		),
		s.handleCriteriaList,
	)

	mcpServer.AddTool(
		mcp.NewTool("criterion_add",
			mcp.WithDescription("Record an acceptance criterion. It must describe something observable, e.g. \"Submitting an empty email shows 'Email is required'\"."),
			mcp.WithString("feature", mcp.Required(), mcp.Description("Feature the criterion belongs to.")),
			mcp.WithString("description", mcp.Required(), mcp.Description("What a user sees or a request returns when the criterion holds.")),
			projectArg(),
		),
		s.handleCriterionAdd,
	)

	mcpServer.AddTool(
		mcp.NewTool("criterion_start",
			mcp.WithDescription("Mark a criterion in progress."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Criterion ID or prefix.")),
			projectArg(),
		),
		s.handleCriterionStart,
	)

	mcpServer.AddTool(
		mcp.NewTool("criterion_complete",
			mcp.WithDescription("Mark a criterion completed. Requires a run of the same feature that reached done."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Criterion ID or prefix.")),
			mcp.WithString("run", mcp.Description("Run that verified it. Defaults to the current run.")),
			projectArg(),
		),
		s.handleCriterionComplete,
	)
}

func (s *Server) workspace(request mcp.CallToolRequest) (*project.Workspace, error) {
	return s.resolve(request.GetString("project", ""))
}

// toolError renders err with its code so the caller can tell usage errors
// from escalations.
func toolError(action string, err error) *mcp.CallToolResult {
	if code := fault.CodeOf(err); code != "" {
		return mcp.NewToolResultError(fmt.Sprintf("%s failed [%s]: %v", action, code, err))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", action, err))
}

func (s *Server) handleVerify(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, err := s.workspace(request)
	if err != nil {
		return toolError("verify", err), nil
	}
	ct := sdk.ChangeType(request.GetString("change_type", ""))
	_, rep, err := ws.Verify(ctx, ct, request.GetString("feature", ""))
	if err != nil {
		return toolError("verify", err), nil
	}
	result := mcp.NewToolResultText(report.Markdown(rep))
	result.IsError = !rep.Succeeded()
	return result, nil
}

func (s *Server) handleStartRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, err := s.workspace(request)
	if err != nil {
		return toolError("start run", err), nil
	}
	ct := sdk.ChangeType(request.GetString("change_type", ""))
	run, err := ws.Start(ct, request.GetString("feature", ""))
	if err != nil {
		return toolError("start run", err), nil
	}
	stages := make([]string, 0)
	for _, st := range run.ChangeType.MandatoryStages() {
		stages = append(stages, st.Title())
	}
	return mcp.NewToolResultText(fmt.Sprintf("Run %s started at %s. Mandatory stages: %s.",
		sdk.ShortID(run.ID), run.Stage().Title(), strings.Join(stages, ", "))), nil
}

func (s *Server) handleStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, err := s.workspace(request)
	if err != nil {
		return toolError("step", err), nil
	}
	run, out, err := ws.Step(ctx)
	if err != nil {
		return toolError("step", err), nil
	}

	var sb strings.Builder
	if out.Passed {
		fmt.Fprintf(&sb, "%s passed.\n", out.Stage.Title())
	} else {
		fmt.Fprintf(&sb, "%s failed (attempt %d of %d): %s\n", out.Stage.Title(), out.Attempt, sdk.MaxStageAttempts, out.Reason)
	}
	fmt.Fprintf(&sb, "Run is now at %s.\n\n", run.Stage().Title())
	sb.WriteString(dashboard.RenderRun(run.Report()))

	result := mcp.NewToolResultText(sb.String())
	result.IsError = !out.Passed
	return result, nil
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, err := s.workspace(request)
	if err != nil {
		return toolError("status", err), nil
	}
	var sb strings.Builder
	for _, p := range dashboard.Compose(ctx, ws.Dashboard()) {
		sb.WriteString("## " + p.Name + "\n")
		if p.OK {
			sb.WriteString(p.Body + "\n\n")
			continue
		}
		fmt.Fprintf(&sb, "%s [%s]", p.Failure.Message, p.Failure.Code)
		if p.Failure.Action != "" {
			sb.WriteString(". " + p.Failure.Action)
		}
		sb.WriteString("\n\n")
	}
	return mcp.NewToolResultText(strings.TrimRight(sb.String(), "\n")), nil
}

func (s *Server) handleReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, err := s.workspace(request)
	if err != nil {
		return toolError("report", err), nil
	}
	run, err := loadRun(ws, request.GetString("run", ""))
	if err != nil {
		return toolError("report", err), nil
	}
	return mcp.NewToolResultText(report.Markdown(run.Report())), nil
}

func (s *Server) handleCriteriaList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, err := s.workspace(request)
	if err != nil {
		return toolError("list criteria", err), nil
	}
	list := ws.Tracker.List(request.GetString("feature", ""))
	if len(list) == 0 {
		return mcp.NewToolResultText("No criteria recorded."), nil
	}
	return mcp.NewToolResultText(report.Criteria(list)), nil
}

func (s *Server) handleCriterionAdd(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, err := s.workspace(request)
	if err != nil {
		return toolError("add criterion", err), nil
	}
	c, err := ws.Tracker.Add(request.GetString("feature", ""), request.GetString("description", ""))
	if err != nil {
		return toolError("add criterion", err), nil
	}
	return jsonResult(c)
}

func (s *Server) handleCriterionStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, err := s.workspace(request)
	if err != nil {
		return toolError("start criterion", err), nil
	}
	c, err := ws.Tracker.Start(request.GetString("id", ""))
	if err != nil {
		return toolError("start criterion", err), nil
	}
	return jsonResult(c)
}

func (s *Server) handleCriterionComplete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, err := s.workspace(request)
	if err != nil {
		return toolError("complete criterion", err), nil
	}
	run, err := loadRun(ws, request.GetString("run", ""))
	if err != nil {
		return toolError("complete criterion", err), nil
	}
	c, err := ws.Tracker.Complete(request.GetString("id", ""), run)
	if err != nil {
		return toolError("complete criterion", err), nil
	}
	return jsonResult(c)
}

func loadRun(ws *project.Workspace, id string) (*loop.Run, error) {
	if id == "" {
		return ws.Runs.Current()
	}
	return ws.Runs.Load(id)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ServeStdio starts the MCP server on stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.server)
}

// Handler returns the streamable HTTP transport, for mounting in the
// service router.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}
