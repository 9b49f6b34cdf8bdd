// Command pilot-mcp exposes the step-execution driver as an MCP tool
// server: a run_steps tool that dials the browser, attaches to a target,
// executes a step list, and returns the structured run report, and a
// list_targets tool that returns the discovered targets.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/use-agent/pilot/config"
	"github.com/use-agent/pilot/engine"
	"github.com/use-agent/pilot/step"
)

func main() {
	cfg := config.Load()

	s := server.NewMCPServer(
		"pilot",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	runStepsTool := mcp.NewTool("run_steps",
		mcp.WithDescription("Execute an ordered list of browser-automation steps (goto, click, fill, wait, assert, eval, ...) against a live browser target and return the structured run report."),
		mcp.WithString("targetId",
			mcp.Description("The target id to attach to; if omitted, the first discovered page target is used"),
		),
		mcp.WithString("runId",
			mcp.Description("An identifier for this run, echoed back in the report (default: a generated UUID)"),
		),
		mcp.WithArray("steps",
			mcp.Required(),
			mcp.Description("Ordered list of step objects, each with exactly one recognized action key"),
		),
		mcp.WithBoolean("stopOnError",
			mcp.Description("Stop executing further steps after the first step error (default: true)"),
		),
	)
	s.AddTool(runStepsTool, handleRunSteps(cfg))

	listTargetsTool := mcp.NewTool("list_targets",
		mcp.WithDescription("List the targets (pages, workers, ...) currently discoverable on the configured browser endpoint."),
	)
	s.AddTool(listTargetsTool, handleListTargets(cfg))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func handleRunSteps(cfg *config.Config) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		targetID, _ := args["targetId"].(string)
		runID, _ := args["runId"].(string)
		if runID == "" {
			runID = uuid.NewString()
		}
		stopOnError := true
		if v, ok := args["stopOnError"].(bool); ok {
			stopOnError = v
		}

		rawStepsAny, ok := args["steps"].([]any)
		if !ok {
			return mcp.NewToolResultError("steps is required and must be an array of step objects"), nil
		}
		rawSteps := make([]map[string]any, 0, len(rawStepsAny))
		for _, s := range rawStepsAny {
			m, ok := s.(map[string]any)
			if !ok {
				return mcp.NewToolResultError("each step must be a JSON object"), nil
			}
			rawSteps = append(rawSteps, m)
		}

		d, err := engine.Dial(ctx, *cfg)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to connect to browser: %v", err)), nil
		}
		defer d.Close()

		if targetID == "" {
			targets, terr := d.ListTargets(ctx)
			if terr != nil {
				return mcp.NewToolResultError("no targetId given and no targets discovered"), nil
			}
			for _, t := range targets {
				if t.Type == "page" {
					targetID = t.ID
					break
				}
			}
			if targetID == "" {
				return mcp.NewToolResultError("no targetId given and no page targets discovered"), nil
			}
		}

		report, err := d.Run(ctx, targetID, runID, rawSteps, step.RunOptions{StopOnError: stopOnError})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", err)), nil
		}

		out, err := json.Marshal(report)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal report: %v", err)), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	}
}

func handleListTargets(cfg *config.Config) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		d, err := engine.Dial(ctx, *cfg)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to connect to browser: %v", err)), nil
		}
		defer d.Close()

		targets, err := d.ListTargets(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list targets: %v", err)), nil
		}
		out, err := json.Marshal(targets)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal targets: %v", err)), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	}
}
