// Command pilot is the CLI front-end for the step-execution driver: run a
// step list from stdin/file against a discovered browser target, list
// targets, capture a screenshot, or emit captured errors.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"net/http"

	"github.com/google/uuid"
	"github.com/use-agent/pilot/api"
	"github.com/use-agent/pilot/api/handler"
	"github.com/use-agent/pilot/capture"
	"github.com/use-agent/pilot/config"
	"github.com/use-agent/pilot/engine"
	"github.com/use-agent/pilot/models"
	"github.com/use-agent/pilot/step"
)

// Exit codes: 0 ok, 1 any step error, 2 validation error, 3 connection/
// discovery failure.
const (
	exitOK                = 0
	exitStepError         = 1
	exitValidationError   = 2
	exitConnectionFailure = 3
)

func main() {
	cfg := config.Load()
	initLogger(cfg.Log)

	if len(os.Args) < 2 {
		usage()
		os.Exit(exitValidationError)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch os.Args[1] {
	case "run":
		os.Exit(cmdRun(ctx, cfg))
	case "list-targets":
		os.Exit(cmdListTargets(ctx, cfg))
	case "screenshot":
		os.Exit(cmdScreenshot(ctx, cfg))
	case "errors":
		os.Exit(cmdErrors(ctx, cfg))
	case "serve":
		os.Exit(cmdServe(ctx, cfg))
	default:
		usage()
		os.Exit(exitValidationError)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pilot <run|list-targets|screenshot|errors|serve> [flags]")
}

// cmdServe starts the introspection HTTP server, dialing the browser once
// and reusing the connection for every request.
func cmdServe(ctx context.Context, cfg *config.Config) int {
	d, err := engine.Dial(ctx, *cfg)
	if err != nil {
		slog.Error("failed to connect to browser", "error", err)
		return exitConnectionFailure
	}
	defer d.Close()

	runs := handler.NewRunStore()
	router := api.NewRouter(d, runs, cfg, time.Now())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("pilot introspection server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server exited with error", "error", err)
		return exitConnectionFailure
	}
	return exitOK
}

func cmdRun(ctx context.Context, cfg *config.Config) int {
	fs := newFlagSet("run")
	targetID := fs.String("target", "", "target id to attach to")
	runID := fs.String("id", "", "run id (default: a generated uuid)")
	stopOnError := fs.Bool("stop-on-error", true, "stop on first step error")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return exitValidationError
	}

	if *runID == "" {
		*runID = uuid.NewString()
	}

	var rawSteps []map[string]any
	dec := json.NewDecoder(os.Stdin)
	if err := dec.Decode(&rawSteps); err != nil {
		slog.Error("failed to decode step list from stdin", "error", err)
		return exitValidationError
	}

	d, err := engine.Dial(ctx, *cfg)
	if err != nil {
		slog.Error("failed to connect to browser", "error", err)
		return exitConnectionFailure
	}
	defer d.Close()

	target := *targetID
	if target == "" {
		targets, err := d.ListTargets(ctx)
		if err != nil || len(targets) == 0 {
			slog.Error("no target specified and discovery found none", "error", err)
			return exitConnectionFailure
		}
		target = targets[0].ID
	}

	report, err := d.Run(ctx, target, *runID, rawSteps, step.RunOptions{StopOnError: *stopOnError})
	if err != nil {
		if models.IsKind(err, models.ErrStepValidation) {
			slog.Error("step validation failed", "error", err)
			return exitValidationError
		}
		slog.Error("run failed", "error", err)
		return exitConnectionFailure
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	if report.Status == models.StatusError {
		return exitStepError
	}
	return exitOK
}

func cmdListTargets(ctx context.Context, cfg *config.Config) int {
	d, err := engine.Dial(ctx, *cfg)
	if err != nil {
		slog.Error("failed to connect to browser", "error", err)
		return exitConnectionFailure
	}
	defer d.Close()

	targets, err := d.ListTargets(ctx)
	if err != nil {
		slog.Error("failed to list targets", "error", err)
		return exitConnectionFailure
	}
	out, _ := json.MarshalIndent(targets, "", "  ")
	fmt.Println(string(out))
	return exitOK
}

func cmdScreenshot(ctx context.Context, cfg *config.Config) int {
	fs := newFlagSet("screenshot")
	targetID := fs.String("target", "", "target id to attach to")
	outPath := fs.String("out", "screenshot.png", "output file path")
	format := fs.String("format", "png", "png|jpeg|webp")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return exitValidationError
	}
	if *targetID == "" {
		slog.Error("-target is required")
		return exitValidationError
	}

	d, err := engine.Dial(ctx, *cfg)
	if err != nil {
		slog.Error("failed to connect to browser", "error", err)
		return exitConnectionFailure
	}
	defer d.Close()

	page, err := d.Attach(ctx, *targetID)
	if err != nil {
		slog.Error("failed to attach to target", "error", err)
		return exitConnectionFailure
	}

	shot := capture.NewScreenshot(page.Session)
	data, err := shot.Capture(ctx, capture.Options{Format: capture.Format(*format), Mode: capture.ModeViewport})
	if err != nil {
		slog.Error("screenshot capture failed", "error", err)
		return exitStepError
	}

	if err := os.WriteFile(*outPath, data, 0o644); err != nil {
		slog.Error("failed to write screenshot file", "error", err)
		return exitConnectionFailure
	}
	fmt.Println(*outPath)
	return exitOK
}

func cmdErrors(ctx context.Context, cfg *config.Config) int {
	fs := newFlagSet("errors")
	targetID := fs.String("target", "", "target id to attach to")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return exitValidationError
	}
	if *targetID == "" {
		slog.Error("-target is required")
		return exitValidationError
	}

	d, err := engine.Dial(ctx, *cfg)
	if err != nil {
		slog.Error("failed to connect to browser", "error", err)
		return exitConnectionFailure
	}
	defer d.Close()

	page, err := d.Attach(ctx, *targetID)
	if err != nil {
		slog.Error("failed to attach to target", "error", err)
		return exitConnectionFailure
	}

	// Give capture a moment to accumulate events already in flight.
	time.Sleep(200 * time.Millisecond)

	out, _ := json.MarshalIndent(page.Errors.ToJSON(), "", "  ")
	fmt.Println(string(out))
	return exitOK
}
