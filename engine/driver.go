// Package engine wires the driver's components (transport, discovery,
// target/session registries, wait/resolve/actionability, input, capture,
// profile store, step executor) into one lifecycle, grounded on the page-
// pool lifecycle pattern: dial once, attach per target, and drain
// everything on Close.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/pilot/actionability"
	"github.com/use-agent/pilot/capture"
	"github.com/use-agent/pilot/config"
	"github.com/use-agent/pilot/discovery"
	"github.com/use-agent/pilot/input"
	"github.com/use-agent/pilot/models"
	"github.com/use-agent/pilot/profile"
	"github.com/use-agent/pilot/resolve"
	"github.com/use-agent/pilot/session"
	"github.com/use-agent/pilot/step"
	"github.com/use-agent/pilot/target"
	"github.com/use-agent/pilot/transport"
	"github.com/use-agent/pilot/webhook"
)

// Driver is the top-level facade: one duplex connection, a target
// registry, a session registry, and a page handle per attached target.
type Driver struct {
	cfg     config.Config
	conn    *transport.Connection
	targets *target.Registry
	sess    *session.Registry
	discCl  *discovery.Client
	profiles *profile.Store

	mu    sync.Mutex
	pages map[string]*Page // keyed by targetID
}

// Page bundles one attached target's collaborators: the session plus
// every component that operates within it.
type Page struct {
	Session  *session.Session
	Resolver *resolve.Resolver
	Checker  *actionability.Checker
	Input    *input.Emulator
	Console  *capture.ConsoleCapture
	Network  *capture.NetworkCapture
	Errors   *capture.ErrorAggregator
	Executor *step.Executor
}

// Dial reads the endpoint's /json/version document (per cfg.Discovery),
// opens one duplex connection to its browser-level debugger URL, and starts
// the target/session registries.
func Dial(ctx context.Context, cfg config.Config) (*Driver, error) {
	discCl := discovery.New(cfg.Discovery.Host, cfg.Discovery.Port)
	ver, err := discCl.GetVersion(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := transport.Dial(ctx, transport.Config{
		URL:                   ver.WebSocketDebugURL,
		DefaultCommandTimeout: cfg.Transport.DefaultCommandTimeout,
		Reconnect:             cfg.Transport.Reconnect,
		BackoffBase:           cfg.Transport.BackoffBase,
		BackoffMax:            cfg.Transport.BackoffMax,
		MaxRetries:            cfg.Transport.MaxRetries,
		Logger:                slog.Default(),
	})
	if err != nil {
		return nil, err
	}

	targets := target.New(conn)
	targets.Subscribe()
	sessReg := session.New(conn)

	d := &Driver{
		cfg:      cfg,
		conn:     conn,
		targets:  targets,
		sess:     sessReg,
		discCl:   discCl,
		profiles: profile.NewStore(cfg.Profile.Dir),
		pages:    make(map[string]*Page),
	}
	return d, nil
}

// ListTargets returns the discovery endpoint's current target list.
func (d *Driver) ListTargets(ctx context.Context) ([]discovery.TargetInfo, error) {
	return d.discCl.GetTargets(ctx)
}

// Attach attaches to targetID (deduplicating concurrent callers via the
// session registry) and constructs the full page-scoped collaborator set,
// caching it for reuse by TargetID.
func (d *Driver) Attach(ctx context.Context, targetID string) (*Page, error) {
	d.mu.Lock()
	if p, ok := d.pages[targetID]; ok {
		d.mu.Unlock()
		return p, nil
	}
	d.mu.Unlock()

	sess, err := d.sess.Attach(ctx, targetID)
	if err != nil {
		return nil, err
	}

	resolver := resolve.New(sess)
	checker := actionability.New(sess, resolver)
	inputEm := input.New(sess)
	console := capture.NewConsoleCapture(sess, d.cfg.Capture.MaxMessages)
	network := capture.NewNetworkCapture(sess, d.cfg.Capture.IgnoredStatusCodes)
	errs := capture.NewErrorAggregator(console, network)

	executor := step.New(step.Deps{
		Session:             sess,
		Resolver:            resolver,
		Checker:             checker,
		Input:               inputEm,
		Console:             console,
		Network:             network,
		Errors:              errs,
		Profiles:            d.profiles,
		DefaultStepTimeout:  d.cfg.Step.DefaultTimeout,
		DefaultPollInterval: d.cfg.Step.DefaultPollInterval,
	})

	page := &Page{
		Session:  sess,
		Resolver: resolver,
		Checker:  checker,
		Input:    inputEm,
		Console:  console,
		Network:  network,
		Errors:   errs,
		Executor: executor,
	}

	d.mu.Lock()
	d.pages[targetID] = page
	d.mu.Unlock()

	return page, nil
}

// CreateTarget issues Target.createTarget and invalidates the discovery
// client's cached listing, so a subsequent ListTargets observes it without
// waiting out the cache TTL.
func (d *Driver) CreateTarget(ctx context.Context, opts target.CreateOptions) (string, error) {
	id, err := d.targets.Create(ctx, opts)
	if err != nil {
		return "", err
	}
	d.discCl.InvalidateTargets()
	return id, nil
}

// CloseTarget detaches any page attached to targetID, issues
// Target.closeTarget, and invalidates the discovery client's cached
// listing.
func (d *Driver) CloseTarget(ctx context.Context, targetID string) error {
	_ = d.Detach(ctx, targetID)
	err := d.targets.Close(ctx, targetID)
	d.discCl.InvalidateTargets()
	return err
}

// Detach releases a page's captures and detaches its session.
func (d *Driver) Detach(ctx context.Context, targetID string) error {
	d.mu.Lock()
	page, ok := d.pages[targetID]
	delete(d.pages, targetID)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	page.Console.Close()
	page.Network.Close()
	return d.sess.DetachByTarget(ctx, targetID)
}

// Run executes a step list against the page attached to targetID. On
// completion, if cfg.Webhook.URL is set, it fires a run.completed or
// run.failed event asynchronously.
func (d *Driver) Run(ctx context.Context, targetID, runID string, rawSteps []map[string]any, opts step.RunOptions) (models.RunReport, error) {
	page, err := d.Attach(ctx, targetID)
	if err != nil {
		return models.RunReport{}, err
	}
	report, err := page.Executor.Run(ctx, runID, rawSteps, opts)
	if err == nil {
		report.Summary = page.Errors.GetSummary()
	}
	d.notifyWebhook(report)
	return report, err
}

// notifyWebhook delivers a run-completion event if a webhook URL is
// configured. It is a no-op for an empty report (e.g. Run failed before
// producing one).
func (d *Driver) notifyWebhook(report models.RunReport) {
	if d.cfg.Webhook.URL == "" || report.ID == "" {
		return
	}
	event := &webhook.Event{
		Type:      webhook.ReportEventType(report),
		RunID:     report.ID,
		Timestamp: time.Now().Unix(),
		Data:      &report,
	}
	webhook.DeliverAsync(d.cfg.Webhook.URL, d.cfg.Webhook.Secret, event)
}

// Close detaches every tracked page, unsubscribes the registries, and
// closes the duplex connection.
func (d *Driver) Close() {
	d.mu.Lock()
	ids := make([]string, 0, len(d.pages))
	for id := range d.pages {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, id := range ids {
		_ = d.Detach(ctx, id)
	}

	d.sess.Close()
	d.targets.Unsubscribe()
	_ = d.conn.Close()
}
