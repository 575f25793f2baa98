package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vk/fmriflow/internal/config"
	"github.com/vk/fmriflow/internal/ctxlog"
	"github.com/vk/fmriflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the notify step.
type Input struct {
	URL       string `arg:"url,required"`
	Namespace string `arg:"namespace"`
	Event     string `arg:"event"`
	// AckEvent is awaited after emitting. Empty returns once the event is
	// emitted.
	AckEvent           string         `arg:"ack_event"`
	Message            string         `arg:"message"`
	Data               map[string]any `arg:"data"`
	Timeout            string         `arg:"timeout"`
	InsecureSkipVerify bool           `arg:"insecure_skip_verify"`
}

func newInput() any {
	return &Input{Namespace: "/", Event: "pipeline_event", AckEvent: "ack", Timeout: "10s"}
}

// payload identifies the run and the node the event comes from.
func payload(deps *registry.Deps, in *Input) map[string]any {
	p := map[string]any{
		"run_id":  deps.RunID,
		"study":   deps.Study.Name(),
		"subject": "group",
	}
	if deps.Subject != nil {
		p["subject"] = deps.Subject.ID()
	}
	if in.Message != "" {
		p["message"] = in.Message
	}
	if len(in.Data) > 0 {
		p["data"] = in.Data
	}
	return p
}

// OnRunNotify emits a pipeline event to a socket.io endpoint.
func OnRunNotify(ctx context.Context, deps *registry.Deps, in *Input) error {
	timeout, err := time.ParseDuration(in.Timeout)
	if err != nil {
		return fmt.Errorf("invalid timeout %q: %w", in.Timeout, err)
	}
	if timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", in.Timeout)
	}

	p := payload(deps, in)
	logger := ctxlog.FromContext(ctx).With("url", in.URL, "event", in.Event)
	if deps.DryRun {
		jsonData, _ := json.Marshal(p)
		logger.Info("Dry run, not sending notification.", "data", string(jsonData))
		return nil
	}
	if err := send(ctx, in, timeout, p); err != nil {
		return fmt.Errorf("failed to notify %s: %w", in.URL, err)
	}
	logger.Info("Notification sent.")
	return nil
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("notify", &registry.RegisteredRunner{
		NewInput:   newInput,
		Scopes:     []config.Scope{config.ScopeSubject, config.ScopeGroup},
		DryRunSafe: true,
		Fn:         OnRunNotify,
	})
}
