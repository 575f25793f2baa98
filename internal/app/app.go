package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/vk/fmriflow/internal/config"
	"github.com/vk/fmriflow/internal/ctxlog"
	"github.com/vk/fmriflow/internal/fsl"
	"github.com/vk/fmriflow/internal/ledger"
	"github.com/vk/fmriflow/internal/preproc"
	"github.com/vk/fmriflow/internal/registry"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	in     io.Reader
	logger *slog.Logger
	config *Config
	env    *Env

	modules   []registry.Module
	registry  *registry.Registry
	model     *config.Model
	converter config.Converter

	runner   fsl.Runner
	approver preproc.Approver

	ledger     *ledger.Ledger
	metrics    *metrics
	httpServer *http.Server
}

// Option customizes an App.
type Option func(*App)

// WithModules replaces the compiled-in step modules.
func WithModules(modules ...registry.Module) Option {
	return func(a *App) { a.modules = modules }
}

// WithRunner replaces the toolkit runner built from the environment.
func WithRunner(r fsl.Runner) Option {
	return func(a *App) { a.runner = r }
}

// WithApprover replaces the brain extraction approver.
func WithApprover(ap preproc.Approver) Option {
	return func(a *App) { a.approver = ap }
}

// WithEnv replaces the environment read from the process.
func WithEnv(e Env) Option {
	return func(a *App) { a.env = &e }
}

// WithInput sets the terminal input of interactive reviews.
func WithInput(r io.Reader) Option {
	return func(a *App) { a.in = r }
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and registry.
// Invalid pipelines are programmer or operator errors and panic; main
// recovers them.
func NewApp(outW io.Writer, appConfig *Config, loader config.Loader, opts ...Option) *App {
	logger := newLogger(appConfig, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	a := &App{
		outW:    outW,
		in:      os.Stdin,
		logger:  logger,
		config:  appConfig,
		modules: coreModules,
		metrics: newMetrics(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.env == nil {
		e, err := LoadEnv()
		if err != nil {
			panic(err)
		}
		a.env = &e
	}

	model, converter, err := loader.Load(ctx, appConfig.PipelinePath)
	if err != nil {
		panic(fmt.Errorf("failed to load pipeline: %w", err))
	}
	logger.Debug("Pipeline loaded and translated into unified model.", "steps", len(model.Steps))

	reg := registry.New()
	for _, mod := range a.modules {
		mod.Register(reg)
	}
	logger.Debug("All Go modules registered.", "count", len(a.modules))

	if err := reg.ValidateRegistry(ctx); err != nil {
		panic(err)
	}
	if err := reg.ValidateModel(model); err != nil {
		panic(err)
	}
	logger.Debug("Registry validation passed.")

	if a.runner == nil {
		a.runner = fsl.NewExecRunner(fsl.Env{FSLDir: a.env.FSLDir, OutputType: a.env.FSLOutputType}, appConfig.DryRun)
	}
	if a.approver == nil {
		if appConfig.Interactive {
			a.approver = &preproc.InteractiveApprover{In: a.in, Out: outW, Viewer: a.env.Viewer}
		} else {
			a.approver = preproc.AutoApprover{}
		}
	}

	a.registry = reg
	a.model = model
	a.converter = converter
	return a
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Model returns the loaded pipeline.
func (a *App) Model() *config.Model {
	return a.model
}
