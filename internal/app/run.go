package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/vk/fmriflow/internal/behav"
	"github.com/vk/fmriflow/internal/ctxlog"
	"github.com/vk/fmriflow/internal/dag"
	"github.com/vk/fmriflow/internal/ledger"
	"github.com/vk/fmriflow/internal/nifti"
	"github.com/vk/fmriflow/internal/openfmri"
	"github.com/vk/fmriflow/internal/preproc"
	"github.com/vk/fmriflow/internal/registry"
)

const memoryLedger = "file::memory:"

// Run executes the pipeline: it opens the study, resolves the subjects,
// expands the steps into a graph and runs it.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if err := a.openLedger(); err != nil {
		return err
	}
	defer a.closeLedger()

	if a.config.HealthcheckPort > 0 {
		if _, err := a.startHealthcheckServer(a.config.HealthcheckPort); err != nil {
			return err
		}
		defer a.closeHealthcheckServer()
	}

	study, err := a.openStudy()
	if err != nil {
		return err
	}
	a.logger.Info("Study opened.", "study", study.Name(), "dir", study.StudyDir())

	subjects, err := a.resolveSubjects(ctx, study)
	if err != nil {
		return err
	}

	if err := a.checkArguments(ctx); err != nil {
		return err
	}

	ids := make([]string, len(subjects))
	byID := make(map[string]*openfmri.SubjectDir, len(subjects))
	for i, s := range subjects {
		ids[i] = s.ID()
		byID[s.ID()] = s
	}

	plan, err := dag.Build(ctx, a.model, ids)
	if err != nil {
		return fmt.Errorf("failed to build dependency graph: %w", err)
	}
	a.logger.Debug("Dependency graph built.", "node_count", len(plan.Nodes))
	if a.config.DryRun {
		for i, id := range plan.Order {
			a.logger.Info("Planned node.", "position", i+1, "node", id)
		}
	}
	if len(plan.Nodes) == 0 {
		a.logger.Warn("No nodes found in graph, execution not required.")
		return nil
	}

	run, err := a.ledger.StartRun(ctx, pipelineName(a.config.PipelinePath), study.Name(), a.config.DryRun)
	if err != nil {
		return err
	}

	base, err := a.baseDeps(study, subjects, run.Id.String())
	if err != nil {
		return err
	}

	a.metrics.running.Inc()
	defer a.metrics.running.Dec()

	a.logger.Info("🚀 Starting concurrent execution...", "nodes", len(plan.Nodes), "workers", a.config.WorkerCount)
	exec := dag.NewExecutor(plan, a.config.WorkerCount, a.runNode(base, byID),
		dag.WithFailFast(a.config.FailFast),
		dag.WithObserver(a.recordNode(run)),
	)
	runErr := exec.Run(ctx)

	status := ledger.StatusDone
	switch {
	case errors.Is(runErr, context.Canceled) && ctx.Err() != nil:
		status = ledger.StatusCancelled
	case runErr != nil:
		status = ledger.StatusFailed
	}
	if err := a.ledger.FinishRun(context.WithoutCancel(ctx), run.Id, status); err != nil {
		a.logger.Warn("Failed to finish ledger run.", "error", err)
	}

	if runErr != nil {
		return fmt.Errorf("execution failed: %w", runErr)
	}
	a.logger.Info("🏁 Execution finished.")
	return nil
}

func (a *App) openLedger() error {
	path := a.config.LedgerPath
	if path == "" {
		path = memoryLedger
	}
	l, err := ledger.Open(path)
	if err != nil {
		return err
	}
	a.ledger = l
	return nil
}

func (a *App) closeLedger() {
	if a.ledger == nil {
		return
	}
	if err := a.ledger.Close(); err != nil {
		a.logger.Warn("Failed to close ledger.", "error", err)
	}
}

// openStudy opens the study of the pipeline. Values the study block leaves
// empty come from the environment.
func (a *App) openStudy() (*openfmri.Study, error) {
	s := a.model.Study
	name, dataDir := s.Name, s.DataDir
	if name == "" {
		name = a.env.StudyName
	}
	if dataDir == "" {
		dataDir = a.env.DataDir
	}
	if dataDir == "" {
		return nil, errors.New("study data_dir is not set and DATA_DIR is empty")
	}

	// The generator needs the study's task mapping, so it is bound after the
	// study is loaded. It only runs when a subject is created.
	var gen *behav.Generator
	study, err := openfmri.NewStudy(dataDir, s.RawDir, s.BehaviouralDir, name,
		openfmri.WithRunner(a.runner),
		openfmri.WithEVGenerator(func(ctx context.Context, sd *openfmri.SubjectDir) error {
			return gen.Generate(ctx, sd)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open study: %w", err)
	}
	gen = behav.NewGenerator(study.TaskMapping(), behav.DefaultOptions())
	return study, nil
}

// resolveSubjects loads the selected subjects one by one, creating missing
// subject directories from raw data. A dry run never creates subjects.
func (a *App) resolveSubjects(ctx context.Context, study *openfmri.Study) ([]*openfmri.SubjectDir, error) {
	names := a.config.Subjects
	if len(names) == 0 {
		names = a.model.Study.Subjects
	}
	if len(names) == 0 {
		var err error
		if names, err = study.SubjectNames(); err != nil {
			return nil, fmt.Errorf("failed to list subjects: %w", err)
		}
	}

	if len(names) == 1 && names[0] == SubjectsWithRaw {
		names = study.AllSubjectsWithRaw()
		a.logger.Info("Selected subjects with raw data.", "subjects", names)
	}

	mapping := study.Mapping()
	var subjects []*openfmri.SubjectDir
	seen := make(map[string]struct{})
	for _, name := range names {
		if _, known := mapping[name]; !known && a.config.DryRun {
			a.logger.Warn("Dry run, not creating new subject.", "subject", name)
			continue
		}
		sd, err := study.SubjectByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to load subject %s: %w", name, err)
		}
		if _, dup := seen[sd.ID()]; dup {
			continue
		}
		seen[sd.ID()] = struct{}{}
		a.logger.Debug("Subject resolved.", "subject", name, "code", sd.ID())
		subjects = append(subjects, sd)
	}
	a.logger.Info("Subjects resolved.", "count", len(subjects))
	return subjects, nil
}

// checkArguments decodes every step's arguments once so mistakes surface
// before any tool runs.
func (a *App) checkArguments(ctx context.Context) error {
	for _, step := range a.model.Steps {
		handler, _ := a.registry.Handler(step.Type)
		if err := a.converter.DecodeArguments(ctx, handler.NewInput(), step.Arguments); err != nil {
			return fmt.Errorf("step '%s': %w", step.Address(), err)
		}
	}
	return nil
}

func (a *App) baseDeps(study *openfmri.Study, subjects []*openfmri.SubjectDir, runID string) (*registry.Deps, error) {
	headers, err := nifti.NewHeaderCache(1024)
	if err != nil {
		return nil, err
	}
	processor, err := preproc.New(a.runner, a.env.FSLDir, headers, a.approver)
	if err != nil {
		return nil, err
	}
	return &registry.Deps{
		Study:    study,
		Subjects: subjects,
		Runner:   a.runner,
		FSLDir:   a.env.FSLDir,
		Headers:  headers,
		Preproc:  processor,
		RunID:    runID,
		DryRun:   a.config.DryRun,
	}, nil
}

// runNode returns the function executing one node: it decodes the step's
// arguments into a fresh input, logs the node's outcome in earlier runs and
// calls the step handler.
func (a *App) runNode(base *registry.Deps, subjects map[string]*openfmri.SubjectDir) dag.NodeFunc {
	return func(ctx context.Context, n *dag.Node) error {
		handler, ok := a.registry.Handler(n.Step.Type)
		if !ok {
			return fmt.Errorf("unknown step type '%s'", n.Step.Type)
		}
		ctx, logger := ctxlog.With(ctx, "step", n.Step.Address(), "subject", n.Subject)

		input := handler.NewInput()
		if err := a.converter.DecodeArguments(ctx, input, n.Step.Arguments); err != nil {
			return fmt.Errorf("step '%s': %w", n.Step.Address(), err)
		}

		deps := *base
		if !n.IsGroup() {
			deps.Subject = subjects[n.Subject]
		}
		if prev, err := a.ledger.LastOutcome(ctx, n.ID); err != nil {
			logger.Warn("Failed to read previous outcome.", "error", err)
		} else if prev != nil {
			logger.Info("Previous outcome found.", "previous_status", prev.Status, "previous_finished_at", prev.FinishedAt)
		}
		if a.config.DryRun && !handler.DryRunSafe {
			logger.Info("Dry run, step not executed.")
			return nil
		}

		logger.Info("▶️ Running step.")
		if err := handler.Call(ctx, &deps, input); err != nil {
			return err
		}
		logger.Info("✅ Step finished.")
		return nil
	}
}

// recordNode returns the observer storing node outcomes in the ledger and
// the metrics.
func (a *App) recordNode(run *ledger.Run) dag.Observer {
	return func(ctx context.Context, n *dag.Node) {
		a.metrics.observe(n)

		rec := ledger.StepRun{
			RunId:      run.Id,
			Node:       n.ID,
			StepType:   n.Step.Type,
			StepName:   n.Step.Name,
			Status:     n.State().String(),
			StartedAt:  n.StartedAt(),
			FinishedAt: n.FinishedAt(),
		}
		if !n.IsGroup() {
			rec.Subject = n.Subject
		}
		if rec.StartedAt.IsZero() {
			rec.StartedAt = rec.FinishedAt
		}
		if err := n.Err(); err != nil {
			rec.Error = err.Error()
		}
		if err := a.ledger.RecordStep(ctx, rec); err != nil {
			ctxlog.FromContext(ctx).Warn("Failed to record step outcome.", "node", n.ID, "error", err)
		}
	}
}

// pipelineName is the label runs are stored under.
func pipelineName(path string) string {
	return filepath.Base(path)
}
