package registry

import (
	"sort"

	"github.com/vk/fmriflow/internal/fsl"
	"github.com/vk/fmriflow/internal/nifti"
	"github.com/vk/fmriflow/internal/openfmri"
	"github.com/vk/fmriflow/internal/preproc"
)

// Module is the interface that all step modules must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Deps carries the shared services a step handler works with.
type Deps struct {
	Study *openfmri.Study
	// Subject is nil for group-scoped steps.
	Subject *openfmri.SubjectDir
	// Subjects holds every subject of the run.
	Subjects []*openfmri.SubjectDir
	Runner   fsl.Runner
	FSLDir   string
	Headers  *nifti.HeaderCache
	Preproc  *preproc.Processor
	RunID    string
	DryRun   bool
}

// Registry holds all the registered step handlers for a single application
// instance.
type Registry struct {
	HandlerRegistry map[string]*RegisteredRunner
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		HandlerRegistry: make(map[string]*RegisteredRunner),
	}
}

// Handler returns the handler registered for a step type.
func (r *Registry) Handler(stepType string) (*RegisteredRunner, bool) {
	h, ok := r.HandlerRegistry[stepType]
	return h, ok
}

// Types returns the registered step types in sorted order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.HandlerRegistry))
	for t := range r.HandlerRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
