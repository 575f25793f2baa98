package behav

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/vk/fmriflow/internal/ctxlog"
	"github.com/vk/fmriflow/internal/openfmri"
)

// CatchCondition is the condition holding rows with a response in the catch
// column.
const CatchCondition = "catch"

// Models is the number of model directories onsets are written to.
const Models = 3

var runName = regexp.MustCompile(`^task\d{3}_run\d{3}$`)

// Options describes the columns of the behavioural logs.
type Options struct {
	OnsetColumn     string
	ConditionColumn string
	// ConditionSeparator and ConditionField pick part of the condition cell,
	// e.g. the directory of a stimulus path. An empty separator keeps the
	// whole cell.
	ConditionSeparator string
	ConditionField     int
	// CatchColumn, when present in a file, moves rows with a value into the
	// catch condition.
	CatchColumn string
	// ExcludePattern drops rows whose stimulus columns contain it and that
	// have no catch response.
	ExcludePattern  string
	StimulusColumns []string
	DefaultDuration float64
	// Durations overrides the duration of files whose name contains the key.
	Durations map[string]float64
	Weight    float64
}

// DefaultOptions matches the PsychoPy logs of the lab's paradigms.
func DefaultOptions() Options {
	return Options{
		OnsetColumn:        "start stim",
		ConditionColumn:    "stim1",
		ConditionSeparator: `\`,
		ConditionField:     1,
		CatchColumn:        "keyPressed",
		ExcludePattern:     "atch",
		StimulusColumns:    []string{"stim1", "stim2", "stim3", "stim4"},
		DefaultDuration:    12,
		Durations:          map[string]float64{"MVPA": 4},
		Weight:             1,
	}
}

// Event is one row of an onset file.
type Event struct {
	Onset    float64
	Duration float64
	Weight   float64
}

// Generator writes onset files for a subject.
type Generator struct {
	opts    Options
	mapping map[string]string
}

// NewGenerator creates a Generator for a study's task mapping (file prefix to
// task or run).
func NewGenerator(mapping map[string]string, opts Options) *Generator {
	return &Generator{opts: opts, mapping: mapping}
}

// Generate writes cond%03d.txt and condition_key.txt for every mapped run of
// the subject. It matches openfmri.EVGenerator.
func (g *Generator) Generate(ctx context.Context, s *openfmri.SubjectDir) error {
	logger := ctxlog.FromContext(ctx).With("subject", s.ID(), "op", "behavioural_evs")
	if s.BehaviouralPath() == "" {
		return fmt.Errorf("subject %s has no behavioural directory", s.ID())
	}

	prefixes := make([]string, 0, len(g.mapping))
	for p := range g.mapping {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	for _, prefix := range prefixes {
		target := g.mapping[prefix]
		files, err := filepath.Glob(filepath.Join(s.BehaviouralPath(), prefix+"*.csv"))
		if err != nil {
			return err
		}
		sort.Strings(files)
		if len(files) == 0 {
			logger.Warn("No behavioural files for prefix.", "prefix", prefix)
			continue
		}
		logger.Debug("Mapping behavioural files.", "prefix", prefix, "files", files)

		for i, file := range files {
			run := target
			if !runName.MatchString(target) {
				run = fmt.Sprintf("%s_run%03d", target, i+1)
			}
			conds, err := g.ReadConditions(file)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", file, err)
			}
			if err := writeOnsets(s, run, conds); err != nil {
				return err
			}
			logger.Info("Wrote onsets.", "run", run, "file", filepath.Base(file), "conditions", len(conds))
		}
	}
	return nil
}

// ReadConditions groups the rows of a log file by condition.
func (g *Generator) ReadConditions(path string) (map[string][]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return g.parse(f, g.duration(filepath.Base(path)))
}

func (g *Generator) duration(name string) float64 {
	keys := make([]string, 0, len(g.opts.Durations))
	for k := range g.opts.Durations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.Contains(name, k) {
			return g.opts.Durations[k]
		}
	}
	return g.opts.DefaultDuration
}

func (g *Generator) parse(r io.Reader, duration float64) (map[string][]Event, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	onsetCol, ok := cols[g.opts.OnsetColumn]
	if !ok {
		return nil, fmt.Errorf("missing onset column %q", g.opts.OnsetColumn)
	}
	condCol, ok := cols[g.opts.ConditionColumn]
	if !ok {
		return nil, fmt.Errorf("missing condition column %q", g.opts.ConditionColumn)
	}
	catchCol, hasCatch := cols[g.opts.CatchColumn]

	cell := func(rec []string, i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	conds := map[string][]Event{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		onsetCell := cell(rec, onsetCol)
		if onsetCell == "" {
			continue
		}
		onset, err := strconv.ParseFloat(onsetCell, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid onset %q", line, onsetCell)
		}
		ev := Event{Onset: float64(int(onset)), Duration: duration, Weight: g.opts.Weight}

		if hasCatch {
			if cell(rec, catchCol) != "" {
				conds[CatchCondition] = append(conds[CatchCondition], ev)
				continue
			}
			if g.excluded(rec, cols, cell) {
				continue
			}
		}

		name := g.condition(cell(rec, condCol))
		if name == "" {
			continue
		}
		conds[name] = append(conds[name], ev)
	}
	return conds, nil
}

func (g *Generator) excluded(rec []string, cols map[string]int, cell func([]string, int) string) bool {
	if g.opts.ExcludePattern == "" {
		return false
	}
	for _, c := range g.opts.StimulusColumns {
		if i, ok := cols[c]; ok && strings.Contains(cell(rec, i), g.opts.ExcludePattern) {
			return true
		}
	}
	return false
}

func (g *Generator) condition(v string) string {
	if g.opts.ConditionSeparator == "" {
		return v
	}
	parts := strings.Split(v, g.opts.ConditionSeparator)
	if g.opts.ConditionField >= len(parts) {
		return ""
	}
	return parts[g.opts.ConditionField]
}

// ConditionNames returns the conditions in numbering order.
func ConditionNames(conds map[string][]Event) []string {
	names := make([]string, 0, len(conds))
	for n := range conds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func writeOnsets(s *openfmri.SubjectDir, run string, conds map[string][]Event) error {
	names := ConditionNames(conds)
	for m := 1; m <= Models; m++ {
		dir := s.OnsetsDir(m, run)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		var key strings.Builder
		for i, name := range names {
			file := fmt.Sprintf("cond%03d.txt", i+1)
			var b strings.Builder
			for _, ev := range conds[name] {
				fmt.Fprintf(&b, "%s\t%s\t%s\n", fmtNum(ev.Onset), fmtNum(ev.Duration), fmtNum(ev.Weight))
			}
			if err := os.WriteFile(filepath.Join(dir, file), []byte(b.String()), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(&key, "%s\t%s\n", file, name)
		}
		if err := os.WriteFile(filepath.Join(dir, "condition_key.txt"), []byte(key.String()), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// ReadEvents parses a three column onset file.
func ReadEvents(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []Event
	for i, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("%s:%d: expected 3 columns, got %d", path, i+1, len(fields))
		}
		var vals [3]float64
		for j, f := range fields {
			if vals[j], err = strconv.ParseFloat(f, 64); err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, i+1, err)
			}
		}
		out = append(out, Event{Onset: vals[0], Duration: vals[1], Weight: vals[2]})
	}
	return out, nil
}

func fmtNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
