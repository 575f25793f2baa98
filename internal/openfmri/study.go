package openfmri

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/vk/fmriflow/internal/ctxlog"
	"github.com/vk/fmriflow/internal/fsl"
)

const (
	mappingFile     = "mapping_subject.json"
	taskOrderFile   = "task_order.txt"
	taskKeyFile     = "task_key.txt"
	taskMappingFile = "task_mapping.txt"
)

var subjectDirPattern = regexp.MustCompile(`^sub(\d+)$`)

// EVGenerator writes behavioural onset files for a freshly created subject.
type EVGenerator func(ctx context.Context, s *SubjectDir) error

// Option configures a Study.
type Option func(*Study)

// WithRunner sets the runner used for DICOM conversion.
func WithRunner(r fsl.Runner) Option {
	return func(s *Study) { s.runner = r }
}

// WithEVGenerator sets the hook run after a subject directory is created.
func WithEVGenerator(g EVGenerator) Option {
	return func(s *Study) { s.evGenerator = g }
}

// Study is one OpenfMRI study on disk.
type Study struct {
	name           string
	dataDir        string
	studyDir       string
	rawStudyDir    string
	behaviouralDir string

	taskOrder   []string
	taskMapping map[string]string
	taskKey     map[string]string

	runner      fsl.Runner
	evGenerator EVGenerator

	mu      sync.Mutex
	mapping map[string]int
}

// NewStudy loads the study metadata. The subject mapping is created empty when
// absent and task_order.txt is required. An empty rawDir or behaviouralDir
// disables the corresponding features.
func NewStudy(dataDir, rawDir, behaviouralDir, name string, opts ...Option) (*Study, error) {
	if name == "" {
		return nil, errors.New("study name is required")
	}
	s := &Study{
		name:        name,
		dataDir:     dataDir,
		studyDir:    filepath.Join(dataDir, name),
		taskMapping: map[string]string{},
		taskKey:     map[string]string{},
	}
	if rawDir != "" {
		s.rawStudyDir = filepath.Join(rawDir, name)
	}
	if behaviouralDir != "" {
		s.behaviouralDir = filepath.Join(behaviouralDir, name)
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.loadMapping(); err != nil {
		return nil, err
	}

	order, err := readLines(filepath.Join(s.studyDir, taskOrderFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load task order: %w", err)
	}
	s.taskOrder = order

	if s.behaviouralDir != "" {
		m, err := readPairs(filepath.Join(s.behaviouralDir, taskMappingFile))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load task mapping: %w", err)
		}
		if m != nil {
			s.taskMapping = m
		}
	}

	key, err := readPairs(filepath.Join(s.studyDir, taskKeyFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load task key: %w", err)
	}
	if key != nil {
		s.taskKey = key
	}
	return s, nil
}

func (s *Study) Name() string           { return s.name }
func (s *Study) DataDir() string        { return s.dataDir }
func (s *Study) StudyDir() string       { return s.studyDir }
func (s *Study) RawStudyDir() string    { return s.rawStudyDir }
func (s *Study) BehaviouralDir() string { return s.behaviouralDir }
func (s *Study) TaskOrder() []string    { return append([]string(nil), s.taskOrder...) }

// TaskMapping maps behavioural file prefixes to tasks.
func (s *Study) TaskMapping() map[string]string {
	out := make(map[string]string, len(s.taskMapping))
	for k, v := range s.taskMapping {
		out[k] = v
	}
	return out
}

// TaskName returns the human readable name of a task, or the task itself when
// task_key.txt does not list it.
func (s *Study) TaskName(task string) string {
	if n, ok := s.taskKey[task]; ok {
		return n
	}
	return task
}

// Mapping returns a copy of the subject name to code mapping.
func (s *Study) Mapping() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.mapping))
	for k, v := range s.mapping {
		out[k] = v
	}
	return out
}

// GroupDir is where group level results of an analysis are written.
func (s *Study) GroupDir(analysis string) string {
	return filepath.Join(s.studyDir, "group", analysis)
}

func (s *Study) loadMapping() error {
	path := filepath.Join(s.studyDir, mappingFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s.mapping = map[string]int{}
		if err := os.MkdirAll(s.studyDir, 0o755); err != nil {
			return err
		}
		return s.writeMapping()
	}
	if err != nil {
		return err
	}
	m := map[string]int{}
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("invalid subject mapping %s: %w", path, err)
	}
	s.mapping = m
	return nil
}

// writeMapping persists the mapping. Callers hold mu or own s exclusively.
func (s *Study) writeMapping() error {
	data, err := json.MarshalIndent(s.mapping, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.studyDir, mappingFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// NextSubjectCode returns one more than the largest subNNN directory or mapped
// code.
func (s *Study) NextSubjectCode() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextCodeLocked()
}

func (s *Study) nextCodeLocked() (int, error) {
	highest := 0
	entries, err := os.ReadDir(s.studyDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, err
	}
	for _, e := range entries {
		m := subjectDirPattern.FindStringSubmatch(e.Name())
		if m == nil || !e.IsDir() {
			continue
		}
		if n, _ := strconv.Atoi(m[1]); n > highest {
			highest = n
		}
	}
	for _, code := range s.mapping {
		if code > highest {
			highest = code
		}
	}
	return highest + 1, nil
}

// SubjectID renders a subject code as its directory name.
func SubjectID(code int) string {
	return fmt.Sprintf("sub%03d", code)
}

func (s *Study) subjectPath(code int) string {
	return filepath.Join(s.studyDir, SubjectID(code))
}

func (s *Study) nameForCode(code int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, c := range s.mapping {
		if c == code {
			return name
		}
	}
	return ""
}

// SubjectByCode loads an existing subject. When the subject is mapped and its
// raw data is still present, an incomplete directory is rebuilt from it.
func (s *Study) SubjectByCode(ctx context.Context, code int) (*SubjectDir, error) {
	var raw, behav string
	if name := s.nameForCode(code); name != "" {
		raw, _ = s.findRawDir(name)
		behav, _ = s.findBehaviouralDir(name)
	}
	return s.openSubject(ctx, code, raw, behav)
}

// SubjectByName loads a subject by name, allocating a code and building its
// directory when the name is not mapped yet.
func (s *Study) SubjectByName(ctx context.Context, name string) (*SubjectDir, error) {
	s.mu.Lock()
	code, mapped := s.mapping[name]
	s.mu.Unlock()
	if mapped {
		return s.SubjectByCode(ctx, code)
	}

	raw, err := s.findRawDir(name)
	if err != nil {
		return nil, err
	}
	behav, err := s.findBehaviouralDir(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	code, err = s.nextCodeLocked()
	if err == nil {
		s.mapping[name] = code
		err = s.writeMapping()
	}
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to register subject %s: %w", name, err)
	}
	ctxlog.FromContext(ctx).Info("Registered new subject.", "subject", name, "code", SubjectID(code))

	return s.openSubject(ctx, code, raw, behav)
}

func (s *Study) findRawDir(name string) (string, error) {
	if s.rawStudyDir == "" {
		return "", fmt.Errorf("no subject by the name of %s: raw directory not configured", name)
	}
	matches, err := filepath.Glob(filepath.Join(s.rawStudyDir, "*"+name+"*"))
	if err != nil {
		return "", err
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return "", fmt.Errorf("no subject by the name of %s", name)
	}
	return matches[0], nil
}

func (s *Study) findBehaviouralDir(name string) (string, error) {
	if s.behaviouralDir == "" {
		return "", nil
	}
	matches, err := filepath.Glob(filepath.Join(s.behaviouralDir, "*"+name+"*"))
	if err != nil {
		return "", err
	}
	var dirs []string
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			dirs = append(dirs, m)
		}
	}
	sort.Strings(dirs)
	if len(dirs) == 0 {
		return "", fmt.Errorf("no behavioural data for subject %s", name)
	}
	return dirs[0], nil
}

// SubjectNames returns the sorted union of mapped subject names and subject
// directories found in the raw study directory.
func (s *Study) SubjectNames() ([]string, error) {
	seen := map[string]struct{}{}
	for name := range s.Mapping() {
		seen[name] = struct{}{}
	}
	if s.rawStudyDir != "" {
		entries, err := os.ReadDir(s.rawStudyDir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
				seen[e.Name()] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// AllSubjectsWithRaw returns the names of mapped subjects whose raw directory
// still exists.
func (s *Study) AllSubjectsWithRaw() []string {
	var names []string
	for name := range s.Mapping() {
		if _, err := s.findRawDir(name); err == nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// readPairs parses "key<TAB>value" lines.
func readPairs(path string) (map[string]string, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(lines))
	for i, l := range lines {
		k, v, ok := strings.Cut(l, "\t")
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected two tab separated columns", path, i+1)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}
