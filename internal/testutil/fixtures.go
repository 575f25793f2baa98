package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// StudyFixture is an on-disk study with data, raw and behavioural roots.
type StudyFixture struct {
	t              testing.TB
	Root           string
	DataDir        string
	RawDir         string
	BehaviouralDir string
	Name           string
	Runs           []string
}

// NewStudyFixture creates the roots and writes task_order.txt.
func NewStudyFixture(t testing.TB, name string, runs ...string) *StudyFixture {
	t.Helper()
	root := t.TempDir()
	f := &StudyFixture{
		t:              t,
		Root:           root,
		DataDir:        filepath.Join(root, "data"),
		RawDir:         filepath.Join(root, "raw"),
		BehaviouralDir: filepath.Join(root, "behavioural"),
		Name:           name,
		Runs:           runs,
	}
	f.WriteFile(filepath.Join(f.StudyDir(), "task_order.txt"), strings.Join(runs, "\n")+"\n")
	require.NoError(t, os.MkdirAll(filepath.Join(f.RawDir, name), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(f.BehaviouralDir, name), 0o755))
	return f
}

// StudyDir is <data>/<study>.
func (f *StudyFixture) StudyDir() string { return filepath.Join(f.DataDir, f.Name) }

// AddRawSubject creates a raw subject directory with an MPRAGE series and one
// ep2d series per run.
func (f *StudyFixture) AddRawSubject(dirName string) string {
	f.t.Helper()
	dir := filepath.Join(f.RawDir, f.Name, dirName)
	series := []string{"t1_MPRAGE_iso_0002"}
	for i := range f.Runs {
		series = append(series, "ep2d_bold_"+string(rune('a'+i)))
	}
	for _, s := range series {
		f.WriteFile(filepath.Join(dir, s, "IM0001.dcm"), "")
	}
	return dir
}

// AddBehaviouralSubject writes CSV files for a subject.
func (f *StudyFixture) AddBehaviouralSubject(dirName string, files map[string]string) string {
	f.t.Helper()
	dir := filepath.Join(f.BehaviouralDir, f.Name, dirName)
	require.NoError(f.t, os.MkdirAll(dir, 0o755))
	for name, content := range files {
		f.WriteFile(filepath.Join(dir, name), content)
	}
	return dir
}

// WriteTaskMapping writes task_mapping.txt from prefix, task pairs.
func (f *StudyFixture) WriteTaskMapping(pairs ...[2]string) {
	f.t.Helper()
	var b strings.Builder
	for _, p := range pairs {
		b.WriteString(p[0] + "\t" + p[1] + "\n")
	}
	f.WriteFile(filepath.Join(f.BehaviouralDir, f.Name, "task_mapping.txt"), b.String())
}

// WriteTaskKey writes task_key.txt from task, name pairs.
func (f *StudyFixture) WriteTaskKey(pairs ...[2]string) {
	f.t.Helper()
	var b strings.Builder
	for _, p := range pairs {
		b.WriteString(p[0] + "\t" + p[1] + "\n")
	}
	f.WriteFile(filepath.Join(f.StudyDir(), "task_key.txt"), b.String())
}

// WriteMapping writes mapping_subject.json.
func (f *StudyFixture) WriteMapping(m map[string]int) {
	f.t.Helper()
	data, err := json.Marshal(m)
	require.NoError(f.t, err)
	f.WriteFile(filepath.Join(f.StudyDir(), "mapping_subject.json"), string(data))
}

// WriteFile writes content to path, creating parent directories.
func (f *StudyFixture) WriteFile(path, content string) {
	f.t.Helper()
	require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(f.t, os.WriteFile(path, []byte(content), 0o644))
}

// Touch creates empty files.
func Touch(t testing.TB, paths ...string) {
	t.Helper()
	for _, p := range paths {
		require.NoError(t, touch(p))
	}
}
