package archive

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/fmriflow/internal/openfmri"
	"github.com/vk/fmriflow/internal/registry"
	"github.com/vk/fmriflow/internal/testutil"
)

type fakeStore struct {
	mu        sync.Mutex
	ensured   bool
	uploads   map[string]string
	failOn    string
	bucketErr error
}

func (f *fakeStore) EnsureBucket(context.Context) error {
	f.ensured = true
	return f.bucketErr
}

func (f *fakeStore) Upload(_ context.Context, key, path, contentType string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if key == f.failOn {
		return 0, errors.New("access denied")
	}
	f.uploads[key] = contentType
	return 1, nil
}

func (f *fakeStore) keys() []string {
	var keys []string
	for k := range f.uploads {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func useFakeStore(t *testing.T) *fakeStore {
	t.Helper()
	store := &fakeStore{uploads: make(map[string]string)}
	orig := newStore
	newStore = func(*Input) (objectStore, error) { return store, nil }
	t.Cleanup(func() { newStore = orig })
	return store
}

func newDeps(t *testing.T) *registry.Deps {
	t.Helper()
	runner := testutil.NewFakeRunner()
	f := testutil.NewStudyFixture(t, "LP", "task001_run001")
	f.AddRawSubject("KeEl")
	runner.On("dcm2nii", testutil.Dcm2niiHook(4, 2))

	study, err := openfmri.NewStudy(f.DataDir, f.RawDir, "", f.Name, openfmri.WithRunner(runner))
	require.NoError(t, err)
	sd, err := study.SubjectByName(context.Background(), "KeEl")
	require.NoError(t, err)
	return &registry.Deps{Study: study, Subject: sd, Subjects: []*openfmri.SubjectDir{sd}}
}

func TestArchiveSubject(t *testing.T) {
	store := useFakeStore(t)
	deps := newDeps(t)
	testutil.Touch(t,
		filepath.Join(deps.Subject.ResultsDir(), "sl_r3", "ds-acc.nii.gz"),
		filepath.Join(deps.Subject.QADir(), "quality.yaml"),
	)

	in := newInput().(*Input)
	in.Endpoint, in.Bucket, in.Prefix = "s3.local:9000", "lab", "archive"
	require.NoError(t, OnRunArchive(context.Background(), deps, in))

	assert.True(t, store.ensured)
	assert.Equal(t, []string{
		"archive/LP/sub001/qa/quality.yaml",
		"archive/LP/sub001/results/sl_r3/ds-acc.nii.gz",
	}, store.keys())
	assert.Equal(t, "application/gzip", store.uploads["archive/LP/sub001/results/sl_r3/ds-acc.nii.gz"])
}

func TestArchiveGroup(t *testing.T) {
	store := useFakeStore(t)
	deps := newDeps(t)
	deps.Subject = nil
	testutil.Touch(t, filepath.Join(deps.Study.GroupDir("sl_r3"), "mean.nii.gz"))

	in := newInput().(*Input)
	in.Endpoint, in.Bucket, in.Paths = "s3.local:9000", "lab", []string{"."}
	require.NoError(t, OnRunArchive(context.Background(), deps, in))
	assert.Equal(t, []string{"LP/group/sl_r3/mean.nii.gz"}, store.keys())
}

func TestArchiveDryRunAndMissingPaths(t *testing.T) {
	store := useFakeStore(t)
	deps := newDeps(t)

	in := newInput().(*Input)
	in.Endpoint, in.Bucket = "s3.local:9000", "lab"
	require.NoError(t, OnRunArchive(context.Background(), deps, in), "missing paths are skipped")
	assert.False(t, store.ensured)

	testutil.Touch(t, filepath.Join(deps.Subject.QADir(), "quality.yaml"))
	deps.DryRun = true
	require.NoError(t, OnRunArchive(context.Background(), deps, in))
	assert.False(t, store.ensured)
	assert.Empty(t, store.uploads)
}

func TestArchiveErrors(t *testing.T) {
	deps := newDeps(t)
	testutil.Touch(t, filepath.Join(deps.Subject.QADir(), "quality.yaml"))
	in := newInput().(*Input)
	in.Endpoint, in.Bucket = "s3.local:9000", "lab"

	store := useFakeStore(t)
	store.bucketErr = errors.New("bucket check failed")
	assert.ErrorContains(t, OnRunArchive(context.Background(), deps, in), "bucket check failed")

	store.bucketErr = nil
	store.failOn = "LP/sub001/qa/quality.yaml"
	err := OnRunArchive(context.Background(), deps, in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upload")
	assert.Contains(t, err.Error(), "access denied")
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/gzip", contentType("bold.nii.gz"))
	assert.Equal(t, "application/octet-stream", contentType("design.mat.unknownext"))
}
