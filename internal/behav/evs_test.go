package behav

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/fmriflow/internal/openfmri"
	"github.com/vk/fmriflow/internal/testutil"
)

const psychopyLog = `trial,stim1,stim2,stim3,stim4,start stim,keyPressed
1,img\faces\a.png,x,y,z,10.7,
2,img\houses\b.png,x,y,z,22,
3,img\catch\c.png,x,y,z,30,space
4,img\catch\d.png,x,y,z,40,
5,img\faces\e.png,x,y,z,50,
`

func TestReadConditions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "MVPA_1.csv")
	require.NoError(t, os.WriteFile(path, []byte(psychopyLog), 0o644))

	g := NewGenerator(nil, DefaultOptions())
	conds, err := g.ReadConditions(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"catch", "faces", "houses"}, ConditionNames(conds))
	assert.Equal(t, []Event{{Onset: 10, Duration: 4, Weight: 1}, {Onset: 50, Duration: 4, Weight: 1}}, conds["faces"])
	assert.Equal(t, []Event{{Onset: 30, Duration: 4, Weight: 1}}, conds["catch"])
}

func TestReadConditionsWithoutCatchColumn(t *testing.T) {
	g := NewGenerator(nil, DefaultOptions())
	conds, err := g.parse(strings.NewReader("stim1,start stim\nimg\\catch\\a.png,5\nimg\\faces\\b.png,7\n"), 12)
	require.NoError(t, err)
	assert.Equal(t, []string{"catch", "faces"}, ConditionNames(conds), "exclusion only applies with a catch column")
}

func TestReadConditionsErrors(t *testing.T) {
	g := NewGenerator(nil, DefaultOptions())
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "failed to read header"},
		{"no onset column", "stim1\na\n", "missing onset column"},
		{"no condition column", "start stim\n1\n", "missing condition column"},
		{"bad onset", "stim1,start stim\na\\b,soon\n", "line 2: invalid onset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.parse(strings.NewReader(tt.input), 12)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestGenerate(t *testing.T) {
	runs := []string{"task001_run001", "task001_run002", "task002_run001"}
	f := testutil.NewStudyFixture(t, "LP", runs...)
	f.AddRawSubject("KeEl")
	f.AddBehaviouralSubject("KeEl", map[string]string{
		"MVPA_1.csv": psychopyLog,
		"MVPA_2.csv": psychopyLog,
		"Loc_1.csv":  psychopyLog,
	})
	runner := testutil.NewFakeRunner().On("dcm2nii", testutil.Dcm2niiHook(10, 2))
	study, err := openfmri.NewStudy(f.DataDir, f.RawDir, f.BehaviouralDir, f.Name, openfmri.WithRunner(runner))
	require.NoError(t, err)
	sd, err := study.SubjectByName(context.Background(), "KeEl")
	require.NoError(t, err)

	g := NewGenerator(map[string]string{"MVPA": "task001", "Loc": "task002_run001"}, DefaultOptions())
	require.NoError(t, g.Generate(context.Background(), sd))

	for m := 1; m <= Models; m++ {
		for _, run := range runs {
			key, err := os.ReadFile(filepath.Join(sd.OnsetsDir(m, run), "condition_key.txt"))
			require.NoError(t, err)
			assert.Equal(t, "cond001.txt\tcatch\ncond002.txt\tfaces\ncond003.txt\thouses\n", string(key))
		}
	}

	mvpa, err := ReadEvents(filepath.Join(sd.OnsetsDir(1, "task001_run002"), "cond002.txt"))
	require.NoError(t, err)
	assert.Equal(t, []Event{{Onset: 10, Duration: 4, Weight: 1}, {Onset: 50, Duration: 4, Weight: 1}}, mvpa)

	loc, err := ReadEvents(filepath.Join(sd.OnsetsDir(2, "task002_run001"), "cond003.txt"))
	require.NoError(t, err)
	assert.Equal(t, []Event{{Onset: 22, Duration: 12, Weight: 1}}, loc)
}

func TestReadEventsRejectsMalformedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cond001.txt")
	require.NoError(t, os.WriteFile(path, []byte("1\t2\n"), 0o644))
	_, err := ReadEvents(path)
	assert.ErrorContains(t, err, "expected 3 columns")
}
