package wbdclip

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	wfv1 "github.com/argoproj/argo-workflows/v3/pkg/apis/workflow/v1alpha1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"
)

func testArray(dir string) ArraySpec {
	return ArraySpec{
		Name:        "wbd",
		Units:       10,
		Ceiling:     3,
		TimeBudget:  30 * time.Minute,
		CPUsPerUnit: 4,
		MemPerUnit:  "8G",
		Command:     []string{"/opt/bin/wbdclip", "unit", "--run", filepath.Join(dir, "run dir", "run.yaml"), "--index", IndexPlaceholder},
		LogDir:      filepath.Join(dir, "logs"),
	}
}

func TestArraySpecValidate(t *testing.T) {
	spec := testArray(t.TempDir())
	assert.NoError(t, spec.Validate())
	for _, mod := range []func(*ArraySpec){
		func(s *ArraySpec) { s.Units = 0 },
		func(s *ArraySpec) { s.Ceiling = 0 },
		func(s *ArraySpec) { s.TimeBudget = 0 },
		func(s *ArraySpec) { s.Command = nil },
	} {
		s := spec
		mod(&s)
		assert.Error(t, s.Validate())
	}
	assert.Equal(t, "7", spec.UnitCommand("7")[5])
	assert.Equal(t, IndexPlaceholder, spec.Command[5], "command template is not modified")
}

func TestSlurmDuration(t *testing.T) {
	assert.Equal(t, "00:30:00", slurmDuration(30*time.Minute))
	assert.Equal(t, "00:02:00", slurmDuration(90*time.Second))
	assert.Equal(t, "1-01:00:00", slurmDuration(25*time.Hour))
	assert.Equal(t, "00:30:00", slurmDuration(UnitBudget(20*time.Minute, 10*time.Minute)))
}

func TestSlurmScript(t *testing.T) {
	dir := t.TempDir()
	d := SlurmDispatcher{ScriptDir: dir, Partition: "compute"}
	script := d.Script(testArray(dir))
	assert.True(t, strings.HasPrefix(script, "#!/bin/bash\n"))
	assert.Contains(t, script, "#SBATCH --job-name=wbd\n")
	assert.Contains(t, script, "#SBATCH --array=0-9%3\n")
	assert.Contains(t, script, "#SBATCH --time=00:30:00\n")
	assert.Contains(t, script, "#SBATCH --cpus-per-task=4\n")
	assert.Contains(t, script, "#SBATCH --mem=8G\n")
	assert.Contains(t, script, "#SBATCH --partition=compute\n")
	assert.NotContains(t, script, "--account")
	assert.Contains(t, script, "%x_%A_%a.out")
	assert.Contains(t, script, `--index "${SLURM_ARRAY_TASK_ID}"`)
	assert.Contains(t, script, `'`+filepath.Join(dir, "run dir", "run.yaml")+`'`)
	assert.NotContains(t, script, IndexPlaceholder)
}

func TestSlurmDispatch(t *testing.T) {
	dir := t.TempDir()
	var gotName string
	var gotArgs []string
	d := SlurmDispatcher{
		ScriptDir: filepath.Join(dir, "scripts"),
		Run: func(_ context.Context, name string, args ...string) ([]byte, error) {
			gotName, gotArgs = name, args
			return []byte("12345;cluster\n"), nil
		},
	}
	spec := testArray(dir)
	h, err := d.Dispatch(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "slurm", h.Backend)
	assert.Equal(t, "12345", h.ID)
	assert.Equal(t, 10, h.Units)
	assert.Equal(t, "sbatch", gotName)
	require.Len(t, gotArgs, 2)
	assert.Equal(t, "--parsable", gotArgs[0])

	script, err := os.ReadFile(gotArgs[1])
	require.NoError(t, err)
	assert.Equal(t, d.Script(spec), string(script))
	assert.DirExists(t, spec.LogDir)

	d.Run = func(context.Context, string, ...string) ([]byte, error) {
		return nil, &ExitError{Command: "sbatch", Stderr: "sbatch: error: invalid partition", Err: errors.New("exit status 1")}
	}
	_, err = d.Dispatch(context.Background(), spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid partition")

	spec.Units = 0
	_, err = d.Dispatch(context.Background(), spec)
	assert.Error(t, err)
}

func TestLocalDispatch(t *testing.T) {
	var running, peak int64
	var mu sync.Mutex
	var seen []int
	d := LocalDispatcher{
		Run: func(ctx context.Context, index int, command []string) error {
			n := atomic.AddInt64(&running, 1)
			defer atomic.AddInt64(&running, -1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			mu.Lock()
			seen = append(seen, index)
			mu.Unlock()
			if _, ok := ctx.Deadline(); !ok {
				return errors.New("unit has no time budget")
			}
			time.Sleep(2 * time.Millisecond)
			if command[5] == "3" || command[5] == "7" {
				return errors.New("exit status 1")
			}
			return nil
		},
	}
	spec := testArray(t.TempDir())
	h, err := d.Dispatch(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "local", h.Backend)
	assert.Equal(t, 2, h.Failed)
	assert.LessOrEqual(t, peak, int64(3))

	sort.Ints(seen)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, seen)
}

func TestLocalDispatchTimeBudget(t *testing.T) {
	d := LocalDispatcher{
		Run: func(ctx context.Context, index int, command []string) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	spec := testArray(t.TempDir())
	spec.Units, spec.TimeBudget = 2, 10*time.Millisecond
	h, err := d.Dispatch(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Failed)
}

func TestArgoWorkflow(t *testing.T) {
	dir := t.TempDir()
	d := ArgoDispatcher{ManifestDir: filepath.Join(dir, "scripts"), Image: "eu.gcr.io/project/wbdclip:latest", Retries: 2}
	spec := testArray(dir)
	wf, err := d.Workflow(spec)
	require.NoError(t, err)

	assert.Equal(t, "Workflow", wf.Kind)
	assert.Equal(t, "wbd-", wf.GenerateName)
	assert.Equal(t, "units", wf.Spec.Entrypoint)
	require.NotNil(t, wf.Spec.Parallelism)
	assert.EqualValues(t, 3, *wf.Spec.Parallelism)
	require.Len(t, wf.Spec.Templates, 2)

	step := wf.Spec.Templates[0].Steps[0].Steps[0]
	assert.Equal(t, "unit", step.Template)
	require.NotNil(t, step.WithSequence)
	assert.Equal(t, 10, step.WithSequence.Count.IntValue())
	assert.Equal(t, "{{item}}", step.Arguments.Parameters[0].Value.String())

	unit := wf.Spec.Templates[1]
	assert.Equal(t, 1800, unit.ActiveDeadlineSeconds.IntValue())
	assert.Equal(t, 2, unit.RetryStrategy.Limit.IntValue())
	require.NotNil(t, unit.Container)
	assert.Equal(t, d.Image, unit.Container.Image)
	assert.Equal(t, "{{inputs.parameters.index}}", unit.Container.Command[5])
	assert.Equal(t, "4", unit.Container.Resources.Requests.Cpu().String())
	assert.Equal(t, "8G", unit.Container.Resources.Requests.Memory().String())

	out := &bytes.Buffer{}
	d.Out = out
	h, err := d.Dispatch(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "argo", h.Backend)
	manifest, err := os.ReadFile(h.ID)
	require.NoError(t, err)
	assert.Equal(t, out.String(), string(manifest))

	var back wfv1.Workflow
	require.NoError(t, yaml.Unmarshal(manifest, &back))
	assert.Equal(t, "units", back.Spec.Entrypoint)
	assert.Len(t, back.Spec.Templates, 2)

	bad := spec
	bad.MemPerUnit = "8GB"
	_, err = d.Workflow(bad)
	assert.Error(t, err)
	_, err = d.Dispatch(context.Background(), bad)
	assert.Error(t, err)

	d.Image = ""
	_, err = d.Dispatch(context.Background(), spec)
	assert.Error(t, err)
}
