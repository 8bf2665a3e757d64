package wbdclip

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	wfv1 "github.com/argoproj/argo-workflows/v3/pkg/apis/workflow/v1alpha1"
	k8sv1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	k8smeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"sigs.k8s.io/yaml"
)

// ArgoDispatcher renders the array as an Argo Workflow manifest, with one
// step per unit generated from a sequence. The manifest is written to
// ManifestDir and, if Out is set, printed to it; submission is left to
// `argo submit`.
type ArgoDispatcher struct {
	ManifestDir string
	Image       string
	Out         io.Writer
	// Retries is the per-unit retry limit
	Retries int
}

func int64Ptr(val int64) *int64 {
	return &val
}

func intOrStringPtr(val int) *intstr.IntOrString {
	a := intstr.FromInt(val)
	return &a
}

// Workflow builds the workflow of spec. It fails on a memory request that is
// not a kubernetes quantity.
func (d ArgoDispatcher) Workflow(spec ArraySpec) (*wfv1.Workflow, error) {
	command := spec.UnitCommand("{{inputs.parameters.index}}")
	requests := k8sv1.ResourceList{}
	if spec.CPUsPerUnit > 0 {
		requests[k8sv1.ResourceCPU] = *resource.NewQuantity(int64(spec.CPUsPerUnit), resource.DecimalSI)
	}
	if spec.MemPerUnit != "" {
		mem, err := resource.ParseQuantity(spec.MemPerUnit)
		if err != nil {
			return nil, fmt.Errorf("invalid memory request %q: %w", spec.MemPerUnit, err)
		}
		requests[k8sv1.ResourceMemory] = mem
	}
	return &wfv1.Workflow{
		TypeMeta: k8smeta.TypeMeta{
			APIVersion: "argoproj.io/v1alpha1",
			Kind:       "Workflow",
		},
		ObjectMeta: k8smeta.ObjectMeta{
			GenerateName: spec.Name + "-",
		},
		Spec: wfv1.WorkflowSpec{
			Entrypoint:  "units",
			Parallelism: int64Ptr(int64(spec.Ceiling)),
			Templates: []wfv1.Template{
				{
					Name: "units",
					Steps: []wfv1.ParallelSteps{
						{
							Steps: []wfv1.WorkflowStep{
								{
									Name:     "unit",
									Template: "unit",
									Arguments: wfv1.Arguments{
										Parameters: []wfv1.Parameter{
											{Name: "index", Value: wfv1.AnyStringPtr("{{item}}")},
										},
									},
									WithSequence: &wfv1.Sequence{
										Count: intOrStringPtr(spec.Units),
									},
								},
							},
						},
					},
				},
				{
					Name: "unit",
					Inputs: wfv1.Inputs{
						Parameters: []wfv1.Parameter{{Name: "index"}},
					},
					ActiveDeadlineSeconds: intOrStringPtr(int(spec.TimeBudget.Seconds())),
					RetryStrategy: &wfv1.RetryStrategy{
						Limit: intOrStringPtr(d.Retries),
					},
					Container: &k8sv1.Container{
						Name:    "unit",
						Image:   d.Image,
						Command: command,
						Resources: k8sv1.ResourceRequirements{
							Requests: requests,
						},
					},
				},
			},
		},
	}, nil
}

func (d ArgoDispatcher) Dispatch(_ context.Context, spec ArraySpec) (Handle, error) {
	if err := spec.Validate(); err != nil {
		return Handle{}, err
	}
	if d.Image == "" {
		return Handle{}, fmt.Errorf("argo dispatch requires a container image")
	}
	wf, err := d.Workflow(spec)
	if err != nil {
		return Handle{}, err
	}
	yb, err := yaml.Marshal(wf)
	if err != nil {
		return Handle{}, fmt.Errorf("marshal workflow: %w", err)
	}
	if err := os.MkdirAll(d.ManifestDir, 0755); err != nil {
		return Handle{}, fmt.Errorf("create manifest dir: %w", err)
	}
	manifest := filepath.Join(d.ManifestDir, spec.Name+".argo.yaml")
	if err := writeFileAtomic(manifest, yb); err != nil {
		return Handle{}, fmt.Errorf("write %s: %w", manifest, err)
	}
	if d.Out != nil {
		if _, err := d.Out.Write(yb); err != nil {
			return Handle{}, err
		}
	}
	return Handle{Backend: "argo", ID: manifest, Units: spec.Units}, nil
}
