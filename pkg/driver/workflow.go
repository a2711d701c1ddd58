package driver

import (
	"context"
	"fmt"

	"github.com/cmakekit/cmakekit/pkg/presets"
	"github.com/cmakekit/cmakekit/pkg/proc"
)

// RunWorkflow executes a workflow preset: its steps run in declaration order against the
// presets of the same file, and the first failing step aborts the rest. Step preset
// selections are applied to the driver as they run, so the workflow leaves the driver
// pointing at its last step's presets
func (d *Driver) RunWorkflow(ctx context.Context, file *presets.File, name string, consumer proc.OutputConsumer) Result {
	workflow, err := file.Workflow(name)
	if err != nil {
		return failedResult(ResultType_InternalError, Code_GenericFailure, err)
	}

	if len(workflow.Steps) == 0 {
		return failedResult(ResultType_InternalError, Code_GenericFailure,
			fmt.Errorf("workflow preset %q has no steps", name))
	}

	for index, step := range workflow.Steps {
		d.logger.Info("workflow step",
			"workflow", name,
			"step", fmt.Sprintf("%v/%v", index+1, len(workflow.Steps)),
			"type", step.Type,
			"preset", step.Name,
		)

		result := d.runWorkflowStep(ctx, file, step, consumer)

		if !result.Success() {
			d.logger.Error("workflow step failed",
				"workflow", name,
				"type", step.Type,
				"preset", step.Name,
				"result", result.Type,
			)

			return result
		}
	}

	return normalResult(0)
}

func (d *Driver) runWorkflowStep(ctx context.Context, file *presets.File, step presets.WorkflowStep, consumer proc.OutputConsumer) Result {
	switch step.Type {
	case presets.StepType_Configure:
		preset, err := file.Configure(step.Name)
		if err != nil {
			return failedResult(ResultType_InternalError, Code_GenericFailure, err)
		}

		if err := d.SetConfigurePreset(preset); err != nil {
			return failedResult(ResultType_InternalError, Code_GenericFailure, err)
		}

		return d.Configure(ctx, Trigger_Workflow, nil, consumer)

	case presets.StepType_Build:
		preset, err := file.Build(step.Name)
		if err != nil {
			return failedResult(ResultType_InternalError, Code_GenericFailure, err)
		}

		if err := d.SetBuildPreset(preset); err != nil {
			return failedResult(ResultType_InternalError, Code_GenericFailure, err)
		}

		return d.Build(ctx, nil, consumer)

	case presets.StepType_Test:
		preset, err := file.Test(step.Name)
		if err != nil {
			return failedResult(ResultType_InternalError, Code_GenericFailure, err)
		}

		if err := d.SetTestPreset(preset); err != nil {
			return failedResult(ResultType_InternalError, Code_GenericFailure, err)
		}

		return d.Test(ctx, nil, consumer)

	case presets.StepType_Package:
		preset, err := file.Package(step.Name)
		if err != nil {
			return failedResult(ResultType_InternalError, Code_GenericFailure, err)
		}

		if err := d.SetPackagePreset(preset); err != nil {
			return failedResult(ResultType_InternalError, Code_GenericFailure, err)
		}

		return d.Pack(ctx, nil, consumer)

	default:
		return failedResult(ResultType_InternalError, Code_GenericFailure,
			fmt.Errorf("unknown workflow step type %q", step.Type))
	}
}
