package project

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cmakekit/cmakekit/pkg/driver"
	"github.com/cmakekit/cmakekit/pkg/presets"
	"github.com/cmakekit/cmakekit/pkg/settings"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow name",
	Short: "Run a workflow preset",
	Long: `Runs the steps of a workflow preset in order: each step selects its preset and
executes the matching operation. The first failing step aborts the workflow.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runOperation(func(ctx context.Context, d *driver.Driver) driver.Result {
			file, err := loadWorkflowPresets()
			if err != nil {
				return driver.Result{
					Code: driver.Code_GenericFailure,
					Type: driver.ResultType_InternalError,
					Err:  err,
				}
			}

			return d.RunWorkflow(ctx, file, args[0], consoleOutput{})
		})
	},
}

func loadWorkflowPresets() (*presets.File, error) {
	projectSettings, err := settings.FromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}

	if !projectSettings.PresetsEnabled() {
		return nil, errors.New("workflows need a presetsFile setting")
	}

	workspace, err := workspaceFolder()
	if err != nil {
		return nil, err
	}

	return presets.Load(inWorkspace(workspace, projectSettings.PresetsFile))
}
