package project

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cmakekit/cmakekit/pkg/driver"
)

var buildTargets []string

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the project",
	Long: `Runs cmake --build against the configured binary directory. Without --target the
build preset's targets or the settings-level default target are built.`,
	Run: func(cmd *cobra.Command, args []string) {
		runOperation(func(ctx context.Context, d *driver.Driver) driver.Result {
			return d.Build(ctx, buildTargets, consoleOutput{})
		})
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Build the clean target",
	Run: func(cmd *cobra.Command, args []string) {
		runOperation(func(ctx context.Context, d *driver.Driver) driver.Result {
			return d.Clean(ctx, consoleOutput{})
		})
	},
}

func init() {
	buildCmd.Flags().StringSliceVarP(&buildTargets, "target", "t", nil, "target to build, repeatable")
}
