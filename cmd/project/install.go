package project

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cmakekit/cmakekit/pkg/driver"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the configured project",
	Long: `Runs cmake --install with the configured install prefix. On cmake versions
predating --install the install target is built instead.`,
	Run: func(cmd *cobra.Command, args []string) {
		runOperation(func(ctx context.Context, d *driver.Driver) driver.Result {
			return d.Install(ctx, consoleOutput{})
		})
	},
}
