package project

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cmakekit/cmakekit/pkg/driver"
)

var testCmd = &cobra.Command{
	Use:   "test [-- extra ctest args]",
	Short: "Run the project's tests through ctest",
	Run: func(cmd *cobra.Command, args []string) {
		runOperation(func(ctx context.Context, d *driver.Driver) driver.Result {
			return d.Test(ctx, args, consoleOutput{})
		})
	},
}
