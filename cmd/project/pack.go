package project

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cmakekit/cmakekit/pkg/driver"
)

var packageCmd = &cobra.Command{
	Use:   "package [-- extra cpack args]",
	Short: "Package the project through cpack",
	Run: func(cmd *cobra.Command, args []string) {
		runOperation(func(ctx context.Context, d *driver.Driver) driver.Result {
			return d.Pack(ctx, args, consoleOutput{})
		})
	},
}
