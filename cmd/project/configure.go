package project

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cmakekit/cmakekit/pkg/driver"
)

var cleanConfigure bool
var reuseCache bool

var configureCmd = &cobra.Command{
	Use:   "configure [-- extra cmake args]",
	Short: "Configure the project",
	Long: `Resolves the active kit, variant or configure preset into a full cmake command
line and runs the configure step. Arguments after -- are appended verbatim.`,
	Run: func(cmd *cobra.Command, args []string) {
		runOperation(func(ctx context.Context, d *driver.Driver) driver.Result {
			if cleanConfigure {
				return d.CleanConfigure(ctx, args, consoleOutput{})
			}

			trigger := driver.Trigger_Command
			if reuseCache {
				trigger = driver.Trigger_CacheReuse
			}

			return d.Configure(ctx, trigger, args, consoleOutput{})
		})
	},
}

func init() {
	configureCmd.Flags().BoolVar(&cleanConfigure, "clean", false, "delete the cache and CMakeFiles before configuring")
	configureCmd.Flags().BoolVar(&reuseCache, "reuse", false, "reuse an existing cache instead of configuring, when possible")
}
