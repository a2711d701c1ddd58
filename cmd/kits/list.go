package kits

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cmakekit/cmakekit/pkg/kits"
	"github.com/cmakekit/cmakekit/pkg/utils"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the kits of the workspace",
	Run: func(cmd *cobra.Command, args []string) {
		path, err := kitsFilePath()
		if err != nil {
			fail(err)
		}

		available, err := kits.Load(path)
		if err != nil {
			fail(err)
		}

		if len(available) == 0 {
			fmt.Println("No kits found. Run `cmakekit kits scan` to discover compilers.")
			return
		}

		for _, kit := range available {
			color.New(color.Bold).Println(kit.Name)

			for _, language := range utils.SortedKeys(kit.Compilers) {
				fmt.Printf("  %v: %v\n", language, kit.Compilers[language])
			}

			if kit.ToolchainFile != "" {
				fmt.Printf("  toolchain: %v\n", kit.ToolchainFile)
			}

			if kit.PreferredGenerator != nil {
				fmt.Printf("  generator: %v\n", kit.PreferredGenerator)
			}
		}
	},
}

func init() {
	KitsCmd.AddCommand(listCmd)
}
