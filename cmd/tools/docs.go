package tools

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

var docsCmd = &cobra.Command{
	Use:   "docs directory",
	Short: "Generate CLI documentation",
	Long:  `Writes one markdown page per cmakekit command into the given directory.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		directory := args[0]

		if err := os.MkdirAll(directory, 0755); err != nil {
			fmt.Fprintln(os.Stderr, "Error creating directory:", err)
			os.Exit(1)
		}

		if err := doc.GenMarkdownTree(cmd.Root(), directory); err != nil {
			fmt.Fprintln(os.Stderr, "Error generating documentation:", err)
			os.Exit(1)
		}

		fmt.Println("Documentation written to", directory)
	},
}

func init() {
	ToolsCmd.AddCommand(docsCmd)
}
