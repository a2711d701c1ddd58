package tools

import (
	"github.com/spf13/cobra"
)

// ToolsCmd groups miscellaneous tooling commands
var ToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "cmakekit miscellaneous tools",
}
