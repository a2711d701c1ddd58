package project

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Print a snapshot of the resolved project state",
	Long: `Prints what the driver resolved from the workspace as JSON: directories,
generator, kit and preset selection, detected compilers and cmake version.`,
	Run: func(cmd *cobra.Command, args []string) {
		d, cleanup, err := newDriver()
		if err != nil {
			color.New(color.FgRed).Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		defer cleanup()

		diagnostics := d.Diagnostics()

		data, err := json.MarshalIndent(diagnostics, "", "  ")
		if err != nil {
			color.New(color.FgRed).Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

		fmt.Println(string(data))
	},
}
