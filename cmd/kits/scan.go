package kits

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cmakekit/cmakekit/pkg/kits"
	"github.com/cmakekit/cmakekit/pkg/logging"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the host for compilers and update the kits file",
	Long: `Probes PATH for known compiler families and writes one kit per family found.
Kits marked "keep" in the file survive the rescan untouched.`,
	Run: func(cmd *cobra.Command, args []string) {
		path, err := kitsFilePath()
		if err != nil {
			fail(err)
		}

		existing, err := kits.Load(path)
		if err != nil {
			fail(err)
		}

		logger, cleanup, err := logging.New(logging.Options{Level: viper.GetString("logLevel")})
		if err != nil {
			fail(err)
		}
		defer cleanup()

		scanner := kits.Scanner{Logger: logger}
		merged := kits.MergeScan(existing, scanner.Scan())

		if err := kits.Save(path, merged); err != nil {
			fail(err)
		}

		fmt.Printf("Wrote %v kit(s) to %v\n", len(merged), path)
	},
}

func fail(err error) {
	color.New(color.FgRed).Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

func init() {
	KitsCmd.AddCommand(scanCmd)
}
