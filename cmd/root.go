package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cmakekit/cmakekit/cmd/kits"
	"github.com/cmakekit/cmakekit/cmd/project"
	"github.com/cmakekit/cmakekit/cmd/tools"
)

var cfgFile string

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "cmakekit",
	Short: "A driver for CMake projects",
	Long: `cmakekit drives the configure, build, test and package cycle of CMake projects.

Projects are described either through CMake presets or through a cmakekit.yaml
settings file with optional toolchain kits and build variants. Every command
resolves the full cmake command line from that description before running it.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	err := RootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./cmakekit.yaml)")
	RootCmd.PersistentFlags().String("workspace", "", "workspace folder (default is the current directory)")
	RootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")
	RootCmd.PersistentFlags().String("log-file", "", "append JSON log records to this file")

	cobra.CheckErr(viper.BindPFlag("workspace", RootCmd.PersistentFlags().Lookup("workspace")))
	cobra.CheckErr(viper.BindPFlag("logLevel", RootCmd.PersistentFlags().Lookup("log-level")))
	cobra.CheckErr(viper.BindPFlag("logFile", RootCmd.PersistentFlags().Lookup("log-file")))

	project.AddCommands(RootCmd)
	RootCmd.AddCommand(kits.KitsCmd, tools.ToolsCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Search config in the workspace (or current directory) with name "cmakekit".
		if workspace := viper.GetString("workspace"); workspace != "" {
			viper.AddConfigPath(workspace)
		}

		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("cmakekit")
	}

	viper.SetEnvPrefix("CMAKEKIT")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
