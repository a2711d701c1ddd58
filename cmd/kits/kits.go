// Package kits holds the kit management commands: scanning the host for compilers and
// listing the kits file.
package kits

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cmakekit/cmakekit/pkg/kits"
)

// KitsCmd groups the kit management commands
var KitsCmd = &cobra.Command{
	Use:   "kits",
	Short: "Manage toolchain kits",
}

func kitsFilePath() (string, error) {
	if path := viper.GetString("kitsFile"); path != "" {
		if filepath.IsAbs(path) {
			return path, nil
		}

		workspace, err := workspaceFolder()
		if err != nil {
			return "", err
		}

		return filepath.Join(workspace, path), nil
	}

	workspace, err := workspaceFolder()
	if err != nil {
		return "", err
	}

	return kits.DefaultFile(workspace), nil
}

func workspaceFolder() (string, error) {
	if workspace := viper.GetString("workspace"); workspace != "" {
		return filepath.Abs(workspace)
	}

	return filepath.Abs(".")
}
