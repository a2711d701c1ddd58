// Package project holds the driver-backed commands: configure, build, test, package,
// install, clean, workflow and diagnostics. All of them resolve the project description
// into a driver, run one operation and map its typed result to an exit code.
package project

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cmakekit/cmakekit/pkg/cmake"
	"github.com/cmakekit/cmakekit/pkg/driver"
	"github.com/cmakekit/cmakekit/pkg/kits"
	"github.com/cmakekit/cmakekit/pkg/logging"
	"github.com/cmakekit/cmakekit/pkg/presets"
	"github.com/cmakekit/cmakekit/pkg/proc"
	"github.com/cmakekit/cmakekit/pkg/settings"
	"github.com/cmakekit/cmakekit/pkg/variants"
)

var dryRun bool

// AddCommands registers the project commands directly on the root, so the CLI reads
// `cmakekit configure` instead of nesting them under a group
func AddCommands(root *cobra.Command) {
	for _, command := range []*cobra.Command{
		configureCmd,
		buildCmd,
		cleanCmd,
		testCmd,
		packageCmd,
		installCmd,
		workflowCmd,
		diagnosticsCmd,
	} {
		command.Flags().BoolVar(&dryRun, "dry-run", false, "print the commands that would run instead of running them")
		root.AddCommand(command)
	}
}

// consoleOutput streams tool output to the terminal, stderr lines in red
type consoleOutput struct{}

func (consoleOutput) Output(line string) {
	fmt.Println(line)
}

func (consoleOutput) Error(line string) {
	color.New(color.FgRed).Fprintln(os.Stderr, line)
}

// previewProcess pretends the previewed command succeeded
type previewProcess struct{}

func (previewProcess) Wait(ctx context.Context) (int, error) { return 0, nil }
func (previewProcess) Kill() error                           { return nil }

// previewSpawner prints what would run instead of running it, for --dry-run
type previewSpawner struct{}

func (previewSpawner) Spawn(ctx context.Context, request proc.Request, consumer proc.OutputConsumer) (proc.Process, error) {
	line := request.Program + " " + strings.Join(request.Args, " ")

	if request.Dir != "" {
		line += "  (in " + request.Dir + ")"
	}

	color.New(color.FgCyan).Println("would run:", line)

	return previewProcess{}, nil
}

func workspaceFolder() (string, error) {
	if workspace := viper.GetString("workspace"); workspace != "" {
		return filepath.Abs(workspace)
	}

	return os.Getwd()
}

// inWorkspace anchors a relative settings path to the workspace folder
func inWorkspace(workspace, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(workspace, path)
}

// newDriver assembles a driver from the viper settings: cmake lookup, kit and variant
// selection, preset selection and logging
func newDriver() (*driver.Driver, func(), error) {
	logger, cleanup, err := logging.New(logging.Options{
		Level: viper.GetString("logLevel"),
		File:  viper.GetString("logFile"),
	})
	if err != nil {
		return nil, nil, err
	}

	workspace, err := workspaceFolder()
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	projectSettings, err := settings.FromViper(viper.GetViper())
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	executable, err := cmake.Find(projectSettings.CMakePath)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	options := driver.Options{
		WorkspaceFolder: workspace,
		CMake:           executable,
		Settings:        projectSettings,
		Logger:          logger,
		Spawner:         proc.NewLoggingSpawner(proc.ExecSpawner{}, logger),
	}

	if dryRun {
		options.Spawner = previewSpawner{}
	}

	d, err := driver.New(options)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	if err := applySelections(d, projectSettings, workspace); err != nil {
		cleanup()
		return nil, nil, err
	}

	return d, cleanup, nil
}

func applySelections(d *driver.Driver, projectSettings *settings.Settings, workspace string) error {
	if projectSettings.PresetsEnabled() {
		return applyPresets(d, projectSettings, workspace)
	}

	if projectSettings.Kit != "" {
		kitsFile := projectSettings.KitsFile
		if kitsFile == "" {
			kitsFile = kits.DefaultFile(workspace)
		}

		available, err := kits.Load(inWorkspace(workspace, kitsFile))
		if err != nil {
			return err
		}

		kit, err := kits.Find(available, projectSettings.Kit)
		if err != nil {
			return err
		}

		if err := d.SetKit(kit); err != nil {
			return err
		}
	}

	variantsFile := variants.Default()

	if path := filepath.Join(workspace, "cmake-variants.yaml"); fileExists(path) {
		loaded, err := variants.Load(path)
		if err != nil {
			return err
		}

		variantsFile = loaded
	}

	var selection *variants.Selection
	var err error

	if len(projectSettings.Variant) > 0 {
		selection, err = variantsFile.Select(projectSettings.Variant)
	} else {
		selection, err = variantsFile.DefaultSelection()
	}

	if err != nil {
		return err
	}

	return d.SetVariant(selection)
}

func applyPresets(d *driver.Driver, projectSettings *settings.Settings, workspace string) error {
	file, err := presets.Load(inWorkspace(workspace, projectSettings.PresetsFile))
	if err != nil {
		return err
	}

	if projectSettings.ConfigurePreset != "" {
		preset, err := file.Configure(projectSettings.ConfigurePreset)
		if err != nil {
			return err
		}

		if err := d.SetConfigurePreset(preset); err != nil {
			return err
		}
	}

	if projectSettings.BuildPreset != "" {
		preset, err := file.Build(projectSettings.BuildPreset)
		if err != nil {
			return err
		}

		if err := d.SetBuildPreset(preset); err != nil {
			return err
		}
	}

	if projectSettings.TestPreset != "" {
		preset, err := file.Test(projectSettings.TestPreset)
		if err != nil {
			return err
		}

		if err := d.SetTestPreset(preset); err != nil {
			return err
		}
	}

	if projectSettings.PackagePreset != "" {
		preset, err := file.Package(projectSettings.PackagePreset)
		if err != nil {
			return err
		}

		if err := d.SetPackagePreset(preset); err != nil {
			return err
		}
	}

	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// runOperation builds the driver, runs one operation with interrupt handling and exits
// with the result's code
func runOperation(operation func(ctx context.Context, d *driver.Driver) driver.Result) {
	d, cleanup, err := newDriver()
	if err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		<-ctx.Done()
		d.StopCurrentProcess()
	}()

	result := operation(ctx, d)

	_ = d.Dispose(context.Background())

	reportResult(result)
}

func reportResult(result driver.Result) {
	if result.Success() {
		return
	}

	message := result.String()
	if result.Err != nil {
		message = fmt.Sprintf("%v: %v", result.Type, result.Err)
	}

	color.New(color.FgRed).Fprintln(os.Stderr, "Error:", message)

	// Sentinel codes are negative and would not survive as exit codes
	if result.Code > 0 && result.Code < 256 {
		os.Exit(result.Code)
	}

	os.Exit(1)
}
