package codemodel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDatabase = `[
	{
		"directory": "/work/app/build",
		"command": "/usr/bin/cc -DDEBUG=1 -I/work/app/include -O0 -g -o main.o -c /work/app/src/main.c",
		"file": "/work/app/src/main.c"
	},
	{
		"directory": "/work/app/build",
		"arguments": ["/usr/bin/c++", "-DDEBUG=1", "-isystem", "/opt/deps/include", "-std=c++17", "-o", "lib.o", "-c", "/work/app/src/lib.cpp"],
		"file": "/work/app/src/lib.cpp"
	},
	{
		"directory": "/work/app/build",
		"arguments": ["/usr/bin/c++", "-DDEBUG=1", "-isystem", "/opt/deps/include", "-std=c++17", "-o", "util.o", "-c", "/work/app/src/util.cpp"],
		"file": "/work/app/src/util.cpp"
	}
]`

func TestLoadCompileCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compile_commands.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleDatabase), 0644))

	commands, err := LoadCompileCommands(path)
	require.NoError(t, err)
	require.Len(t, commands, 3)

	assert.Equal(t, "/work/app/src/main.c", commands[0].File)
	assert.Equal(t, "/usr/bin/cc", commands[0].Argv()[0])
	assert.Equal(t, "/usr/bin/c++", commands[1].Argv()[0])
}

func TestLoadCompileCommands_MissingFile(t *testing.T) {
	_, err := LoadCompileCommands(filepath.Join(t.TempDir(), "compile_commands.json"))
	assert.Error(t, err)
}

func TestFromCompileCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compile_commands.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleDatabase), 0644))

	commands, err := LoadCompileCommands(path)
	require.NoError(t, err)

	model := FromCompileCommands("app", "Debug", commands)

	require.Len(t, model.Configurations, 1)
	assert.Equal(t, "Debug", model.Configurations[0].Name)

	targets := model.Targets("Debug")
	require.Len(t, targets, 1)
	assert.Equal(t, "all", targets[0].Name)
	assert.Equal(t, TargetType_Meta, targets[0].Type)

	// identical C++ invocations collapse into one group, the C file stands alone
	groups := targets[0].FileGroups
	require.Len(t, groups, 2)

	assert.Equal(t, "C", groups[0].Language)
	assert.Equal(t, []string{"/work/app/src/main.c"}, groups[0].Sources)
	assert.Equal(t, []string{"DEBUG=1"}, groups[0].Defines)
	assert.Equal(t, []IncludePath{{Path: "/work/app/include"}}, groups[0].IncludePath)

	assert.Equal(t, "CXX", groups[1].Language)
	assert.Equal(t, []string{"/work/app/src/lib.cpp", "/work/app/src/util.cpp"}, groups[1].Sources)
	assert.Equal(t, []IncludePath{{Path: "/opt/deps/include", IsSystem: true}}, groups[1].IncludePath)
	assert.Contains(t, groups[1].CompileFlags, "-std=c++17")
}
