package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"rsc.io/script"
	"rsc.io/script/scripttest"
)

// wagPath is the binary every script runs; built once in TestMain.
var wagPath string

func TestMain(m *testing.M) {
	if _, err := exec.LookPath("go"); err != nil {
		fmt.Fprintln(os.Stderr, "skipping script tests: go toolchain not found")
		os.Exit(0)
	}
	dir, err := os.MkdirTemp("", "wag-script-")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	name := "wag"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	wagPath = filepath.Join(dir, name)
	if out, err := exec.Command("go", "build", "-o", wagPath, ".").CombinedOutput(); err != nil {
		fmt.Fprintf(os.Stderr, "building wag: %v\n%s", err, out)
		os.RemoveAll(dir)
		os.Exit(1)
	}
	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

// TestScripts runs every file under testdata/script as a CLI scenario.
// Each script gets a fresh work directory, home and store, so scripts
// never see each other's agents or cells and can run in parallel.
func TestScripts(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "script", "*.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no scripts under testdata/script")
	}

	engine := &script.Engine{
		Cmds:  script.DefaultCmds(),
		Conds: script.DefaultConds(),
		Quiet: !testing.Verbose(),
	}
	engine.Cmds["wag"] = script.Program(wagPath, interruptProcess, 5*time.Second)

	ctx := context.Background()
	for _, file := range files {
		file := file
		t.Run(strings.TrimSuffix(filepath.Base(file), ".txt"), func(t *testing.T) {
			t.Parallel()
			data, err := os.ReadFile(file)
			if err != nil {
				t.Fatal(err)
			}
			workdir := t.TempDir()
			state, err := script.NewState(ctx, workdir, scriptEnv(workdir))
			if err != nil {
				t.Fatal(err)
			}
			scripttest.Run(t, engine, state, filepath.Base(file), bytes.NewReader(data))
		})
	}
}

// scriptEnv pins everything wag derives from the environment inside the
// script's work directory: identity, store path and config discovery.
// NO_COLOR keeps output plain so stdout checks match bytes.
func scriptEnv(workdir string) []string {
	return []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + workdir,
		"XDG_CONFIG_HOME=" + filepath.Join(workdir, ".config"),
		"WAGGLE_ACTOR=scout",
		"WAGGLE_DB_PATH=" + filepath.Join(workdir, "waggle.db"),
		"NO_COLOR=1",
	}
}

func interruptProcess(cmd *exec.Cmd) error {
	return cmd.Process.Signal(os.Interrupt)
}
