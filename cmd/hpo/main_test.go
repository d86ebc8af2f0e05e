package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trialScript prints |c - 1| as the cost.
const trialScript = `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
    --c) c="$2"; shift ;;
  esac
  shift
done
echo "cost=$(awk -v c="$c" 'BEGIN { d = c - 1; if (d < 0) d = -d; print d }')"
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())

	return out.String(), err
}

func writeDefinition(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "hpo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestValidateCommand(t *testing.T) {
	path := writeDefinition(t, `
space:
  hyperparameters:
    - {name: c, type: float, lower: 0, upper: 3, default: 1.5}
    - {name: schedule, type: categorical, choices: [A, B]}
    - {name: k, type: integer, lower: 0, upper: 2000, default: 100}
  conditions:
    - {child: k, parent: schedule, equals: A}
`)

	out, err := execute(t, "validate", "--file", path)
	require.NoError(t, err)

	assert.Contains(t, out, "Hyperparameters: 3\n")
	assert.Contains(t, out, "  c (float)\n")
	assert.Contains(t, out, "  k (integer) if schedule=A\n")
	assert.Contains(t, out, `{c=1.5, k=100, schedule="A"}`)
}

func TestValidateCommandErrors(t *testing.T) {
	_, err := execute(t, "validate", "--file", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeDefinition(t, `
space:
  hyperparameters:
    - {name: c, type: float, lower: 3, upper: 0}
`)

	_, err = execute(t, "validate", "--file", path)
	assert.Error(t, err)

	_, err = execute(t, "validate", "--file", path, "--log-level", "loud")
	assert.Error(t, err)
}

func TestOptimizeAndHistoryCommands(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	script := filepath.Join(t.TempDir(), "trial.sh")
	require.NoError(t, os.WriteFile(script, []byte(trialScript), 0o755))

	historyDir := t.TempDir()

	path := writeDefinition(t, `
space:
  hyperparameters:
    - {name: c, type: float, lower: 0, upper: 3, default: 1}
scenario:
  trials: 4
  workers: 2
  trial_timeout: 30s
history:
  run: cli
`)

	out, err := execute(t, "optimize", "--file", path, "--executable", script, "--history-dir", historyDir)
	require.NoError(t, err)

	assert.Contains(t, out, "Trials: 4 (succeeded 4, failed 0, timed out 0)")
	assert.Contains(t, out, "Default cost: 0\n")
	assert.Contains(t, out, "Incumbent cost: 0\n")
	assert.Contains(t, out, "{c=1}")

	out, err = execute(t, "history", "--file", path, "--history-dir", historyDir)
	require.NoError(t, err)

	assert.Contains(t, out, "TRIAL")
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "Incumbent")
	assert.Contains(t, out, "(cost 0 over 1 runs): {c=1}")

	// A larger budget resumes the persisted run.
	out, err = execute(t, "optimize", "--file", path, "--executable", script, "--history-dir", historyDir, "--trials", "6")
	require.NoError(t, err)
	assert.Contains(t, out, "Trials: 6 (succeeded 6, failed 0, timed out 0)")
}

func TestHistoryCommandRequiresDirectory(t *testing.T) {
	path := writeDefinition(t, `
space:
  hyperparameters:
    - {name: c, type: float, lower: 0, upper: 3}
`)

	_, err := execute(t, "history", "--file", path)
	assert.ErrorContains(t, err, "no history directory")
}

func TestEnvOr(t *testing.T) {
	t.Setenv(envRun, "")
	assert.Equal(t, "fallback", envOr(envRun, "fallback"))

	t.Setenv(envRun, "druid")
	assert.Equal(t, "druid", envOr(envRun, "fallback"))

	t.Setenv(envWorkers, "x")
	assert.Equal(t, 3, envIntOr(envWorkers, 3))

	t.Setenv(envWorkers, "8")
	assert.Equal(t, 8, envIntOr(envWorkers, 3))
}
