package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/vloop/pkg/quality"
	"github.com/ternarybob/vloop/pkg/verifier"
)

type stubExecutor struct {
	pass bool
}

func (e stubExecutor) Exec(ctx context.Context, cmd quality.Command) (quality.CommandResult, error) {
	res := quality.CommandResult{Name: cmd.Name, Script: cmd.Script, Passed: e.pass}
	if !e.pass {
		res.ExitCode = 1
		res.Stderr = "src/app.ts:3:1 unused variable"
	}
	return res, nil
}

const testConfig = `
[project]
name = "shop"

[[quality.commands]]
name = "lint"
script = "npm run lint"
`

func projectWithConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".vloop.toml"), []byte(testConfig), 0o644))
	return dir
}

func runCLI(t *testing.T, opts []verifier.Option, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr, opts...)
	return code, stdout.String(), stderr.String()
}

func TestVersion(t *testing.T) {
	code, out, _ := runCLI(t, nil, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "vloop "+version)
}

func TestInit(t *testing.T) {
	dir := t.TempDir()

	code, out, _ := runCLI(t, nil, "init", "-C", dir)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "created")
	assert.FileExists(t, filepath.Join(dir, ".vloop.toml"))
	assert.FileExists(t, filepath.Join(dir, ".claude", "commands", "verify.md"))

	code, out, _ = runCLI(t, nil, "init", "-C", dir)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Already initialized")
}

func TestRun_ExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		pass     bool
		wantCode int
		wantOut  string
		wantErr  string
	}{
		{
			name:     "verified",
			args:     []string{"run", "--type", "logic_only"},
			pass:     true,
			wantCode: 0,
			wantOut:  "VERIFIED",
		},
		{
			name:     "escalated",
			args:     []string{"run", "--type", "logic_only"},
			pass:     false,
			wantCode: 3,
			wantErr:  "E_ESCALATED",
		},
		{
			name:     "missing type",
			args:     []string{"run"},
			pass:     true,
			wantCode: 2,
			wantErr:  "--type is required",
		},
		{
			name:     "unknown type",
			args:     []string{"run", "--type", "rewrite"},
			pass:     true,
			wantCode: 2,
		},
		{
			name:     "ui change without base url",
			args:     []string{"run", "--type", "ui"},
			pass:     true,
			wantCode: 2,
			wantErr:  "E_CONFIG",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := projectWithConfig(t)
			args := append(tt.args, "-C", dir)
			code, out, errOut := runCLI(t, []verifier.Option{verifier.WithExecutor(stubExecutor{pass: tt.pass})}, args...)
			assert.Equal(t, tt.wantCode, code, "stdout: %s\nstderr: %s", out, errOut)
			if tt.wantOut != "" {
				assert.Contains(t, out, tt.wantOut)
			}
			if tt.wantErr != "" {
				assert.Contains(t, errOut, tt.wantErr)
			}
		})
	}
}

func TestRunThenReportAndCriteria(t *testing.T) {
	dir := projectWithConfig(t)
	opts := []verifier.Option{verifier.WithExecutor(stubExecutor{pass: true})}

	code, _, errOut := runCLI(t, nil, "criteria", "add", "-C", dir, "-f", "checkout",
		"Submitting", "the", "form", "shows", "the", "order", "number")
	require.Equal(t, 0, code, errOut)

	code, _, errOut = runCLI(t, nil, "criteria", "add", "-C", dir, "-f", "checkout", "works")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "E_VAGUE_CRITERION")

	code, _, errOut = runCLI(t, opts, "run", "-C", dir, "--type", "logic_only", "--feature", "checkout")
	require.Equal(t, 0, code, errOut)

	code, out, _ := runCLI(t, nil, "report", "-C", dir)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "# Verification: logic_only")
	assert.Contains(t, out, "- Result: **VERIFIED**")

	code, out, _ = runCLI(t, nil, "status", "-C", dir)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Code quality")
	assert.Contains(t, out, "No base_url configured")

	code, out, _ = runCLI(t, nil, "criteria", "list", "-C", dir, "--pending")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "order number")
}

func TestStep(t *testing.T) {
	dir := projectWithConfig(t)
	opts := []verifier.Option{verifier.WithExecutor(stubExecutor{pass: false})}

	code, out, errOut := runCLI(t, opts, "step", "-C", dir, "--type", "logic_only")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "Started run")
	assert.Contains(t, errOut, "Code quality failed")

	code, _, errOut = runCLI(t, []verifier.Option{verifier.WithExecutor(stubExecutor{pass: true})}, "step", "-C", dir)
	assert.Equal(t, 0, code, errOut)

	code, _, errOut = runCLI(t, nil, "step", "-C", dir)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "E_RUN_TERMINAL")
}

func TestMissingProjectDir(t *testing.T) {
	code, _, errOut := runCLI(t, nil, "status", "-C", filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "does not exist")
}
