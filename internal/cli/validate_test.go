package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mixedTrace = `0 0 B 1
0 0 S 1 select a from t where id = ?
0 0 W 1 create temporary table tmp1 (id int)
0 0 C 1
not a trace line
0 0 B 3
0 0 W 3 update t set a = 1
0 0 R 3
`

func executeValidate(t *testing.T, opts *ValidateOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(opts.RootOptions)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	if opts.Strict {
		args = append(args, "--strict")
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateValidTrace(t *testing.T) {
	path := writeTrace(t, t.TempDir(), mixedTrace)

	out, err := executeValidate(t, &ValidateOptions{RootOptions: &RootOptions{Format: "text"}}, path)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ Trace valid")
	assert.Contains(t, out, "transactions:  3")
	assert.Contains(t, out, "statements:    7")
	assert.Contains(t, out, "ignored lines: 1")
	assert.Contains(t, out, "temp_table")
}

func TestValidateValidTraceJSON(t *testing.T) {
	path := writeTrace(t, t.TempDir(), mixedTrace)

	out, err := executeValidate(t, &ValidateOptions{RootOptions: &RootOptions{Format: "json"}}, path)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 3, resp.Data.Transactions)
	assert.Equal(t, 7, resp.Data.Statements)
	assert.Equal(t, 1, resp.Data.Ignored)
	assert.Equal(t, 8, resp.Data.Lines)
	assert.Equal(t, map[string]int{
		"begin":      2,
		"commit":     1,
		"rollback":   1,
		"select":     1,
		"temp_table": 1,
		"write":      1,
	}, resp.Data.Kinds)
}

func TestValidateStrictRejectsIgnoredLines(t *testing.T) {
	path := writeTrace(t, t.TempDir(), mixedTrace)

	out, err := executeValidate(t, &ValidateOptions{RootOptions: &RootOptions{Format: "text"}, Strict: true}, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, ErrCodeTraceIgnored)
}

func TestValidateEmptyTrace(t *testing.T) {
	path := writeTrace(t, t.TempDir(), "\n\nnothing here\n")

	out, err := executeValidate(t, &ValidateOptions{RootOptions: &RootOptions{Format: "json"}}, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeTraceEmpty, resp.Error.Code)
}

func TestValidateMissingFile(t *testing.T) {
	out, err := executeValidate(t, &ValidateOptions{RootOptions: &RootOptions{Format: "text"}},
		filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error ["+ErrCodeTraceUnreadable+"]")
}

func TestValidateMissingArgs(t *testing.T) {
	_, err := executeValidate(t, &ValidateOptions{RootOptions: &RootOptions{Format: "text"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestValidateVerboseOutput(t *testing.T) {
	path := writeTrace(t, t.TempDir(), mixedTrace)

	buf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json", Verbose: true})
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	cmd.SetArgs([]string{path})
	require.NoError(t, cmd.Execute())

	// JSON on stdout stays parseable; diagnostics go to stderr.
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Contains(t, errBuf.String(), "Parsed 8 line(s)")
	assert.Contains(t, errBuf.String(), "ignored unknown trace line")
}

func TestValidateTestdataTrace(t *testing.T) {
	path := filepath.Join("..", "..", "testdata", "outc.txt")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Skip("testdata/outc.txt not found")
	}

	_, err := executeValidate(t, &ValidateOptions{RootOptions: &RootOptions{Format: "text"}, Strict: true}, path)
	require.NoError(t, err)
}
