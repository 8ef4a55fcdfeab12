package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txreplay/internal/testutil"
)

func loadTestdata(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestRun_TestdataScenariosPass(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			s, err := LoadScenario(f)
			require.NoError(t, err)

			result, err := Run(context.Background(), s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %s", strings.Join(result.Errors, "\n"))
		})
	}
}

func TestRun_SingleWorker(t *testing.T) {
	result, err := Run(context.Background(), loadTestdata(t, "single_worker_once"))
	require.NoError(t, err)

	assert.True(t, result.Deterministic())
	assert.Equal(t, "trace_complete", result.Cause)
	assert.Equal(t, ErrorCodeNone, result.ErrorCode)
	assert.Equal(t, testutil.OpDial, result.Calls[0].Op)
	assert.Equal(t, testutil.OpClose, result.Calls[len(result.Calls)-1].Op)
	assert.True(t, strings.HasPrefix(result.Transcript, "conn 0:\n  dial\n  begin\n"))
}

func TestRun_ExecutionErrorIsResult(t *testing.T) {
	result, err := Run(context.Background(), loadTestdata(t, "select_failure_aborts"))
	require.NoError(t, err)

	assert.Equal(t, "SELECT_FAILED", result.ErrorCode)
	assert.Equal(t, "aborted", result.Cause)
	assert.Zero(t, result.Records, "no report after a fatal error")
}

func TestRun_ConnectFailure(t *testing.T) {
	s := &Scenario{
		Name:        "connect_failure",
		Description: "dial fails",
		Config:      ScenarioConfig{Threads: 2},
		Trace:       []string{"0 0 B 1", "0 0 S 1 select 1"},
		Failures:    []Failure{{Op: testutil.OpDial}},
		Assertions:  []Assertion{{Type: AssertErrorCode, Code: "CONNECT_FAILED"}},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
	assert.Equal(t, "aborted", result.Cause)
	assert.Zero(t, result.Count(testutil.OpBegin))
}

func TestRun_FailingAssertionsReported(t *testing.T) {
	s := loadTestdata(t, "commit_failure_ignored")
	s.Assertions = append(s.Assertions,
		Assertion{Type: AssertCallCount, Op: testutil.OpCommit, Count: intPtr(5)},
		Assertion{Type: AssertStopCause, Cause: "deadline"},
	)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "5 calls of commit")
	assert.Contains(t, result.Errors[1], "Expected: deadline")
}

func TestRun_EmptyTrace(t *testing.T) {
	s := &Scenario{
		Name:        "garbage",
		Description: "no parseable lines",
		Trace:       []string{"not a trace line"},
		Assertions:  []Assertion{{Type: AssertStopCause, Cause: "none"}},
	}

	_, err := Run(context.Background(), s)
	assert.Error(t, err)
}

func TestRun_MultiWorkerNotDeterministic(t *testing.T) {
	result, err := Run(context.Background(), loadTestdata(t, "multi_worker_once"))
	require.NoError(t, err)
	assert.False(t, result.Deterministic())
	assert.Equal(t, 3, result.Threads)
}

func TestSchedulerConfig_Defaults(t *testing.T) {
	cfg := schedulerConfig(ScenarioConfig{})
	assert.Equal(t, 1, cfg.Threads)
	assert.Equal(t, defaultRun, cfg.Run)
	assert.Zero(t, cfg.Rampup)
	assert.Zero(t, cfg.Rampdown)
}
