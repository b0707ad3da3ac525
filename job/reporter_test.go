package job

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/rushops/rush/pkg/logger"
)

func TestMemoryReporter(t *testing.T) {
	t.Parallel()

	mem := NewMemoryReporter()
	require.NoError(t, mem.AddResult(StepResult{ID: "a", JobID: "job1", Operation: "git_init"}))
	require.NoError(t, mem.AddResult(StepResult{ID: "b", JobID: "job2", Operation: "git_add"}))
	require.NoError(t, mem.AddResult(StepResult{ID: "c", JobID: "job1", Operation: "git_commit"}))

	assert.Len(t, mem.Results(), 3)
	assert.Len(t, mem.ResultsFor("job1"), 2)

	got, err := mem.Result("b")
	require.NoError(t, err)
	assert.Equal(t, "git_add", got.Operation)

	_, err = mem.Result("missing")
	require.ErrorIs(t, err, ErrResultNotFound)
}

func TestMultiReporter(t *testing.T) {
	t.Parallel()

	first, second := NewMemoryReporter(), NewMemoryReporter()
	errBroken := errors.New("broken pipe")
	multi := MultiReporter{
		first,
		ReporterFunc(func(StepResult) error { return errBroken }),
		second,
	}

	err := multi.AddResult(StepResult{ID: "a"})
	require.ErrorIs(t, err, errBroken)
	assert.Len(t, first.Results(), 1)
	assert.Len(t, second.Results(), 1)
}

func TestLogReporter(t *testing.T) {
	t.Parallel()

	lggr, logs := logger.TestObserved(t, zapcore.DebugLevel)
	rep := NewLogReporter(lggr)

	require.NoError(t, rep.AddResult(StepResult{JobID: "j", Index: 0, Operation: "git_clone", Status: StatusSucceeded, Message: "cloned"}))
	require.NoError(t, rep.AddResult(StepResult{JobID: "j", Index: 1, Operation: "sql_create", Label: "main", Status: StatusFailed, Message: "role does not exist", Output: "ERROR: 42704"}))
	require.NoError(t, rep.AddResult(StepResult{JobID: "j", Index: 2, Operation: "make", Status: StatusSkipped, Message: "skipped"}))

	entries := logs.All()
	require.Len(t, entries, 3)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "Operation succeeded", entries[0].Message)
	assert.Equal(t, "cloned", entries[0].ContextMap()["message"])

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	fields := entries[1].ContextMap()
	assert.Equal(t, "role does not exist", fields["error"])
	assert.Equal(t, "ERROR: 42704", fields["output"])
	assert.Equal(t, "main", fields["label"])
	assert.EqualValues(t, 2, fields["step"])

	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "Operation skipped", entries[2].Message)
}
