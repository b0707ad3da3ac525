package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNamed(t *testing.T) {
	t.Parallel()

	lggr, logs := TestObserved(t, zapcore.InfoLevel)
	child := lggr.Named("executor")

	child.Infow("operation finished", "operation", "git_clone")

	assert.Equal(t, "executor", child.Name())
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "operation finished", entry.Message)
	assert.Equal(t, "executor", entry.LoggerName)
	assert.Equal(t, "git_clone", entry.ContextMap()["operation"])
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		give string
		want zapcore.Level
	}{
		{give: "debug", want: zapcore.DebugLevel},
		{give: "warn", want: zapcore.WarnLevel},
		{give: "error", want: zapcore.ErrorLevel},
		{give: "", want: zapcore.InfoLevel},
		{give: "loud", want: zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.give, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, ParseLevel(tt.give))
		})
	}
}

func TestNewCLI(t *testing.T) {
	t.Parallel()

	lggr, err := NewCLI(zapcore.WarnLevel, false)
	require.NoError(t, err)
	require.NotNil(t, lggr)

	lggr, err = NewCLI(zapcore.DebugLevel, true)
	require.NoError(t, err)
	require.NotNil(t, lggr)
}

func TestNop(t *testing.T) {
	t.Parallel()

	lggr := Nop()
	lggr.Infow("dropped")
	assert.Empty(t, lggr.Name())
}

func TestWith(t *testing.T) {
	t.Parallel()

	lggr, logs := TestObserved(t, zapcore.DebugLevel)
	lggr.With("job", "2Dk9").Debugw("step done", "step", 1)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "2Dk9", fields["job"])
	assert.EqualValues(t, 1, fields["step"])
}
