package log

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Not parallel: the logger is process-global.
func Test_Log_Filters_Lines_Below_Minimum_Level(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarn)
	t.Cleanup(func() {
		SetLevel(LevelInfo)
	})

	Info("hidden", "k", "v")
	Warn("shown", "title", "UQ Omega")
	Error("failed", errors.New("boom"), "calendar", "uq")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `[WARN] shown title="UQ Omega"`)
	assert.Contains(t, out, "[ERROR] failed err=boom calendar=uq")
}

func Test_ParseLevel_Returns_Info_When_Level_Unknown(t *testing.T) {
	t.Parallel()

	l, ok := ParseLevel(" debug ")
	require.True(t, ok)
	assert.Equal(t, LevelDebug, l)

	l, ok = ParseLevel("verbose")
	assert.False(t, ok)
	assert.Equal(t, LevelInfo, l)
}
