package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logrelay/internal/models"
)

func TestCompileFilterEmpty(t *testing.T) {
	f, err := CompileFilter("   ")
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.True(t, f.Match(&models.LogRecord{}))
}

func TestCompileFilterInvalid(t *testing.T) {
	_, err := CompileFilter("level >=")
	assert.Error(t, err)

	_, err = CompileFilter("unknownVar == 1")
	assert.Error(t, err)
}

func TestFilterMatch(t *testing.T) {
	warn := &models.LogRecord{Level: 40, LevelLabel: "warn", Msg: "disk low", Channel: "app-1",
		Data: map[string]any{"region": "eu", "free": float64(12)}}
	info := &models.LogRecord{Level: 30, LevelLabel: "info", Msg: "ok", Channel: "app-1",
		Data: map[string]any{"region": "us"}}

	f, err := CompileFilter(`level >= 40`)
	require.NoError(t, err)
	assert.True(t, f.Match(warn))
	assert.False(t, f.Match(info))

	f, err = CompileFilter(`data.region == "eu" && msg.contains("disk")`)
	require.NoError(t, err)
	assert.True(t, f.Match(warn))
	assert.False(t, f.Match(info))
	assert.Equal(t, `data.region == "eu" && msg.contains("disk")`, f.String())
}

func TestFilterEvalErrorIsNoMatch(t *testing.T) {
	f, err := CompileFilter(`data.missing == "x"`)
	require.NoError(t, err)
	assert.False(t, f.Match(&models.LogRecord{Data: map[string]any{}}))
}
