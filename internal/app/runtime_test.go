package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	motdtesting "github.com/MaxBossMan1/ddgmotdv2/testing"
)

func TestInTestModeFromGuard(t *testing.T) {
	RefreshTestMode()
	require.True(t, InTestMode(), "test mode forced by the testing package")

	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	assert.False(t, InTestMode())

	t.Setenv(testModeEnv, "yes-please")
	RefreshTestMode()
	assert.False(t, InTestMode(), "unparsable value does not enable test mode")

	t.Setenv(testModeEnv, "true")
	RefreshTestMode()
	assert.True(t, InTestMode())
}

func TestParseRuntime(t *testing.T) {
	rt, err := ParseRuntime("", "")
	require.NoError(t, err)
	assert.False(t, rt.TestMode())
	assert.True(t, rt.Allows(EffectDiscordGateway))
	assert.True(t, rt.Allows(EffectScheduler))
	assert.Empty(t, rt.Offline())

	rt, err = ParseRuntime("0", " Discord ,")
	require.NoError(t, err)
	assert.False(t, rt.Allows(EffectDiscordGateway))
	assert.True(t, rt.Allows(EffectScheduler))
	assert.Equal(t, []string{"discord"}, rt.Offline())

	rt, err = ParseRuntime("", "all")
	require.NoError(t, err)
	assert.Equal(t, []string{"discord", "scheduler"}, rt.Offline())

	rt, err = ParseRuntime("1", "")
	require.NoError(t, err)
	assert.True(t, rt.TestMode())
	assert.False(t, rt.Allows(EffectScheduler), "test mode disables every effect")
}

func TestParseRuntimeRejectsUnknownValues(t *testing.T) {
	_, err := ParseRuntime("", "discord,gateway")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown effect "gateway"`)

	_, err = ParseRuntime("maybe", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), testModeEnv)
}

func TestLoadRuntimeReadsEnvironment(t *testing.T) {
	t.Setenv(testModeEnv, "")
	t.Setenv(offlineEnv, "scheduler")
	rt, err := LoadRuntime()
	require.NoError(t, err)
	assert.True(t, rt.Allows(EffectDiscordGateway))
	assert.False(t, rt.Allows(EffectScheduler))
}

func TestGuardEnvironmentLoadsConfig(t *testing.T) {
	rt, err := LoadRuntime()
	require.NoError(t, err)
	assert.True(t, rt.TestMode())
	assert.Equal(t, []string{"discord", "scheduler"}, rt.Offline())

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.NotEmpty(t, cfg.SessionSecret)
	assert.Contains(t, motdtesting.Env, "JWT_SECRET")
	assert.False(t, cfg.DiscordBotEnabled(), "host bot token is cleared")
}
