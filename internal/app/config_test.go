package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SESSION_SECRET", "session")
	t.Setenv("JWT_SECRET", "jwt")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 168*time.Hour, cfg.JWTTTL)
	assert.Equal(t, "auth_token", cfg.AuthCookieName)
	assert.True(t, cfg.AuthCookieStrict)
	assert.Equal(t, 100, cfg.RateLimitRequests)
	assert.Equal(t, 15*time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, "*/15 * * * *", cfg.BanSweepCron)
	assert.False(t, cfg.IsProduction())
	assert.False(t, cfg.DiscordBotEnabled())
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("AUTH_COOKIE_STRICT", "false")
	t.Setenv("JWT_TTL", "1h")
	t.Setenv("DISCORD_BOT_TOKEN", "bot")
	t.Setenv("DISCORD_GUILD_ID", "123")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.AuthCookieStrict)
	assert.Equal(t, time.Hour, cfg.JWTTTL)
	assert.True(t, cfg.DiscordBotEnabled())
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("SESSION_SECRET", "session")
	t.Setenv("JWT_SECRET", "")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "jwt")
	t.Setenv("SESSION_SECRET", "")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigRejectsBadRateLimit(t *testing.T) {
	setRequired(t)
	t.Setenv("RATE_LIMIT_REQUESTS", "0")
	_, err := LoadConfig()
	require.Error(t, err)
}
