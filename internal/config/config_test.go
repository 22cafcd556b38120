package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, BackendInMemory, cfg.Storage.Backend)
	assert.Equal(t, TransportTelegram, cfg.Bot.Transport)
	assert.Equal(t, "shots", cfg.Points.Word)
	assert.Equal(t, ":fireball:", cfg.Points.Emoji)
	assert.Equal(t, int64(5), cfg.Points.DailyCapPositive)
	assert.Equal(t, int64(3), cfg.Points.DailyCapNegative)
	assert.False(t, cfg.Points.SelfGiveAllowed())
	assert.True(t, cfg.Points.NegativeAllowed())
	assert.Equal(t, 10*time.Second, cfg.Handler.Timeout)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := writeConfig(t, `
bot:
  id: UBOT
storage:
  backend: SQLite
points:
  word: beers
  self_give: allow
`)
	t.Setenv("POINTS_DAILY_CAP_POSITIVE", "7")
	t.Setenv("BOT_TOKEN", "secret")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "beers", cfg.Points.Word)
	assert.True(t, cfg.Points.SelfGiveAllowed())
	assert.Equal(t, int64(7), cfg.Points.DailyCapPositive)
	assert.Equal(t, "secret", cfg.Bot.Token)
	assert.Equal(t, "<@UBOT>", cfg.BotMention())
}

func TestLoad_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"unknown backend", "storage:\n  backend: cassandra\n", ErrUnknownBackend},
		{"unknown transport", "bot:\n  transport: irc\n", ErrUnknownTransport},
		{"bad policy", "points:\n  self_give: sometimes\n", ErrInvalidPolicy},
		{"missing emoji", "points:\n  emoji: \"\"\n", ErrMissingVocabulary},
		{"zero cap", "points:\n  daily_cap_negative: 0\n", ErrMissingVocabulary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidate_NegativeVocabularyOnlyWhenAllowed(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	cfg.Points.NegativeEmoji = ""
	assert.ErrorIs(t, cfg.Validate(), ErrMissingVocabulary)

	cfg.Points.NegativePoints = PolicyDisallow
	assert.NoError(t, cfg.Validate())
}

func TestIsChatAllowed(t *testing.T) {
	cfg := &Config{}
	assert.True(t, cfg.IsChatAllowed("anything"))

	cfg.Whitelist.Chats = []string{"C1", "C2"}
	assert.True(t, cfg.IsChatAllowed("C2"))
	assert.False(t, cfg.IsChatAllowed("C3"))
}
