package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctfcal/internal/config"
)

func TestSplitText(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitText("short", 10))

	long := strings.Repeat("a", 25)
	parts := splitText(long, 10)
	assert.Equal(t, []string{"aaaaaaaaaa", "aaaaaaaaaa", "aaaaa"}, parts)

	// Newline boundaries win inside the window.
	text := "line one\nline two\nline three"
	parts = splitText(text, 20)
	assert.Equal(t, []string{"line one\nline two", "line three"}, parts)

	// Runes, not bytes.
	parts = splitText(strings.Repeat("🔔", 5), 2)
	assert.Equal(t, []string{"🔔🔔", "🔔🔔", "🔔"}, parts)
}

func TestFunc(t *testing.T) {
	var got string
	n := Func(func(_ context.Context, text string) error {
		got = text
		return nil
	})
	require.NoError(t, n.Notify(context.Background(), "hi"))
	assert.Equal(t, "hi", got)
}

func TestLog_NeverFails(t *testing.T) {
	assert.NoError(t, Log{}.Notify(context.Background(), "📣 **Mới có event:**"))
}

func telegramConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Telegram.Token = "123:abc"
	cfg.Telegram.ChatID = -1001
	cfg.Telegram.ThreadID = 7
	return cfg
}

func TestResolve_Telegram(t *testing.T) {
	var seen TelegramConfig
	tg := &Telegram{}
	dest := Resolve(telegramConfig(), func(c TelegramConfig) (*Telegram, error) {
		seen = c
		return tg, nil
	})

	assert.Equal(t, config.DestinationTelegram, dest.Name)
	assert.Same(t, tg, dest.Telegram)
	assert.Equal(t, int64(-1001), seen.ChatID)
	assert.Equal(t, 7, seen.ThreadID)
	assert.Equal(t, 1, seen.RatePerSec)
}

func TestResolve_FallsBackToLog(t *testing.T) {
	// A nil newTG means the constructor must not be reached.
	tests := []struct {
		name  string
		cfg   func() *config.Config
		newTG func(TelegramConfig) (*Telegram, error)
	}{
		{
			name: "log destination",
			cfg: func() *config.Config {
				c := telegramConfig()
				c.Notify.Destination = config.DestinationLog
				return c
			},
		},
		{
			name: "missing token",
			cfg: func() *config.Config {
				c := telegramConfig()
				c.Telegram.Token = ""
				return c
			},
		},
		{
			name: "missing chat",
			cfg: func() *config.Config {
				c := telegramConfig()
				c.Telegram.ChatID = 0
				return c
			},
		},
		{
			name: "setup error",
			cfg:  telegramConfig,
			newTG: func(TelegramConfig) (*Telegram, error) {
				return nil, errors.New("unauthorized")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			newTG := tt.newTG
			if newTG == nil {
				newTG = func(TelegramConfig) (*Telegram, error) {
					t.Error("telegram constructor called")
					return nil, errors.New("unexpected")
				}
			}
			dest := Resolve(tt.cfg(), newTG)
			assert.Equal(t, config.DestinationLog, dest.Name)
			assert.Nil(t, dest.Telegram)
			assert.IsType(t, Log{}, dest.Notifier)
		})
	}
}

func TestNewTelegram_RequiresCredentials(t *testing.T) {
	_, err := NewTelegram(TelegramConfig{ChatID: 1})
	assert.Error(t, err)

	_, err = NewTelegram(TelegramConfig{Token: "123:abc"})
	assert.Error(t, err)
}
