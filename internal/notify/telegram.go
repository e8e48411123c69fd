package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	appLog "ctfcal/internal/log"
)

const telegramTextLimit = 4000

// TelegramConfig configures the Telegram destination.
type TelegramConfig struct {
	Token       string
	ChatID      int64
	ThreadID    int // forum topic; 0 for none
	PollTimeout time.Duration
	RatePerSec  int
}

// CommandFunc renders a command reply.
type CommandFunc func(ctx context.Context) string

// Telegram posts announcements to one chat and answers bot commands.
type Telegram struct {
	bot      *tele.Bot
	chat     *tele.Chat
	threadID int
	limiter  *rate.Limiter

	runMu   sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	cmds    []tele.Command
}

// NewTelegram creates the bot. It does not start polling.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Telegram{
		bot:      b,
		chat:     &tele.Chat{ID: cfg.ChatID},
		threadID: cfg.ThreadID,
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Notify sends text to the announcement chat, split into Telegram-sized
// chunks.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	return t.send(ctx, t.chat, t.threadID, text)
}

func (t *Telegram) send(ctx context.Context, chat *tele.Chat, threadID int, text string) error {
	for _, chunk := range splitText(text, telegramTextLimit) {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		opts := &tele.SendOptions{DisableWebPagePreview: true, ThreadID: threadID}
		if _, err := t.bot.Send(chat, chunk, opts); err != nil {
			return err
		}
	}
	return nil
}

// HandleCommand registers /name. The reply goes back to the chat (and
// topic) the command came from. Register commands before Start.
func (t *Telegram) HandleCommand(name, description string, fn CommandFunc) {
	name = strings.TrimPrefix(name, "/")
	t.cmds = append(t.cmds, tele.Command{Text: name, Description: description})
	t.bot.Handle("/"+name, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		reply := fn(t.ctx)
		if err := t.send(t.ctx, m.Chat, m.ThreadID, reply); err != nil {
			appLog.Error("telegram command reply failed", err, "command", name, "chat_id", m.Chat.ID)
		}
		return nil
	})
}

// Start publishes the command menu and begins long polling in the
// background.
func (t *Telegram) Start() {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.running {
		return
	}
	t.running = true
	if len(t.cmds) > 0 {
		if err := t.bot.SetCommands(t.cmds); err != nil {
			appLog.Error("telegram set commands failed", err)
		}
	}
	go func() {
		appLog.Info("telegram polling started")
		t.bot.Start()
		appLog.Info("telegram polling stopped")
	}()
}

// Stop ends polling and cancels in-flight command handlers.
func (t *Telegram) Stop() {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	t.cancel()
	if !t.running {
		return
	}
	t.running = false
	t.bot.Stop()
}

// splitText splits long messages into chunks of at most limit runes,
// preferring newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		// Prefer splitting on a newline near the end of the window.
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		if chunk != "" {
			out = append(out, chunk)
		}

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
