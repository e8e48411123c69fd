package notify

import (
	"ctfcal/internal/config"
	appLog "ctfcal/internal/log"
)

// Destination is the resolved delivery target.
type Destination struct {
	Notifier Notifier
	// Telegram is non-nil when the chat destination resolved; the caller
	// owns its lifecycle (commands, Start, Stop).
	Telegram *Telegram
	Name     string
}

// Resolve applies the destination policy:
//
//  1. notify.destination "telegram" with a token and chat_id -> Telegram
//  2. anything else, or a Telegram setup error -> Log
//
// newTelegram is injectable for tests; nil uses NewTelegram.
func Resolve(cfg *config.Config, newTelegram func(TelegramConfig) (*Telegram, error)) Destination {
	if newTelegram == nil {
		newTelegram = NewTelegram
	}
	if cfg.Notify.Destination == config.DestinationTelegram {
		if !cfg.TelegramReady() {
			appLog.Warn("telegram destination incomplete; falling back to log", "has_token", cfg.Telegram.Token != "", "chat_id", cfg.Telegram.ChatID)
		} else {
			tg, err := newTelegram(TelegramConfig{
				Token:       cfg.Telegram.Token,
				ChatID:      cfg.Telegram.ChatID,
				ThreadID:    cfg.Telegram.ThreadID,
				PollTimeout: cfg.Telegram.PollTimeout,
				RatePerSec:  cfg.Notify.RatePerSec,
			})
			if err == nil {
				appLog.Info("announcement destination resolved", "destination", "telegram", "chat", cfg.Telegram.String())
				return Destination{Notifier: tg, Telegram: tg, Name: config.DestinationTelegram}
			}
			appLog.Error("telegram setup failed; falling back to log", err)
		}
	}
	appLog.Info("announcement destination resolved", "destination", "log")
	return Destination{Notifier: Log{}, Name: config.DestinationLog}
}
