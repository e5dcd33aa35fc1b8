package cmd

import (
	"errors"

	"github.com/urfave/cli/v2"

	"dexwatch/config"
	"dexwatch/notify"
)

func databaseFlag(value string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "database",
		Aliases: []string{"d"},
		Value:   value,
		Usage:   "SQLite database file location",
		EnvVars: []string{"DEXWATCH_DATABASE"},
	}
}

func telegramFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "telegram-token",
			Usage:   "Telegram bot token",
			EnvVars: []string{"DEXWATCH_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "chat-id",
			Usage:   "Telegram chat or channel to post to",
			EnvVars: []string{"DEXWATCH_CHAT_ID", "TELEGRAM_CHAT_ID"},
		},
	}
}

func telegramSettings(ctx *cli.Context, s *config.Settings) {
	if ctx.IsSet("telegram-token") {
		s.TelegramToken = ctx.String("telegram-token")
	}
	if ctx.IsSet("chat-id") {
		s.ChatID = ctx.String("chat-id")
	}
}

func telegramClient(s config.Settings) (*notify.TelegramClient, error) {
	if s.TelegramToken == "" || s.ChatID == "" {
		return nil, errors.New("a Telegram bot token and chat id are required (--telegram-token, --chat-id)")
	}
	return notify.NewTelegramClient(notify.DefaultTelegramURL, s.TelegramToken, s.RequestTimeout), nil
}
