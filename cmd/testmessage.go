package cmd

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"dexwatch/config"
	"dexwatch/models"
	"dexwatch/notify"
)

func testMessageCmd() *cli.Command {
	return &cli.Command{
		Name:  "test-message",
		Usage: "Send a test message to the configured chat",
		Flags: telegramFlags(),
		Action: func(ctx *cli.Context) error {
			s := config.Default()
			telegramSettings(ctx, &s)

			client, err := telegramClient(s)
			if err != nil {
				return err
			}

			text := fmt.Sprintf("✅ <b>Test message</b>\n\nThe DexScreener monitor can post to this chat.\n%s",
				time.Now().UTC().Format("2006-01-02 15:04:05 UTC"))

			sink := notify.NewTelegramSink(client, s.ChatID)
			if err := sink.Send(ctx.Context, models.Notification{Text: text}); err != nil {
				return fmt.Errorf("test message failed: %w", err)
			}
			log.WithField("chat", s.ChatID).Info("Test message sent")
			return nil
		},
	}
}
