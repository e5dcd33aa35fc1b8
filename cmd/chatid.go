package cmd

import (
	"errors"
	"fmt"

	"github.com/cqroot/prompt"
	"github.com/cqroot/prompt/input"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"dexwatch/config"
	"dexwatch/notify"
)

func chatIDCmd() *cli.Command {
	return &cli.Command{
		Name:  "chatid",
		Usage: "Find the chat id to post alerts to",
		Description: `Helps to find the Telegram chat id for --chat-id.

Add the bot to a group or channel, or open a private chat with it, and send it
any message. The command then lists the chats the bot has received messages
from.`,
		Flags: telegramFlags(),
		Action: func(ctx *cli.Context) error {
			token := ctx.String("telegram-token")
			if token == "" {
				var err error
				token, err = prompt.New().Ask("Bot token:").Input("", input.WithEchoMode(input.EchoNone))
				if err != nil {
					return err
				}
			}

			if _, err := prompt.New().Ask("Send a message to the bot, then press enter").Input(""); err != nil {
				return err
			}

			client := notify.NewTelegramClient(notify.DefaultTelegramURL, token, config.Default().RequestTimeout)
			updates, err := client.GetUpdates(ctx.Context, 0)
			if err != nil {
				return fmt.Errorf("could not read messages sent to the bot: %w", err)
			}

			chats := lo.UniqBy(
				lo.FilterMap(updates, func(u notify.Update, _ int) (notify.Chat, bool) {
					if u.Message == nil {
						return notify.Chat{}, false
					}
					return u.Message.Chat, true
				}),
				func(c notify.Chat) int64 { return c.ID },
			)
			if len(chats) == 0 {
				return errors.New("the bot has not received any messages yet")
			}

			choices := lo.Map(chats, func(c notify.Chat, _ int) string {
				return fmt.Sprintf("%d (%s %s)", c.ID, c.Type, lo.CoalesceOrEmpty(c.Title, c.Username, c.FirstName))
			})

			choice := choices[0]
			if len(choices) > 1 {
				choice, err = prompt.New().Ask("Chat:").Choose(choices)
				if err != nil {
					return err
				}
			}

			chat := chats[lo.IndexOf(choices, choice)]
			fmt.Printf("Chat id: %d\n\nSet TELEGRAM_CHAT_ID=%d or pass --chat-id %d\n", chat.ID, chat.ID, chat.ID)
			return nil
		},
	}
}
