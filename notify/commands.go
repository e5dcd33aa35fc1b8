package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"dexwatch/models"
	"dexwatch/stats"
)

const helpText = `<b>DexScreener monitor</b>

/status - uptime and counters
/help - this message`

// CommandListener answers bot commands sent to the chat by polling
// getUpdates.
type CommandListener struct {
	client   *TelegramClient
	snapshot func() stats.RunStats
	interval time.Duration
	offset   int64
	now      func() time.Time
}

func NewCommandListener(client *TelegramClient, snapshot func() stats.RunStats, interval time.Duration) *CommandListener {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &CommandListener{
		client:   client,
		snapshot: snapshot,
		interval: interval,
		now:      time.Now,
	}
}

// Run polls until ctx is cancelled
func (l *CommandListener) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		if err := l.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Warn("Polling bot commands failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll fetches pending updates once and replies to recognized commands
func (l *CommandListener) Poll(ctx context.Context) error {
	updates, err := l.client.GetUpdates(ctx, l.offset)
	if err != nil {
		return err
	}

	for _, u := range updates {
		if u.UpdateID >= l.offset {
			l.offset = u.UpdateID + 1
		}
		if u.Message == nil {
			continue
		}

		reply := l.Reply(u.Message.Text)
		if reply == "" {
			continue
		}

		chatID := fmt.Sprintf("%d", u.Message.Chat.ID)
		if err := l.client.SendMessage(ctx, chatID, reply); err != nil {
			log.WithFields(log.Fields{
				"chat":  chatID,
				"error": err,
			}).Warn("Failed to answer command")
		}
	}
	return nil
}

// Reply returns the answer to a command, or "" if text is not one
func (l *CommandListener) Reply(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	// Commands in groups carry the bot name: /status@dexwatch_bot
	cmd, _, _ := strings.Cut(fields[0], "@")

	switch cmd {
	case "/start", "/help":
		return helpText
	case "/status":
		return StatusText(l.snapshot(), l.now())
	}
	return ""
}

// StatusText summarizes run statistics as Telegram HTML
func StatusText(s stats.RunStats, now time.Time) string {
	var b strings.Builder

	b.WriteString("<b>📊 Monitor status</b>\n\n")
	fmt.Fprintf(&b, "Uptime: %s\n", s.Uptime(now).Round(time.Second))
	fmt.Fprintf(&b, "Cycles: %s\n", humanize.Comma(s.Cycles))
	if s.LastSuccessfulCycle.IsZero() {
		b.WriteString("Last successful cycle: never\n")
	} else {
		fmt.Fprintf(&b, "Last successful cycle: %s\n", humanize.RelTime(s.LastSuccessfulCycle, now, "ago", "from now"))
	}
	fmt.Fprintf(&b, "Notifications sent: %s\n", humanize.Comma(s.NotificationsSent))
	fmt.Fprintf(&b, "Dispatch failures: %s\n", humanize.Comma(s.DispatchFailures))
	fmt.Fprintf(&b, "Skipped records: %s\n", humanize.Comma(s.Skipped))
	fmt.Fprintf(&b, "Fetch failures: %s\n", humanize.Comma(s.TotalFetchFailures()))

	b.WriteString("\n<b>Feeds</b>\n")
	for _, kind := range models.AllFeedKinds {
		fmt.Fprintf(&b, "%s: seen %d, new %d, failures %d\n",
			kind, s.RecordsSeen[kind], s.NewRecords[kind], s.FetchFailures[kind])
	}

	return strings.TrimRight(b.String(), "\n")
}
