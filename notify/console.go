package notify

import (
	"context"
	"fmt"
	"html"
	"io"
	"regexp"
	"sync"

	"dexwatch/models"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// ConsoleSink writes notifications as plain text. It is used for dry runs
// and when no Telegram credentials are configured.
type ConsoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{out: out}
}

func (s *ConsoleSink) Send(_ context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := fmt.Fprintf(s.out, "%s\n\n", PlainText(n.Text))
	return err
}

// PlainText strips HTML tags and unescapes entities
func PlainText(s string) string {
	return html.UnescapeString(tagPattern.ReplaceAllString(s, ""))
}
