package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"dexwatch/models"
)

const (
	DefaultTelegramURL = "https://api.telegram.org"
	maxCaptionLength   = 1024
)

// TelegramClient calls the Telegram Bot API
type TelegramClient struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *fasthttp.Client
}

func NewTelegramClient(baseURL, token string, timeout time.Duration) *TelegramClient {
	if baseURL == "" {
		baseURL = DefaultTelegramURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TelegramClient{
		baseURL: baseURL,
		token:   token,
		timeout: timeout,
		http: &fasthttp.Client{
			Name:         "dexwatch",
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
	}
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

type Chat struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

// GetMe verifies the bot token
func (c *TelegramClient) GetMe(ctx context.Context) (*User, error) {
	var user User
	if err := c.call(ctx, "getMe", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *TelegramClient) SendMessage(ctx context.Context, chatID, text string) error {
	return c.call(ctx, "sendMessage", map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": false,
	}, nil)
}

func (c *TelegramClient) SendPhoto(ctx context.Context, chatID, photoURL, caption string) error {
	return c.call(ctx, "sendPhoto", map[string]any{
		"chat_id":    chatID,
		"photo":      photoURL,
		"caption":    caption,
		"parse_mode": "HTML",
	}, nil)
}

// GetUpdates returns pending updates starting at offset
func (c *TelegramClient) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	payload := map[string]any{"timeout": 0}
	if offset > 0 {
		payload["offset"] = offset
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (c *TelegramClient) call(ctx context.Context, method string, payload any, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method))
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return &SendError{Permanent: true, Err: fmt.Errorf("marshal %s payload: %w", method, err)}
		}
		req.SetBody(body)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return &SendError{Err: fmt.Errorf("telegram %s: %w", method, err)}
	}

	var r apiResponse
	decodeErr := json.Unmarshal(resp.Body(), &r)

	status := resp.StatusCode()
	if status != http.StatusOK {
		return statusError(status, r.Description)
	}
	if decodeErr != nil {
		return &SendError{Permanent: true, Status: status, Err: fmt.Errorf("decode %s response: %w", method, decodeErr)}
	}
	if !r.OK {
		return statusError(codeOr(r.ErrorCode, http.StatusBadRequest), r.Description)
	}

	if out != nil && len(r.Result) > 0 {
		if err := json.Unmarshal(r.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

func codeOr(code, fallback int) int {
	if code == 0 {
		return fallback
	}
	return code
}

// TelegramSink posts notifications to a single chat. Notifications with an
// image are sent as a photo with caption; when Telegram rejects the photo the
// text is sent on its own.
type TelegramSink struct {
	client *TelegramClient
	chatID string
}

func NewTelegramSink(client *TelegramClient, chatID string) *TelegramSink {
	return &TelegramSink{client: client, chatID: chatID}
}

func (s *TelegramSink) Send(ctx context.Context, n models.Notification) error {
	if n.ImageURL != "" && utf8.RuneCountInString(n.Text) <= maxCaptionLength {
		err := s.client.SendPhoto(ctx, s.chatID, n.ImageURL, n.Text)
		if err == nil {
			return nil
		}

		var se *SendError
		if !errors.As(err, &se) || !se.Permanent || se.Status != http.StatusBadRequest {
			return err
		}
		log.WithFields(log.Fields{
			"identity": n.Identity,
			"image":    n.ImageURL,
			"error":    err,
		}).Warn("Photo rejected, sending text only")
	}

	return s.client.SendMessage(ctx, s.chatID, n.Text)
}
