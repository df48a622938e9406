// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegram is a minimal Telegram Bot API client: long polling,
// messages with inline keyboards, edits and callback answers.
package telegram

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.backpr.com/webtomed/internal/request"
)

const (
	tgAPI = "https://api.telegram.org"

	// DefaultPollTimeout is how long getUpdates waits for new updates.
	DefaultPollTimeout = 25 * time.Second
	pollErrorWait      = 5 * time.Second
)

// Client calls the Telegram Bot API.
type Client struct {
	// Token is the bot token.
	Token string
	// BaseURL overrides the Bot API endpoint. Defaults to
	// https://api.telegram.org.
	BaseURL string
	// HTTPClient is used for requests. getUpdates needs a client with a
	// timeout longer than PollTimeout.
	HTTPClient *http.Client
	// PollTimeout is the long polling timeout. Defaults to DefaultPollTimeout.
	PollTimeout time.Duration
	// Logger is used by Poll. If nil, slog.Default is used.
	Logger *slog.Logger
}

// User is a Telegram user or bot.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// Chat is a Telegram chat.
type Chat struct {
	ID int64 `json:"id"`
}

// Message is a Telegram message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text,omitempty"`
}

// CallbackQuery is a press of an inline keyboard button.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// Update is an incoming update.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// Button is an inline keyboard button carrying callback data.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type replyMarkup struct {
	InlineKeyboard [][]Button `json:"inline_keyboard"`
}

type response[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	Description string `json:"description"`
}

// APIError is an error reported by the Bot API in a successful HTTP response.
type APIError struct {
	Method      string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s: %s", e.Method, e.Description)
}

func call[T any](ctx context.Context, c *Client, httpc *http.Client, method string, args any) (T, error) {
	var scrubber *strings.Replacer
	if c.Token != "" {
		scrubber = strings.NewReplacer(c.Token, "[EXPUNGED]")
	}
	resp, err := request.Make[response[T]](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        cmp.Or(c.BaseURL, tgAPI) + "/bot" + c.Token + "/" + method,
		Body:       args,
		HTTPClient: cmp.Or(httpc, c.HTTPClient),
		Scrubber:   scrubber,
	})
	if err != nil {
		return resp.Result, err
	}
	if !resp.OK {
		return resp.Result, &APIError{Method: method, Description: resp.Description}
	}
	return resp.Result, nil
}

var pollClient = &http.Client{Timeout: DefaultPollTimeout + 15*time.Second}

// GetUpdates long-polls for updates starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	timeout := cmp.Or(c.PollTimeout, DefaultPollTimeout)
	httpc := c.HTTPClient
	if httpc == nil {
		httpc = pollClient
		if timeout > DefaultPollTimeout {
			httpc = &http.Client{Timeout: timeout + 15*time.Second}
		}
	}
	return call[[]Update](ctx, c, httpc, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout / time.Second),
		"allowed_updates": []string{"message", "callback_query"},
	})
}

// SendMessage sends plain text to chatID. keyboard may be nil.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, keyboard [][]Button) (*Message, error) {
	args := map[string]any{
		"chat_id": chatID,
		"text":    text,
		"link_preview_options": map[string]bool{
			"is_disabled": true,
		},
	}
	if len(keyboard) > 0 {
		args["reply_markup"] = replyMarkup{InlineKeyboard: keyboard}
	}
	return call[*Message](ctx, c, nil, "sendMessage", args)
}

// EditMessageText replaces the text of a message and removes its keyboard.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	_, err := call[json.RawMessage](ctx, c, nil, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
		"link_preview_options": map[string]bool{
			"is_disabled": true,
		},
	})
	return err
}

// AnswerCallbackQuery acknowledges a button press. text is shown as a toast
// if not empty.
func (c *Client) AnswerCallbackQuery(ctx context.Context, id, text string) error {
	args := map[string]any{"callback_query_id": id}
	if text != "" {
		args["text"] = text
	}
	_, err := call[bool](ctx, c, nil, "answerCallbackQuery", args)
	return err
}

// Poll calls handle for every update in arrival order until ctx is done.
// Handlers run one at a time. Failed polls are logged and repeated after a
// pause.
func (c *Client) Poll(ctx context.Context, handle func(context.Context, Update)) error {
	logger := cmp.Or(c.Logger, slog.Default())

	var offset int64
	for {
		updates, err := c.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("polling updates", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollErrorWait):
			}
			continue
		}

		for _, u := range updates {
			offset = max(offset, u.UpdateID+1)
			handle(ctx, u)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// IsNotModified reports whether err is Telegram refusing an edit that doesn't
// change the message.
func IsNotModified(err error) bool {
	var se *request.StatusError
	if errors.As(err, &se) {
		return strings.Contains(string(se.Body), "message is not modified")
	}
	var ae *APIError
	return errors.As(err, &ae) && strings.Contains(ae.Description, "message is not modified")
}
