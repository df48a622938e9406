// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package bot implements the Telegram conversation: it previews the next
// article and publishes or discards it when the operator presses a button.
package bot

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.backpr.com/webtomed/cmd/webtomed/internal/article"
	"go.backpr.com/webtomed/cmd/webtomed/internal/feed"
	"go.backpr.com/webtomed/cmd/webtomed/internal/format"
	"go.backpr.com/webtomed/cmd/webtomed/internal/mirror"
	"go.backpr.com/webtomed/cmd/webtomed/internal/publish"
	"go.backpr.com/webtomed/cmd/webtomed/internal/telegram"

	"github.com/google/uuid"
)

// Messages sent by the bot.
const (
	StartedText   = "Bot started ✅"
	NoArticleText = "📭 No new articles to publish."
	ReadyPrefix   = "🚀 New Article Ready:\n\n"
	CancelledText = "❌ Publishing cancelled."
	ExpiredText   = "⌛ This draft is no longer available. Send /post to fetch it again."
	PublishLabel  = "✅ Publish"
	CancelLabel   = "❌ Cancel"

	helpText = `/post - preview the next unpublished article
/start - check that the bot is alive
/help - show this message`
)

// Action is what an inline button asks the bot to do with a draft.
type Action string

// Known actions.
const (
	ActionPublish Action = "publish"
	ActionCancel  Action = "cancel"
)

// callbackData encodes an action on the draft with token.
func callbackData(a Action, token string) string { return string(a) + ":" + token }

func parseCallbackData(s string) (Action, string, bool) {
	a, token, ok := strings.Cut(s, ":")
	return Action(a), token, ok && token != ""
}

// Telegram is the subset of the Bot API the bot uses.
type Telegram interface {
	Poll(ctx context.Context, handle func(context.Context, telegram.Update)) error
	SendMessage(ctx context.Context, chatID int64, text string, keyboard [][]telegram.Button) (*telegram.Message, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string) error
	AnswerCallbackQuery(ctx context.Context, id, text string) error
}

// Fetcher returns the next unpublished draft, or nil if there is none.
type Fetcher interface {
	Next(ctx context.Context) (*article.Draft, error)
}

// Publisher proposes a draft to the repository.
type Publisher interface {
	Publish(ctx context.Context, d *article.Draft) (*publish.Result, error)
}

// Mirror posts a draft to the mirror platform.
type Mirror interface {
	Publish(ctx context.Context, title, markdown string) (*mirror.Result, error)
}

// Opts configures a Bot.
type Opts struct {
	// ChatID is where previews are sent.
	ChatID int64
	// OwnerID, if not zero, is the only user allowed to talk to the bot.
	OwnerID   int64
	Telegram  Telegram
	Fetcher   Fetcher
	Publisher Publisher
	// Mirror is optional.
	Mirror Mirror
	Logger *slog.Logger
	// NewToken generates draft tokens. Defaults to uuid.NewString.
	NewToken func() string
}

type pending struct {
	draft     *article.Draft
	chatID    int64
	messageID int64
}

// Bot is the conversation state. Drafts waiting for a decision live in
// memory only and are lost on restart.
type Bot struct {
	opts    Opts
	logger  *slog.Logger
	actions map[Action]func(context.Context, *telegram.CallbackQuery, *pending)

	mu      sync.Mutex
	pending map[string]*pending
}

// New returns a Bot.
func New(opts Opts) *Bot {
	if opts.NewToken == nil {
		opts.NewToken = uuid.NewString
	}
	b := &Bot{
		opts:    opts,
		logger:  cmp.Or(opts.Logger, slog.Default()),
		pending: make(map[string]*pending),
	}
	b.actions = map[Action]func(context.Context, *telegram.CallbackQuery, *pending){
		ActionPublish: b.publish,
		ActionCancel:  b.cancel,
	}
	return b
}

// Run polls Telegram and handles updates until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("polling for updates", "chat_id", b.opts.ChatID)
	return b.opts.Telegram.Poll(ctx, b.Handle)
}

// Handle processes a single update.
func (b *Bot) Handle(ctx context.Context, u telegram.Update) {
	switch {
	case u.Message != nil:
		b.handleMessage(ctx, u.Message)
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	}
}

func (b *Bot) allowed(u *telegram.User) bool {
	return b.opts.OwnerID == 0 || (u != nil && u.ID == b.opts.OwnerID)
}

func (b *Bot) send(ctx context.Context, chatID int64, text string, keyboard [][]telegram.Button) *telegram.Message {
	msg, err := b.opts.Telegram.SendMessage(ctx, chatID, text, keyboard)
	if err != nil {
		b.logger.Error("sending message", "chat_id", chatID, "error", err)
		return nil
	}
	return msg
}

func (b *Bot) edit(ctx context.Context, chatID, messageID int64, text string) {
	err := b.opts.Telegram.EditMessageText(ctx, chatID, messageID, text)
	if err != nil && !telegram.IsNotModified(err) {
		b.logger.Error("editing message", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) {
	cmd, _, _ := strings.Cut(strings.TrimSpace(msg.Text), " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	if !strings.HasPrefix(cmd, "/") {
		return
	}
	if !b.allowed(msg.From) {
		b.logger.Warn("ignoring command from a stranger", "command", cmd, "chat_id", msg.Chat.ID)
		return
	}

	switch cmd {
	case "/start":
		b.send(ctx, msg.Chat.ID, StartedText, nil)
	case "/help":
		b.send(ctx, msg.Chat.ID, helpText, nil)
	case "/post":
		b.post(ctx, msg.Chat.ID)
	default:
		b.send(ctx, msg.Chat.ID, "Unknown command. Send /help for the list.", nil)
	}
}

func (b *Bot) post(ctx context.Context, replyTo int64) {
	d, err := b.opts.Fetcher.Next(ctx)
	if errors.Is(err, feed.ErrUnavailable) {
		b.logger.Warn("feed unavailable", "error", err)
		err = nil
	}
	if err != nil {
		b.logger.Error("fetching next article", "error", err)
		b.send(ctx, replyTo, "⚠️ Fetching the next article failed: "+err.Error(), nil)
		return
	}
	if d == nil {
		b.send(ctx, replyTo, NoArticleText, nil)
		return
	}

	token := b.opts.NewToken()
	msg := b.send(ctx, b.opts.ChatID, ReadyPrefix+format.Preview(d), [][]telegram.Button{{
		{Text: PublishLabel, CallbackData: callbackData(ActionPublish, token)},
		{Text: CancelLabel, CallbackData: callbackData(ActionCancel, token)},
	}})
	if msg == nil {
		return
	}

	b.mu.Lock()
	b.pending[token] = &pending{draft: d, chatID: msg.Chat.ID, messageID: msg.MessageID}
	b.mu.Unlock()
	b.logger.Info("awaiting confirmation", "link", d.Link, "token", token)
}

// take removes and returns the pending draft for token.
func (b *Bot) take(token string) *pending {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.pending[token]
	delete(b.pending, token)
	return p
}

func (b *Bot) answer(ctx context.Context, q *telegram.CallbackQuery, text string) {
	if err := b.opts.Telegram.AnswerCallbackQuery(ctx, q.ID, text); err != nil {
		b.logger.Warn("answering callback query", "error", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, q *telegram.CallbackQuery) {
	if !b.allowed(&q.From) {
		b.answer(ctx, q, "You are not allowed to do this.")
		return
	}

	action, token, ok := parseCallbackData(q.Data)
	handle, known := b.actions[action]
	if !ok || !known {
		b.answer(ctx, q, "Unknown action.")
		return
	}

	p := b.take(token)
	if p == nil {
		b.answer(ctx, q, "This draft has expired.")
		if q.Message != nil {
			b.edit(ctx, q.Message.Chat.ID, q.Message.MessageID, ExpiredText)
		}
		return
	}
	if q.Message != nil {
		p.chatID, p.messageID = q.Message.Chat.ID, q.Message.MessageID
	}
	handle(ctx, q, p)
}

func (b *Bot) cancel(ctx context.Context, q *telegram.CallbackQuery, p *pending) {
	b.answer(ctx, q, "")
	b.edit(ctx, p.chatID, p.messageID, CancelledText)
	b.logger.Info("cancelled", "link", p.draft.Link)
}

func (b *Bot) publish(ctx context.Context, q *telegram.CallbackQuery, p *pending) {
	b.answer(ctx, q, "Publishing…")
	b.edit(ctx, p.chatID, p.messageID, b.report(ctx, p.draft))
}

// report publishes d and describes the outcome.
func (b *Bot) report(ctx context.Context, d *article.Draft) string {
	res, err := b.opts.Publisher.Publish(ctx, d)
	if err != nil {
		b.logger.Error("publishing", "link", d.Link, "error", err)
		text := "❌ Publishing failed: " + err.Error()
		if res != nil && res.PullRequest != nil {
			text = "✅ Pull Request created: " + res.PullRequest.HTMLURL + "\n" + text
		}
		return text
	}

	if res.DryRun {
		return fmt.Sprintf("🧪 Dry run: would commit %s to branch %s.", res.Path, res.Branch)
	}

	lines := []string{"✅ Pull Request created: " + res.PullRequest.HTMLURL}
	if res.Merged {
		lines = append(lines, "🔀 Merged.")
	}

	if b.opts.Mirror != nil {
		m, err := b.opts.Mirror.Publish(ctx, d.Title, format.Preview(d))
		switch {
		case err != nil:
			b.logger.Warn("mirroring", "link", d.Link, "error", err)
			lines = append(lines, "⚠️ Mirror publishing failed: "+err.Error())
		case m.URL != "":
			lines = append(lines, "🌐 Mirrored: "+m.URL)
		default:
			lines = append(lines, "🌐 Mirrored.")
		}
	}

	return strings.Join(lines, "\n")
}
