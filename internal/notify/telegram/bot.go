// Package telegram implements the staff chat transport over the Telegram Bot
// API. A Bot is process scoped: it is created once at startup, receives
// updates by long polling or through a webhook, and is stopped on shutdown.
//
// Each private chat with the bot is one staff session; its chat id is the
// transport session id.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-loyalty-backend/internal/notify"
)

// Modes of receiving updates.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// Handler is what the bot forwards inbound interactions to.
type Handler interface {
	HandleCallback(ctx context.Context, sessionID, token string) (string, error)
	HandleCommand(ctx context.Context, sessionID, command, args string) (notify.Reply, error)
}

// Options configures a Bot.
type Options struct {
	Mode        string
	WebhookURL  string
	PollTimeout int

	// Endpoint overrides the API endpoint format (tgbotapi.APIEndpoint).
	Endpoint string
	Client   tgbotapi.HTTPClient
}

// Bot is a notify.Transport backed by a Telegram bot.
type Bot struct {
	api  *tgbotapi.BotAPI
	opts Options

	mu      sync.RWMutex
	handler Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ notify.Transport = (*Bot)(nil)

// New authenticates token against the API and returns a stopped Bot.
func New(token string, opts Options) (*Bot, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram: empty token")
	}
	if opts.Mode == "" {
		opts.Mode = ModePolling
	}
	if opts.Mode != ModePolling && opts.Mode != ModeWebhook {
		return nil, fmt.Errorf("telegram: unknown mode %q", opts.Mode)
	}
	if opts.Mode == ModeWebhook && opts.WebhookURL == "" {
		return nil, errors.New("telegram: webhook mode needs a webhook url")
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30
	}
	if opts.Endpoint == "" {
		opts.Endpoint = tgbotapi.APIEndpoint
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}

	_ = tgbotapi.SetLogger(zlog{})
	api, err := tgbotapi.NewBotAPIWithClient(token, opts.Endpoint, opts.Client)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	log.Info().Str("bot", api.Self.UserName).Str("mode", opts.Mode).Msg("telegram bot authorised")
	return &Bot{api: api, opts: opts}, nil
}

// SetHandler installs the inbound handler. Updates arriving before a handler
// is set are dropped.
func (b *Bot) SetHandler(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

func (b *Bot) currentHandler() Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.handler
}

// Send implements notify.Transport.
func (b *Bot) Send(ctx context.Context, sessionID, text string, actions []notify.Action) (notify.MessageRef, error) {
	chatID, err := strconv.ParseInt(sessionID, 10, 64)
	if err != nil {
		return notify.MessageRef{}, fmt.Errorf("%w: bad chat id %q", notify.ErrTransportFailure, sessionID)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if len(actions) > 0 {
		msg.ReplyMarkup = keyboard(actions)
	}
	sent, err := b.do(ctx, func() (tgbotapi.Message, error) { return b.api.Send(msg) })
	if err != nil {
		return notify.MessageRef{}, err
	}
	return notify.MessageRef{SessionID: sessionID, MessageID: strconv.Itoa(sent.MessageID)}, nil
}

// Edit implements notify.Transport. Editing to identical content succeeds.
func (b *Bot) Edit(ctx context.Context, ref notify.MessageRef, text string, actions []notify.Action) error {
	chatID, err := strconv.ParseInt(ref.SessionID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad chat id %q", notify.ErrTransportFailure, ref.SessionID)
	}
	msgID, err := strconv.Atoi(ref.MessageID)
	if err != nil {
		return fmt.Errorf("%w: bad message id %q", notify.ErrTransportFailure, ref.MessageID)
	}
	var cfg tgbotapi.Chattable
	if len(actions) > 0 {
		cfg = tgbotapi.NewEditMessageTextAndMarkup(chatID, msgID, text, keyboard(actions))
	} else {
		cfg = tgbotapi.NewEditMessageText(chatID, msgID, text)
	}
	_, err = b.do(ctx, func() (tgbotapi.Message, error) {
		_, err := b.api.Request(cfg)
		return tgbotapi.Message{}, err
	})
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	return err
}

// do runs an API call, giving up when ctx ends first. The library has no
// context support, so an abandoned call finishes in the background.
func (b *Bot) do(ctx context.Context, call func() (tgbotapi.Message, error)) (tgbotapi.Message, error) {
	type result struct {
		msg tgbotapi.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := call()
		ch <- result{m, err}
	}()
	select {
	case <-ctx.Done():
		return tgbotapi.Message{}, fmt.Errorf("%w: %w", notify.ErrTransportFailure, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return tgbotapi.Message{}, fmt.Errorf("%w: %w", notify.ErrTransportFailure, r.err)
		}
		return r.msg, nil
	}
}

func keyboard(actions []notify.Action) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(actions))
	for _, a := range actions {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(a.Label, a.Token))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

// Start begins receiving updates. In polling mode it spawns the long-poll
// loop; in webhook mode it registers WebhookURL with Telegram and updates
// arrive through ServeHTTP.
func (b *Bot) Start(ctx context.Context) error {
	if b.opts.Mode == ModeWebhook {
		wh, err := tgbotapi.NewWebhook(b.opts.WebhookURL)
		if err != nil {
			return fmt.Errorf("telegram: webhook: %w", err)
		}
		if _, err := b.api.Request(wh); err != nil {
			return fmt.Errorf("telegram: set webhook: %w", err)
		}
		log.Info().Str("url", b.opts.WebhookURL).Msg("telegram webhook registered")
		return nil
	}

	// polling and webhooks are mutually exclusive on the API side
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		log.Warn().Err(err).Msg("telegram: delete webhook failed")
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.opts.PollTimeout
	updates := b.api.GetUpdatesChan(u)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case up, ok := <-updates:
				if !ok {
					return
				}
				b.HandleUpdate(ctx, up)
			}
		}
	}()
	return nil
}

// Stop ends polling and waits for the in-flight update to finish.
func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
		b.api.StopReceivingUpdates()
	}
	b.wg.Wait()
}

// ServeHTTP accepts webhook deliveries.
func (b *Bot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up, err := b.api.HandleUpdate(r)
	if err != nil {
		log.Warn().Err(err).Msg("telegram: bad webhook payload")
		http.Error(w, "bad update", http.StatusBadRequest)
		return
	}
	b.HandleUpdate(r.Context(), *up)
	w.WriteHeader(http.StatusOK)
}

// HandleUpdate dispatches one update to the handler and answers it.
func (b *Bot) HandleUpdate(ctx context.Context, up tgbotapi.Update) {
	h := b.currentHandler()
	if h == nil {
		return
	}
	switch {
	case up.CallbackQuery != nil:
		cq := up.CallbackQuery
		if cq.Message == nil || cq.Message.Chat == nil {
			return
		}
		sessionID := strconv.FormatInt(cq.Message.Chat.ID, 10)
		toast, err := h.HandleCallback(ctx, sessionID, cq.Data)
		if err != nil {
			log.Debug().Err(err).Str("session_id", sessionID).Msg("telegram callback rejected")
		}
		if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, toast)); err != nil {
			log.Warn().Err(err).Msg("telegram: answer callback failed")
		}

	case up.Message != nil && up.Message.IsCommand() && up.Message.Chat != nil:
		m := up.Message
		sessionID := strconv.FormatInt(m.Chat.ID, 10)
		reply, err := h.HandleCommand(ctx, sessionID, m.Command(), m.CommandArguments())
		if err != nil {
			log.Debug().Err(err).Str("session_id", sessionID).Str("command", m.Command()).Msg("telegram command rejected")
		}
		if reply.Text == "" {
			return
		}
		if _, err := b.Send(ctx, sessionID, reply.Text, reply.Actions); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("telegram: command reply failed")
		}
	}
}

// zlog routes the library's logging into zerolog.
type zlog struct{}

func (zlog) Println(v ...interface{}) {
	log.Debug().Str("component", "telegram").Msg(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (zlog) Printf(format string, v ...interface{}) {
	log.Debug().Str("component", "telegram").Msgf(format, v...)
}
