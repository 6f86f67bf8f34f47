package serve

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	warren "github.com/everydev1618/gowarren"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramConnector bridges Telegram long polling to the agent system. It
// implements warren.Connector; channel ids are Telegram chat ids rendered in
// decimal.
type TelegramConnector struct {
	bot     *tgbotapi.BotAPI
	allowed map[int64]bool
	onFatal func(reason string, err error)

	mu        sync.Mutex
	handlers  map[int]func(warren.IncomingMessage)
	decisions map[int]func(warren.PermissionDecision, warren.MessageContext)
	pending   map[int64][]warren.AccessRequest
	nextID    int
	cancel    context.CancelFunc
}

// NewTelegramConnector creates a connector for the given bot token.
// allowedUserIDs restricts who may talk to the bot; empty allows everyone.
func NewTelegramConnector(token string, allowedUserIDs []int64, onFatal func(reason string, err error)) (*TelegramConnector, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	bot.Debug = false

	var allowed map[int64]bool
	if len(allowedUserIDs) > 0 {
		allowed = make(map[int64]bool, len(allowedUserIDs))
		for _, id := range allowedUserIDs {
			allowed[id] = true
		}
	}

	return &TelegramConnector{
		bot:       bot,
		allowed:   allowed,
		onFatal:   onFatal,
		handlers:  make(map[int]func(warren.IncomingMessage)),
		decisions: make(map[int]func(warren.PermissionDecision, warren.MessageContext)),
		pending:   make(map[int64][]warren.AccessRequest),
	}, nil
}

// Name returns the connector's source id.
func (t *TelegramConnector) Name() string { return "telegram" }

// Start runs the long-polling loop until Shutdown.
func (t *TelegramConnector) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	go t.poll(ctx)
	slog.Info("telegram connector started", "bot", t.bot.Self.UserName)
}

func (t *TelegramConnector) poll(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.bot.GetUpdatesChan(u)

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				if ctx.Err() == nil && t.onFatal != nil {
					t.onFatal("update stream closed", nil)
				}
				return
			}
			t.handle(update)
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return
		}
	}
}

// handle converts a Telegram update into an IncomingMessage and fans it out.
func (t *TelegramConnector) handle(update tgbotapi.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	userID := update.Message.From.ID
	if t.allowed != nil && !t.allowed[userID] {
		slog.Warn("telegram: message from unauthorized user", "user_id", userID)
		return
	}

	ctx := warren.MessageContext{
		ChannelID: strconv.FormatInt(update.Message.Chat.ID, 10),
		UserID:    strconv.FormatInt(userID, 10),
		MessageID: strconv.Itoa(update.Message.MessageID),
	}

	text := update.Message.Text
	if text == "/approve" || text == "/deny" {
		if t.resolvePending(update.Message.Chat.ID, text == "/approve", ctx) {
			return
		}
	}

	msg := warren.IncomingMessage{Text: text, Context: ctx}

	t.mu.Lock()
	handlers := make([]func(warren.IncomingMessage), 0, len(t.handlers))
	for _, h := range t.handlers {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

// resolvePending answers the chat's outstanding permission request, if any.
// Returns false when nothing is pending; the command then flows through as an
// ordinary message.
func (t *TelegramConnector) resolvePending(chatID int64, approved bool, ctx warren.MessageContext) bool {
	t.mu.Lock()
	access, ok := t.pending[chatID]
	if ok {
		delete(t.pending, chatID)
	}
	decisions := make([]func(warren.PermissionDecision, warren.MessageContext), 0, len(t.decisions))
	for _, h := range t.decisions {
		decisions = append(decisions, h)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}

	decision := warren.PermissionDecision{Approved: approved, Access: access}
	for _, h := range decisions {
		h(decision, ctx)
	}
	return true
}

// OnPermissionDecision registers a handler for answered permission requests
// and returns its unsubscribe function.
func (t *TelegramConnector) OnPermissionDecision(handler func(warren.PermissionDecision, warren.MessageContext)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	t.decisions[id] = handler

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.decisions, id)
	}
}

// OnMessage registers an inbound handler and returns its unsubscribe
// function.
func (t *TelegramConnector) OnMessage(handler func(warren.IncomingMessage)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	t.handlers[id] = handler

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.handlers, id)
	}
}

// SendMessage delivers a message to a chat. Files are sent as documents
// after the text.
func (t *TelegramConnector) SendMessage(targetID string, msg warren.OutgoingMessage) error {
	chatID, err := strconv.ParseInt(targetID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad chat id %q: %w", targetID, err)
	}

	if msg.Text != "" {
		out := tgbotapi.NewMessage(chatID, msg.Text)
		if msg.ReplyToMessageID != "" {
			if replyID, err := strconv.Atoi(msg.ReplyToMessageID); err == nil {
				out.ReplyToMessageID = replyID
			}
		}
		if _, err := t.bot.Send(out); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}

	for _, file := range msg.Files {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(file))
		if _, err := t.bot.Send(doc); err != nil {
			slog.Warn("telegram: send file failed", "file", file, "error", err)
		}
	}
	return nil
}

// StartTyping shows the typing indicator until the returned stop function is
// called. Telegram expires the indicator after a few seconds, so it is
// re-sent periodically.
func (t *TelegramConnector) StartTyping(targetID string) func() {
	chatID, err := strconv.ParseInt(targetID, 10, 64)
	if err != nil {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(4 * time.Second)
		defer ticker.Stop()

		t.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				t.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// RequestPermission asks the chat to approve the listed access. The request
// is held as the chat's pending decision until the user answers /approve or
// /deny; a newer request replaces an unanswered one.
func (t *TelegramConnector) RequestPermission(targetID string, request []warren.AccessRequest, ctx warren.MessageContext, descriptor warren.AgentDescriptor) error {
	chatID, err := strconv.ParseInt(targetID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad chat id %q: %w", targetID, err)
	}

	t.mu.Lock()
	t.pending[chatID] = request
	t.mu.Unlock()

	var b strings.Builder
	name := descriptor.Name
	if name == "" {
		name = "The agent"
	}
	fmt.Fprintf(&b, "%s requests additional access:\n", name)
	for _, a := range request {
		if a.Path != "" {
			fmt.Fprintf(&b, "  • %s %s\n", a.Kind, a.Path)
		} else {
			fmt.Fprintf(&b, "  • %s\n", a.Kind)
		}
	}
	b.WriteString("Reply /approve or /deny.")

	out := tgbotapi.NewMessage(chatID, b.String())
	if _, err := t.bot.Send(out); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Shutdown stops the polling loop.
func (t *TelegramConnector) Shutdown(reason string) {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	slog.Info("telegram connector stopped", "reason", reason)
}
