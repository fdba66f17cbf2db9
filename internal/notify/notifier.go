package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
	Confirm(ctx context.Context, prompt string, timeout time.Duration) bool
}

// Commands answers the chat commands. Each method returns the reply text.
type Commands interface {
	PositionsText(ctx context.Context) string
	QuotaText() string
	CloseAllText(ctx context.Context) string
}

// Telegram is a passive notifier plus /positions, /quota and /closeall.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
	log    *zap.Logger

	mu       sync.Mutex
	cmds     Commands
	pendings map[string]*pending
}

type pending struct {
	ch     chan bool
	msgID  int
	prompt string
}

func NewTelegram(token string, chatID int64, log *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:      b,
		chatID:   chatID,
		log:      log,
		pendings: make(map[string]*pending),
	}, nil
}

func (t *Telegram) SetCommands(c Commands) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cmds = c
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		t.log.Warn("telegram send", zap.Error(err))
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// HandleCallback resolves a pending Confirm from an inline button press.
func (t *Telegram) HandleCallback(cb *tgbot.CallbackQuery) {
	if t == nil || t.bot == nil || cb == nil {
		return
	}

	// stops the button spinner
	_, _ = t.bot.Request(tgbot.NewCallback(cb.ID, ""))

	verb, token, ok := splitCallback(cb.Data)
	if !ok {
		return
	}

	t.mu.Lock()
	p, ok := t.pendings[token]
	delete(t.pendings, token)
	t.mu.Unlock()
	if !ok {
		return
	}

	accepted := verb == "CONF"
	p.ch <- accepted

	status := "❌ Cancelled"
	if accepted {
		status = "✅ Confirmed"
	}
	_ = t.editReplyMarkupRemove(t.chatID, p.msgID)
	_ = t.editText(t.chatID, p.msgID, fmt.Sprintf("%s\n\n%s", p.prompt, status))
}

// splitCallback parses "CONF::token" / "REJ::token".
func splitCallback(data string) (verb, token string, ok bool) {
	for i := 0; i+1 < len(data); i++ {
		if data[i] == ':' && data[i+1] == ':' {
			verb, token = data[:i], data[i+2:]
			return verb, token, verb != "" && token != ""
		}
	}
	return "", "", false
}

func (t *Telegram) editReplyMarkupRemove(chatID int64, msgID int) error {
	rm := tgbot.InlineKeyboardMarkup{InlineKeyboard: [][]tgbot.InlineKeyboardButton{}}
	edit := tgbot.NewEditMessageReplyMarkup(chatID, msgID, rm)
	_, err := t.bot.Request(edit)
	return err
}

func (t *Telegram) editText(chatID int64, msgID int, text string) error {
	edit := tgbot.NewEditMessageText(chatID, msgID, text)
	_, err := t.bot.Request(edit)
	return err
}

// Confirm sends prompt with yes/no buttons and waits for an answer. Timeout
// and cancellation count as no.
func (t *Telegram) Confirm(ctx context.Context, prompt string, timeout time.Duration) bool {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return true
	}

	token := uuid.NewString()
	p := &pending{
		ch:     make(chan bool, 1),
		prompt: prompt,
	}

	btnYes := tgbot.NewInlineKeyboardButtonData("✅ Confirm", "CONF::"+token)
	btnNo := tgbot.NewInlineKeyboardButtonData("❌ Cancel", "REJ::"+token)
	kb := tgbot.NewInlineKeyboardMarkup(tgbot.NewInlineKeyboardRow(btnYes, btnNo))

	msg := tgbot.NewMessage(t.chatID, prompt)
	msg.ReplyMarkup = kb

	sent, err := t.bot.Send(msg)
	if err != nil {
		t.log.Warn("telegram confirm", zap.Error(err))
		return false
	}
	p.msgID = sent.MessageID

	t.mu.Lock()
	t.pendings[token] = p
	t.mu.Unlock()

	tmr := time.NewTimer(timeout)
	defer tmr.Stop()

	select {
	case ok := <-p.ch:
		return ok
	case <-tmr.C:
		t.expire(token, p, "⏳ Timed out")
		return false
	case <-ctx.Done():
		t.expire(token, p, "⛔️ Cancelled")
		return false
	}
}

func (t *Telegram) expire(token string, p *pending, status string) {
	t.mu.Lock()
	delete(t.pendings, token)
	t.mu.Unlock()
	_ = t.editReplyMarkupRemove(t.chatID, p.msgID)
	_ = t.editText(t.chatID, p.msgID, fmt.Sprintf("%s\n\n%s", p.prompt, status))
}

func (t *Telegram) handleCommand(ctx context.Context, cmd string) {
	t.mu.Lock()
	c := t.cmds
	t.mu.Unlock()
	if c == nil {
		t.Send("Workspace is not open")
		return
	}

	switch cmd {
	case "positions":
		t.Send(c.PositionsText(ctx))
	case "quota":
		t.Send(c.QuotaText())
	case "closeall":
		if !t.Confirm(ctx, "Close all open positions?", time.Minute) {
			return
		}
		t.Send(c.CloseAllText(ctx))
	}
}

// Start long-polls messages and callback queries until ctx is done.
func (t *Telegram) Start(ctx context.Context) error {
	if t == nil || t.bot == nil {
		return nil
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "callback_query"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd := <-updates:
				if upd.CallbackQuery != nil {
					t.HandleCallback(upd.CallbackQuery)
				}
				if upd.Message != nil && upd.Message.Chat != nil &&
					upd.Message.Chat.ID == t.chatID && upd.Message.IsCommand() {
					go t.handleCommand(ctx, upd.Message.Command())
				}
			}
		}
	}()
	return nil
}

func (t *Telegram) Stop() {
	if t == nil || t.bot == nil {
		return
	}
	t.bot.StopReceivingUpdates()
}

// Stdout logs every message and confirms everything.
type Stdout struct {
	log *zap.Logger
}

func NewStdout(log *zap.Logger) *Stdout            { return &Stdout{log: log} }
func (s *Stdout) Send(msg string)                  { s.log.Info(msg) }
func (s *Stdout) Sendf(format string, args ...any) { s.log.Info(fmt.Sprintf(format, args...)) }
func (s *Stdout) Confirm(ctx context.Context, prompt string, timeout time.Duration) bool {
	s.log.Info("confirm (auto-yes)", zap.String("prompt", prompt))
	return true
}
