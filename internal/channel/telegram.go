// ABOUTME: Telegram channel adapter built on the Bot API long-polling client
// ABOUTME: Maps private chats to tg_<chatID> contact ids and classifies media

package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramChannelID  = "telegram"
	telegramPollPeriod = 30 // long-poll timeout in seconds
	telegramMaxMsgLen  = 4000
)

// TelegramConfig configures the Telegram adapter.
type TelegramConfig struct {
	Token  string
	Logger *slog.Logger
}

// TelegramChannel is the Channel implementation for Telegram bots.
// Contact ids are "tg_<chatID>". Only private chats are surfaced; group
// and channel traffic is dropped at the adapter boundary. Telegram bots
// never receive their own outbound messages, so the from-me pathway is
// inert for this adapter.
type TelegramChannel struct {
	*Hub

	token  string
	logger *slog.Logger

	bot    *tgbotapi.BotAPI
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTelegramChannel creates a disconnected Telegram adapter.
func NewTelegramChannel(cfg TelegramConfig) *TelegramChannel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramChannel{
		Hub:    NewHub(),
		token:  cfg.Token,
		logger: logger.With("component", "telegram"),
	}
}

func (t *TelegramChannel) ID() string          { return telegramChannelID }
func (t *TelegramChannel) DisplayName() string { return "Telegram" }
func (t *TelegramChannel) Icon() string        { return "✈️" }

// Connect authenticates the bot and starts the update polling loop.
func (t *TelegramChannel) Connect(ctx context.Context) error {
	if t.IsConnected() {
		return nil
	}
	t.setStatus(StatusConnecting)

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		t.setStatus(StatusError)
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot

	pollCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollPeriod
	updates := bot.GetUpdatesChan(u)

	go t.poll(pollCtx, updates)

	t.logger.Info("telegram connected", "username", bot.Self.UserName, "id", bot.Self.ID)
	t.setStatus(StatusConnected)
	return nil
}

// Disconnect stops polling and transitions to disconnected.
func (t *TelegramChannel) Disconnect(ctx context.Context) error {
	if !t.IsConnected() {
		return nil
	}
	t.cancel()
	t.bot.StopReceivingUpdates()
	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	t.setStatus(StatusDisconnected)
	t.logger.Info("telegram disconnected")
	return nil
}

func (t *TelegramChannel) poll(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.handleUpdate(update)
		}
	}
}

func (t *TelegramChannel) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	if !msg.Chat.IsPrivate() {
		t.logger.Debug("dropping non-private chat message", "chat_id", msg.Chat.ID)
		return
	}

	contactID := telegramContactID(msg.Chat.ID)
	mediaType := telegramMediaType(msg)
	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	if content == "" && mediaType == "" {
		return
	}

	out := &Message{
		ID:        strconv.Itoa(msg.MessageID),
		ChannelID: telegramChannelID,
		ContactID: contactID,
		Content:   content,
		Timestamp: time.Unix(int64(msg.Date), 0),
		MediaType: mediaType,
		Metadata: map[string]string{
			"username":  msg.From.UserName,
			"firstName": msg.From.FirstName,
		},
	}
	if msg.ReplyToMessage != nil {
		out.ReplyTo = strconv.Itoa(msg.ReplyToMessage.MessageID)
	}
	t.dispatchMessage(out)
}

// SendMessage sends text to a contact, chunking at the Telegram limit.
func (t *TelegramChannel) SendMessage(ctx context.Context, contactID, content string) (*SendResult, error) {
	if !t.IsConnected() {
		return nil, ErrNotConnected
	}
	chatID, err := telegramChatID(contactID)
	if err != nil {
		return nil, err
	}

	var firstID int
	for i, chunk := range chunkText(content, telegramMaxMsgLen) {
		sent, err := t.bot.Send(tgbotapi.NewMessage(chatID, chunk))
		if err != nil {
			return &SendResult{Sent: false, Error: err.Error()}, fmt.Errorf("telegram send: %w", err)
		}
		if i == 0 {
			firstID = sent.MessageID
		}
	}
	return &SendResult{MessageID: strconv.Itoa(firstID), Sent: true}, nil
}

// SendTyping shows the typing action. Telegram keeps it visible for a few
// seconds per request; longer durations are re-sent by the caller.
func (t *TelegramChannel) SendTyping(ctx context.Context, contactID string, duration time.Duration) error {
	if !t.IsConnected() {
		return ErrNotConnected
	}
	chatID, err := telegramChatID(contactID)
	if err != nil {
		return err
	}
	if _, err := t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("telegram typing: %w", err)
	}
	return nil
}

// Contacts is unsupported: the Bot API exposes no roster. Known chats
// surface through inbound messages instead.
func (t *TelegramChannel) Contacts(ctx context.Context) ([]*Contact, error) {
	return []*Contact{}, nil
}

// Contact resolves a chat id to its current profile.
func (t *TelegramChannel) Contact(ctx context.Context, id string) (*Contact, error) {
	if !t.IsConnected() {
		return nil, ErrNotConnected
	}
	chatID, err := telegramChatID(id)
	if err != nil {
		return nil, err
	}
	chat, err := t.bot.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram get chat: %w", err)
	}
	name := strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	if name == "" {
		name = chat.UserName
	}
	return &Contact{ID: id, ChannelID: telegramChannelID, DisplayName: name}, nil
}

// NormalizeContactID always reports not-ok: Telegram does not expose
// phone numbers to bots, so cross-channel identity is unavailable here.
func (t *TelegramChannel) NormalizeContactID(id string) (string, bool) {
	return "", false
}

func telegramContactID(chatID int64) string {
	return "tg_" + strconv.FormatInt(chatID, 10)
}

func telegramChatID(contactID string) (int64, error) {
	raw, ok := strings.CutPrefix(contactID, "tg_")
	if !ok {
		return 0, fmt.Errorf("contact %q is not a telegram id", contactID)
	}
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("contact %q: invalid chat id: %w", contactID, err)
	}
	return chatID, nil
}

func telegramMediaType(msg *tgbotapi.Message) string {
	switch {
	case len(msg.Photo) > 0:
		return MediaImage
	case msg.Voice != nil, msg.Audio != nil:
		return MediaAudio
	case msg.Video != nil, msg.VideoNote != nil:
		return MediaVideo
	case msg.Sticker != nil:
		return MediaSticker
	case msg.Document != nil:
		return MediaDocument
	}
	return ""
}

// chunkText splits text at newline boundaries where possible, hard at
// maxLen runes otherwise. Cutting by runes keeps multi-byte characters
// intact across chunk edges.
func chunkText(text string, maxLen int) []string {
	if text == "" {
		return []string{""}
	}
	var chunks []string
	runes := []rune(text)
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}
		cutAt := maxLen
		for i := maxLen - 1; i >= maxLen/2; i-- {
			if runes[i] == '\n' {
				cutAt = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cutAt]))
		runes = runes[cutAt:]
		if len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}
	return chunks
}

var _ Channel = (*TelegramChannel)(nil)
