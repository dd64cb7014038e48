// Package bot содержит цикл long polling и демонстрационный обработчик обновлений.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tgbot-facade/internal/markup"
	"tgbot-facade/internal/telegram"
)

const (
	startCommand = "start"
	permsCommand = "perms"
	idCommand    = "id"
)

// ReplyFunc отправляет ответ на обновление: обычным вызовом API при long polling
// или быстрым ответом в теле HTTP-ответа при webhook.
type ReplyFunc func(ctx context.Context, method string, params telegram.Params) error

// Handler обрабатывает одно обновление.
type Handler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update, reply ReplyFunc) error
}

// HandlerFunc позволяет использовать обычную функцию как Handler.
type HandlerFunc func(ctx context.Context, update tgbotapi.Update, reply ReplyFunc) error

func (f HandlerFunc) HandleUpdate(ctx context.Context, update tgbotapi.Update, reply ReplyFunc) error {
	return f(ctx, update, reply)
}

// PermissionsSource возвращает права бота в чате.
type PermissionsSource interface {
	GetPermissions(ctx context.Context, chatID int64) (telegram.PermissionSet, error)
}

// CommandHandler отвечает на /start, /perms, /id и повторяет остальные
// текстовые сообщения с восстановленной разметкой.
type CommandHandler struct {
	perms  PermissionsSource
	logger *slog.Logger
}

// NewCommandHandler создает обработчик команд.
func NewCommandHandler(perms PermissionsSource, logger *slog.Logger) *CommandHandler {
	return &CommandHandler{perms: perms, logger: logger}
}

// HandleUpdate обрабатывает входящее сообщение. Остальные типы обновлений игнорируются.
func (h *CommandHandler) HandleUpdate(ctx context.Context, update tgbotapi.Update, reply ReplyFunc) error {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return nil
	}

	if msg.IsCommand() {
		return h.handleCommand(ctx, msg, reply)
	}

	if msg.Text == "" {
		return nil
	}
	return h.echo(ctx, msg, reply)
}

func (h *CommandHandler) handleCommand(ctx context.Context, msg *tgbotapi.Message, reply ReplyFunc) error {
	chatID := msg.Chat.ID
	logger := h.logger.With(slog.Int64("chat_id", chatID), slog.String("command", msg.Command()))
	logger.Debug("handling command")

	switch msg.Command() {
	case startCommand:
		return sendText(ctx, reply, chatID, "Привет! Я повторяю сообщения с сохранением форматирования.\n\n"+
			"Команды:\n"+
			"• /perms — мои права в этом чате\n"+
			"• /id — идентификаторы чата и отправителя")
	case permsCommand:
		set, err := h.perms.GetPermissions(ctx, chatID)
		if err != nil {
			return fmt.Errorf("get permissions for chat %d: %w", chatID, err)
		}
		return sendText(ctx, reply, chatID, FormatPermissions(set))
	case idCommand:
		text := fmt.Sprintf("chat_id: %d", chatID)
		if msg.From != nil {
			text += fmt.Sprintf("\nuser_id: %d", msg.From.ID)
		}
		return sendText(ctx, reply, chatID, text)
	default:
		return sendText(ctx, reply, chatID, "Я не знаю такой команды.")
	}
}

// echo отправляет текст обратно, восстановив разметку по сущностям.
func (h *CommandHandler) echo(ctx context.Context, msg *tgbotapi.Message, reply ReplyFunc) error {
	text := markup.Reconstruct(msg.Text, markup.FromBotAPI(msg.Entities))
	params := telegram.Params{
		"chat_id":             msg.Chat.ID,
		"text":                text,
		"reply_to_message_id": msg.MessageID,
	}
	if len(msg.Entities) > 0 {
		params["parse_mode"] = "Markdown"
	}
	return reply(ctx, "sendMessage", params)
}

func sendText(ctx context.Context, reply ReplyFunc, chatID int64, text string) error {
	return reply(ctx, "sendMessage", telegram.Params{"chat_id": chatID, "text": text})
}

// FormatPermissions выводит набор прав в читаемом виде.
func FormatPermissions(set telegram.PermissionSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "status: %s\n", set.Status)

	rows := []struct {
		name  string
		value bool
	}{
		{"can_change_info", set.Admin.CanChangeInfo},
		{"can_delete_messages", set.Admin.CanDeleteMessages},
		{"can_invite_users", set.Admin.CanInviteUsers},
		{"can_restrict_members", set.Admin.CanRestrictMembers},
		{"can_pin_messages", set.Admin.CanPinMessages},
		{"can_promote_members", set.Admin.CanPromoteMembers},
		{"can_send_messages", set.Messaging.CanSendMessages},
		{"can_send_media_messages", set.Messaging.CanSendMediaMessages},
		{"can_send_other_messages", set.Messaging.CanSendOtherMessages},
		{"can_add_web_page_previews", set.Messaging.CanAddWebPagePreviews},
	}
	for _, r := range rows {
		mark := "✗"
		if r.value {
			mark = "✓"
		}
		fmt.Fprintf(&b, "%s %s\n", mark, r.name)
	}
	return strings.TrimRight(b.String(), "\n")
}
