package telegram

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"tgbot-facade/internal/markup"
)

// Bot — фасад над Bot API: типизированные обертки над Transport.Call.
type Bot struct {
	cred      Credential
	transport *Transport
	log       *slog.Logger
}

// NewBot проверяет токен и открывает сессию к Bot API.
// Сессию нужно закрыть через Close.
func NewBot(token string, opts ...TransportOption) (*Bot, error) {
	cred, err := ParseToken(token)
	if err != nil {
		return nil, err
	}

	t := NewTransport(cred, opts...)
	return &Bot{
		cred:      cred,
		transport: t,
		log:       t.log.With(slog.String("component", "telegram")),
	}, nil
}

// Call вызывает произвольный метод Bot API.
func (b *Bot) Call(ctx context.Context, method string, params Params) (Result, error) {
	return b.transport.Call(ctx, method, params)
}

// BotID возвращает идентификатор бота из токена.
func (b *Bot) BotID() int64 {
	return b.cred.BotID()
}

// Close освобождает сетевые ресурсы сессии.
func (b *Bot) Close() {
	b.transport.Close()
}

// SendMessage отправляет text в chatID. extras дополняют или переопределяют параметры.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string, extras Params) (Result, error) {
	return b.Call(ctx, "sendMessage", Params{"chat_id": chatID, "text": text}.Merge(extras))
}

// EditMessageText заменяет текст сообщения.
func (b *Bot) EditMessageText(ctx context.Context, chatID, messageID int64, text string, extras Params) (Result, error) {
	return b.Call(ctx, "editMessageText", Params{"chat_id": chatID, "message_id": messageID, "text": text}.Merge(extras))
}

// EditMarkup заменяет только reply_markup сообщения.
func (b *Bot) EditMarkup(ctx context.Context, chatID, messageID int64, replyMarkup any) (Result, error) {
	return b.Call(ctx, "editMessageReplyMarkup", Params{"chat_id": chatID, "message_id": messageID, "reply_markup": replyMarkup})
}

// DeleteMessage удаляет сообщение.
func (b *Bot) DeleteMessage(ctx context.Context, chatID, messageID int64) (Result, error) {
	return b.Call(ctx, "deleteMessage", Params{"chat_id": chatID, "message_id": messageID})
}

// GetChat возвращает сведения о чате.
func (b *Bot) GetChat(ctx context.Context, chatID int64) (Result, error) {
	return b.Call(ctx, "getChat", Params{"chat_id": chatID})
}

// GetChatMember возвращает сырое описание участника чата.
func (b *Bot) GetChatMember(ctx context.Context, chatID, userID int64) (Result, error) {
	return b.Call(ctx, "getChatMember", Params{"chat_id": chatID, "user_id": userID})
}

// CheckAdminPrivs возвращает права бота в чате. В отличие от GetPermissions,
// ошибки вызова не переводятся в статусы и возвращаются как есть.
func (b *Bot) CheckAdminPrivs(ctx context.Context, chatID int64) (PermissionSet, error) {
	raw, err := b.GetChatMember(ctx, chatID, b.BotID())
	if err != nil {
		return PermissionSet{}, err
	}
	return NormalizeMembership(raw, nil)
}

// GetPermissions возвращает полный набор прав бота в чате.
// Запрет доступа (403) дает статус banned, несуществующий чат (400) — invalid.
func (b *Bot) GetPermissions(ctx context.Context, chatID int64) (PermissionSet, error) {
	raw, err := b.GetChatMember(ctx, chatID, b.BotID())
	return NormalizeMembership(raw, err)
}

// EditAdmin выставляет права администратора userID. Невыставленные права — false.
func (b *Bot) EditAdmin(ctx context.Context, chatID, userID int64, perms AdminPermissions) (Result, error) {
	return b.Call(ctx, "promoteChatMember", Params{
		"chat_id":              chatID,
		"user_id":              userID,
		"can_change_info":      perms.CanChangeInfo,
		"can_delete_messages":  perms.CanDeleteMessages,
		"can_invite_users":     perms.CanInviteUsers,
		"can_restrict_members": perms.CanRestrictMembers,
		"can_pin_messages":     perms.CanPinMessages,
		"can_promote_members":  perms.CanPromoteMembers,
	})
}

// Promote выдает все права администратора, кроме изменения информации о чате.
func (b *Bot) Promote(ctx context.Context, chatID, userID int64) (Result, error) {
	return b.EditAdmin(ctx, chatID, userID, AdminPermissions{
		CanDeleteMessages:  true,
		CanInviteUsers:     true,
		CanRestrictMembers: true,
		CanPinMessages:     true,
		CanPromoteMembers:  true,
	})
}

// Mod выдает права модератора: удаление, приглашение и закрепление.
func (b *Bot) Mod(ctx context.Context, chatID, userID int64) (Result, error) {
	return b.EditAdmin(ctx, chatID, userID, AdminPermissions{
		CanDeleteMessages: true,
		CanInviteUsers:    true,
		CanPinMessages:    true,
	})
}

// Demote снимает все права администратора.
func (b *Bot) Demote(ctx context.Context, chatID, userID int64) (Result, error) {
	return b.EditAdmin(ctx, chatID, userID, AdminPermissions{})
}

// Ban блокирует пользователя в чате.
func (b *Bot) Ban(ctx context.Context, chatID, userID int64) (Result, error) {
	return b.Call(ctx, "banChatMember", Params{"chat_id": chatID, "user_id": userID})
}

// Unban снимает блокировку (обратно в чат пользователь не добавляется).
func (b *Bot) Unban(ctx context.Context, chatID, userID int64) (Result, error) {
	return b.Call(ctx, "unbanChatMember", Params{"chat_id": chatID, "user_id": userID, "only_if_banned": true})
}

// ChatInfo — изменения информации о чате. Пустые поля пропускаются.
type ChatInfo struct {
	Title       string
	Description string
	// PhotoPath — путь к локальному файлу. Если файла нет, фото не меняется.
	PhotoPath string
	// DeletePhotoAfterUpload удаляет локальный файл после успешной загрузки.
	DeletePhotoAfterUpload bool
}

// EditInfo меняет название, описание и фото чата. Первая ошибка прерывает обновление.
func (b *Bot) EditInfo(ctx context.Context, chatID int64, info ChatInfo) error {
	if info.Title != "" {
		if _, err := b.Call(ctx, "setChatTitle", Params{"chat_id": chatID, "title": info.Title}); err != nil {
			return fmt.Errorf("edit info: %w", err)
		}
	}

	if info.Description != "" {
		if _, err := b.Call(ctx, "setChatDescription", Params{"chat_id": chatID, "description": info.Description}); err != nil {
			return fmt.Errorf("edit info: %w", err)
		}
	}

	if info.PhotoPath == "" {
		return nil
	}

	if _, err := os.Stat(info.PhotoPath); errors.Is(err, fs.ErrNotExist) {
		b.log.WarnContext(ctx, "chat photo file does not exist, skipping", slog.String("path", info.PhotoPath))
		return nil
	}

	if err := b.uploadChatPhoto(ctx, chatID, info.PhotoPath); err != nil {
		return fmt.Errorf("edit info: %w", err)
	}

	if info.DeletePhotoAfterUpload {
		if err := os.Remove(info.PhotoPath); err != nil {
			b.log.WarnContext(ctx, "failed to remove uploaded chat photo",
				slog.String("path", info.PhotoPath), slog.String("error", err.Error()))
		}
	}
	return nil
}

func (b *Bot) uploadChatPhoto(ctx context.Context, chatID int64, path string) error {
	photo, f, err := FileFromPath(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = b.Call(ctx, "setChatPhoto", Params{"chat_id": chatID, "photo": photo})
	return err
}

// CreateMarkdownFromEntities восстанавливает разметку сообщения по его сущностям,
// например чтобы переслать сообщение от имени бота с исходным форматированием.
func (b *Bot) CreateMarkdownFromEntities(text string, annotations []markup.Annotation) string {
	return markup.Reconstruct(text, annotations)
}

// SendHTMLFromMarkdown переводит обычный Markdown в HTML Bot API и отправляет его.
func (b *Bot) SendHTMLFromMarkdown(ctx context.Context, chatID int64, md string, extras Params) (Result, error) {
	return b.SendMessage(ctx, chatID, markup.MarkdownToHTML(md), Params{"parse_mode": "HTML"}.Merge(extras))
}
