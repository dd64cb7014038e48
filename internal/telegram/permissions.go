package telegram

import (
	"errors"
	"fmt"
	"net/http"
)

// Status — отношение бота к чату после нормализации.
type Status string

const (
	StatusAdministrator Status = "administrator"
	StatusRestricted    Status = "restricted"
	StatusMember        Status = "member"
	StatusLeft          Status = "left"
	StatusBanned        Status = "banned"
	StatusInvalid       Status = "invalid"
)

// present сообщает, находится ли бот в чате.
func (s Status) present() bool {
	switch s {
	case StatusLeft, StatusBanned, StatusInvalid:
		return false
	default:
		return true
	}
}

// AdminPermissions — права администратора.
type AdminPermissions struct {
	CanChangeInfo      bool `json:"can_change_info"`
	CanDeleteMessages  bool `json:"can_delete_messages"`
	CanInviteUsers     bool `json:"can_invite_users"`
	CanRestrictMembers bool `json:"can_restrict_members"`
	CanPinMessages     bool `json:"can_pin_messages"`
	CanPromoteMembers  bool `json:"can_promote_members"`
}

// All сообщает, выданы ли все шесть прав.
func (p AdminPermissions) All() bool {
	return p.CanChangeInfo && p.CanDeleteMessages && p.CanInviteUsers &&
		p.CanRestrictMembers && p.CanPinMessages && p.CanPromoteMembers
}

// MessagingPermissions — права на отправку сообщений.
type MessagingPermissions struct {
	CanSendMessages       bool `json:"can_send_messages"`
	CanSendMediaMessages  bool `json:"can_send_media_messages"`
	CanSendOtherMessages  bool `json:"can_send_other_messages"`
	CanAddWebPagePreviews bool `json:"can_add_web_page_previews"`
}

// All сообщает, выданы ли все четыре права.
func (p MessagingPermissions) All() bool {
	return p.CanSendMessages && p.CanSendMediaMessages && p.CanSendOtherMessages && p.CanAddWebPagePreviews
}

// PermissionSet — полный детерминированный набор прав бота в чате.
type PermissionSet struct {
	Status    Status               `json:"status"`
	Admin     AdminPermissions     `json:"admin"`
	Messaging MessagingPermissions `json:"messaging"`
}

// chatMember — сырой ответ getChatMember. Все флаги — указатели:
// платформа присылает только часть из них в зависимости от статуса.
type chatMember struct {
	Status string `json:"status"`

	CanChangeInfo      *bool `json:"can_change_info"`
	CanDeleteMessages  *bool `json:"can_delete_messages"`
	CanInviteUsers     *bool `json:"can_invite_users"`
	CanRestrictMembers *bool `json:"can_restrict_members"`
	CanPinMessages     *bool `json:"can_pin_messages"`
	CanPromoteMembers  *bool `json:"can_promote_members"`

	CanSendMessages       *bool `json:"can_send_messages"`
	CanSendMediaMessages  *bool `json:"can_send_media_messages"`
	CanSendOtherMessages  *bool `json:"can_send_other_messages"`
	CanAddWebPagePreviews *bool `json:"can_add_web_page_previews"`

	// Bot API 6.5+ заменил can_send_media_messages набором отдельных флагов.
	CanSendAudios     *bool `json:"can_send_audios"`
	CanSendDocuments  *bool `json:"can_send_documents"`
	CanSendPhotos     *bool `json:"can_send_photos"`
	CanSendVideos     *bool `json:"can_send_videos"`
	CanSendVideoNotes *bool `json:"can_send_video_notes"`
	CanSendVoiceNotes *bool `json:"can_send_voice_notes"`
}

func flag(b *bool) bool {
	return b != nil && *b
}

// mediaFlag возвращает can_send_media_messages либо, если его нет,
// конъюнкцию присутствующих детальных флагов.
func (m chatMember) mediaFlag() bool {
	if m.CanSendMediaMessages != nil {
		return *m.CanSendMediaMessages
	}

	granular := []*bool{m.CanSendAudios, m.CanSendDocuments, m.CanSendPhotos, m.CanSendVideos, m.CanSendVideoNotes, m.CanSendVoiceNotes}
	seen := false
	for _, g := range granular {
		if g == nil {
			continue
		}
		if !*g {
			return false
		}
		seen = true
	}
	return seen
}

// NormalizeMembership строит PermissionSet по ответу getChatMember.
//
// Ошибка 403 трактуется как бан бота, 400 — как несуществующий чат,
// причем код берется и из ответа API, и из HTTP-статуса ответа, который
// не удалось разобрать. Любая другая ошибка возвращается без изменений.
func NormalizeMembership(raw Result, callErr error) (PermissionSet, error) {
	if callErr != nil {
		switch callErrorCode(callErr) {
		case http.StatusForbidden:
			return permissionsFor(StatusBanned, chatMember{}), nil
		case http.StatusBadRequest:
			return permissionsFor(StatusInvalid, chatMember{}), nil
		default:
			return PermissionSet{}, callErr
		}
	}

	var m chatMember
	if err := raw.Decode(&m); err != nil {
		return PermissionSet{}, fmt.Errorf("normalize membership: %w", err)
	}

	switch m.Status {
	case "creator":
		// У создателя все права администратора подразумеваются.
		set := permissionsFor(StatusAdministrator, m)
		set.Admin = AdminPermissions{true, true, true, true, true, true}
		return set, nil
	case "kicked", string(StatusBanned):
		return permissionsFor(StatusBanned, m), nil
	case string(StatusAdministrator), string(StatusRestricted), string(StatusMember), string(StatusLeft):
		return permissionsFor(Status(m.Status), m), nil
	default:
		return PermissionSet{}, fmt.Errorf("normalize membership: unknown status %q", m.Status)
	}
}

// callErrorCode возвращает код ошибки API или HTTP-статус ошибки транспорта; 0, если кода нет.
func callErrorCode(err error) int {
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.Code
	}
	var trErr *TransportError
	if errors.As(err, &trErr) {
		return trErr.Code
	}
	return 0
}

func permissionsFor(status Status, m chatMember) PermissionSet {
	set := PermissionSet{Status: status}

	// Частичным данным о правах администратора у не-администраторов не доверяем.
	if status == StatusAdministrator {
		set.Admin = AdminPermissions{
			CanChangeInfo:      flag(m.CanChangeInfo),
			CanDeleteMessages:  flag(m.CanDeleteMessages),
			CanInviteUsers:     flag(m.CanInviteUsers),
			CanRestrictMembers: flag(m.CanRestrictMembers),
			CanPinMessages:     flag(m.CanPinMessages),
			CanPromoteMembers:  flag(m.CanPromoteMembers),
		}
	}

	switch {
	case status == StatusRestricted:
		set.Messaging = MessagingPermissions{
			CanSendMessages:       flag(m.CanSendMessages),
			CanSendMediaMessages:  m.mediaFlag(),
			CanSendOtherMessages:  flag(m.CanSendOtherMessages),
			CanAddWebPagePreviews: flag(m.CanAddWebPagePreviews),
		}
	case status.present():
		// Обычным участникам платформа не присылает явных флагов.
		set.Messaging = MessagingPermissions{true, true, true, true}
	}

	return set
}
