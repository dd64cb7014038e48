package telegram

import (
	"errors"
	"fmt"
	"time"
)

// ErrQuickReplyUsed возвращается при повторном вызове быстрого ответа на один и тот же webhook.
var ErrQuickReplyUsed = errors.New("quick reply may only be used once per webhook call")

// ErrorKind различает классы ошибок Bot API.
type ErrorKind int

const (
	KindGeneric ErrorKind = iota
	KindFloodWait
	KindChatMigrated
)

func (k ErrorKind) String() string {
	switch k {
	case KindFloodWait:
		return "flood_wait"
	case KindChatMigrated:
		return "chat_migrated"
	default:
		return "generic"
	}
}

// ResponseParameters — необязательный блок parameters в ответе об ошибке.
// Указатели нужны, чтобы отличать отсутствующее поле от нулевого значения.
type ResponseParameters struct {
	RetryAfter      *int   `json:"retry_after,omitempty"`
	MigrateToChatID *int64 `json:"migrate_to_chat_id,omitempty"`
}

// RawError — тело неуспешного ответа в том виде, в каком его прислал сервер.
type RawError struct {
	Code        int                 `json:"error_code"`
	Description string              `json:"description"`
	Parameters  *ResponseParameters `json:"parameters,omitempty"`
}

// APIError — классифицированная ошибка Bot API.
//
// RetryAfter заполняется только для KindFloodWait, MigrateToChatID — только
// для KindChatMigrated.
type APIError struct {
	Method          string
	Code            int
	Description     string
	Kind            ErrorKind
	RetryAfter      int
	MigrateToChatID int64
}

func (e *APIError) Error() string {
	prefix := "telegram"
	if e.Method != "" {
		prefix = "telegram: " + e.Method
	}
	switch e.Kind {
	case KindFloodWait:
		return fmt.Sprintf("%s: %d %s (retry after %ds)", prefix, e.Code, e.Description, e.RetryAfter)
	case KindChatMigrated:
		return fmt.Sprintf("%s: %d %s (migrated to %d)", prefix, e.Code, e.Description, e.MigrateToChatID)
	default:
		return fmt.Sprintf("%s: %d %s", prefix, e.Code, e.Description)
	}
}

// RetryAfterDuration возвращает задержку перед повтором в виде time.Duration.
func (e *APIError) RetryAfterDuration() time.Duration {
	return time.Duration(e.RetryAfter) * time.Second
}

// Classify превращает сырое тело ошибки в APIError.
// Порядок проверки важен: retry_after имеет приоритет над migrate_to_chat_id.
func Classify(raw RawError) *APIError {
	e := &APIError{
		Code:        raw.Code,
		Description: raw.Description,
		Kind:        KindGeneric,
	}

	if p := raw.Parameters; p != nil {
		switch {
		case p.RetryAfter != nil:
			e.Kind = KindFloodWait
			e.RetryAfter = max(*p.RetryAfter, 0)
		case p.MigrateToChatID != nil:
			e.Kind = KindChatMigrated
			e.MigrateToChatID = *p.MigrateToChatID
		}
	}

	return e
}

// TransportError — сбой на уровне сети: ответ не получен или его нельзя разобрать.
// Code содержит HTTP-статус, если ответ все-таки пришел, иначе 0.
type TransportError struct {
	Method  string
	Message string
	Code    int
	Err     error
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("telegram: %s: transport error (http %d): %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("telegram: %s: transport error: %s", e.Method, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolViolationError сигнализирует об ошибке в вызывающем коде, например
// о повторном быстром ответе. Повторять такой вызов бессмысленно.
type ProtocolViolationError struct {
	Message string
	Err     error
}

func (e *ProtocolViolationError) Error() string {
	return "telegram: protocol violation: " + e.Message
}

func (e *ProtocolViolationError) Unwrap() error {
	return e.Err
}

// ConfigurationError — неверная конфигурация, например токен неправильного формата.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "telegram: configuration error: " + e.Message
}

// AsAPIError извлекает APIError из цепочки ошибок.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// RetryAfter сообщает, сколько нужно подождать перед повтором, если err — FLOOD_WAIT.
func RetryAfter(err error) (time.Duration, bool) {
	apiErr, ok := AsAPIError(err)
	if !ok || apiErr.Kind != KindFloodWait {
		return 0, false
	}
	return apiErr.RetryAfterDuration(), true
}

// MigratedTo возвращает новый идентификатор чата, если err говорит о миграции чата.
func MigratedTo(err error) (int64, bool) {
	apiErr, ok := AsAPIError(err)
	if !ok || apiErr.Kind != KindChatMigrated {
		return 0, false
	}
	return apiErr.MigrateToChatID, true
}
