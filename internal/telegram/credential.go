package telegram

import (
	"fmt"
	"regexp"
	"strconv"
)

// tokenRegex описывает формат токена: <числовой id>:<тело токена не короче 30 символов>.
var tokenRegex = regexp.MustCompile(`^(\d+):[\w-]{30,}$`)

// Credential — проверенный токен бота. Числовой идентификатор бота
// извлекается один раз при разборе и живет столько же, сколько сам токен.
type Credential struct {
	token string
	botID int64
}

// ParseToken проверяет формат токена и извлекает идентификатор бота.
func ParseToken(token string) (Credential, error) {
	matches := tokenRegex.FindStringSubmatch(token)
	if matches == nil {
		return Credential{}, &ConfigurationError{Message: "the supplied token does not look correct"}
	}

	id, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return Credential{}, &ConfigurationError{Message: fmt.Sprintf("bot id %q is out of range", matches[1])}
	}

	return Credential{token: token, botID: id}, nil
}

// BotID возвращает идентификатор бота (часть токена до двоеточия).
func (c Credential) BotID() int64 {
	return c.botID
}

// Token возвращает исходную строку токена.
func (c Credential) Token() string {
	return c.token
}

// String не раскрывает тело токена, чтобы Credential можно было безопасно логировать.
func (c Credential) String() string {
	if c.token == "" {
		return ""
	}
	return strconv.FormatInt(c.botID, 10) + ":***"
}
