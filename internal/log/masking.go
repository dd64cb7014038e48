// Package log содержит настройку slog для бинарников и обработчик,
// который вырезает токены ботов из всего, что попадает в лог.
package log

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
)

// tokenPattern находит токен бота как в чистом виде (<id>:<secret>), так и в
// пути запроса к Bot API (bot<id>:<secret>).
var tokenPattern = regexp.MustCompile(`\b(bot)?\d+:[A-Za-z0-9_-]{30,}`)

// TokenMask подставляется вместо токена; префикс bot сохраняется.
const TokenMask = "***:***masked-token***"

// MaskTokens заменяет все токены ботов в s на TokenMask.
func MaskTokens(s string) string {
	return tokenPattern.ReplaceAllString(s, "${1}"+TokenMask)
}

// MaskingHandler пропускает записи во вложенный обработчик, предварительно
// маскируя токены в сообщении и во всех строковых представлениях атрибутов.
type MaskingHandler struct {
	next slog.Handler
}

// NewMaskingHandler оборачивает next.
func NewMaskingHandler(next slog.Handler) *MaskingHandler {
	return &MaskingHandler{next: next}
}

// NewMaskedLogger возвращает логгер поверх next с маскировкой токенов.
func NewMaskedLogger(next slog.Handler) *slog.Logger {
	return slog.New(NewMaskingHandler(next))
}

func (h *MaskingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *MaskingHandler) Handle(ctx context.Context, record slog.Record) error {
	// Новая запись, а не Clone: клон унес бы исходные атрибуты в вывод.
	masked := slog.NewRecord(record.Time, record.Level, MaskTokens(record.Message), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		masked.AddAttrs(maskAttr(a))
		return true
	})
	return h.next.Handle(ctx, masked)
}

func (h *MaskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &MaskingHandler{next: h.next.WithAttrs(maskAttrs(attrs))}
}

func (h *MaskingHandler) WithGroup(name string) slog.Handler {
	return &MaskingHandler{next: h.next.WithGroup(name)}
}

func maskAttrs(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = maskAttr(a)
	}
	return out
}

func maskAttr(a slog.Attr) slog.Attr {
	return slog.Attr{Key: a.Key, Value: maskValue(a.Value)}
}

// maskValue разворачивает LogValuer и маскирует строки, ошибки и fmt.Stringer
// (например, *url.URL запроса). Числа, время и прочие виды не трогает.
func maskValue(v slog.Value) slog.Value {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.StringValue(MaskTokens(v.String()))
	case slog.KindGroup:
		return slog.GroupValue(maskAttrs(v.Group())...)
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return slog.StringValue(MaskTokens(x.Error()))
		case fmt.Stringer:
			return slog.StringValue(MaskTokens(x.String()))
		}
	}
	return v
}
