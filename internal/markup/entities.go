// Package markup восстанавливает разметку сообщений по сущностям форматирования.
package markup

import (
	"cmp"
	"slices"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gotd/td/tg"
)

// Kind — тип сущности форматирования.
type Kind int

const (
	KindUnknown Kind = iota
	KindBold
	KindItalic
	KindCode
	KindPre
	KindTextLink
	KindTextMention
)

// ParseKind переводит тип сущности из Bot API ("bold", "text_link", ...) в Kind.
func ParseKind(s string) Kind {
	switch s {
	case "bold":
		return KindBold
	case "italic":
		return KindItalic
	case "code":
		return KindCode
	case "pre":
		return KindPre
	case "text_link":
		return KindTextLink
	case "text_mention":
		return KindTextMention
	default:
		return KindUnknown
	}
}

func (k Kind) marker() string {
	switch k {
	case KindBold:
		return "*"
	case KindItalic:
		return "_"
	case KindCode:
		return "`"
	case KindPre:
		return "```"
	default:
		return ""
	}
}

// Annotation описывает один участок текста с форматированием.
// Offset и Length измеряются в кодовых единицах UTF-16, как в Bot API.
type Annotation struct {
	Kind   Kind
	Offset int
	Length int
	URL    string
	UserID int64
}

// MentionURL возвращает ссылку на пользователя для text_mention без явного url.
func MentionURL(userID int64) string {
	return "tg://user?id=" + strconv.FormatInt(userID, 10)
}

// Reconstruct вставляет разметку в text по непересекающимся аннотациям.
//
// Аннотации обрабатываются справа налево по Offset, поэтому вставка не сдвигает
// еще не обработанные участки. При равных Offset сохраняется входной порядок.
// Неизвестные типы, участки за пределами текста и границы внутри суррогатной
// пары пропускаются. Байты вне вставок, включая невалидный UTF-8, не меняются.
func Reconstruct(text string, annotations []Annotation) string {
	if len(annotations) == 0 {
		return text
	}

	offsets := byteOffsets(text)
	units := len(offsets) - 1
	buf := []byte(text)

	sorted := slices.Clone(annotations)
	slices.SortStableFunc(sorted, func(a, b Annotation) int {
		return cmp.Compare(b.Offset, a.Offset)
	})

	for _, a := range sorted {
		if a.Offset < 0 || a.Length <= 0 || a.Offset+a.Length > units {
			continue
		}
		start, end := offsets[a.Offset], offsets[a.Offset+a.Length]
		if start < 0 || end < 0 {
			continue
		}

		switch a.Kind {
		case KindBold, KindItalic, KindCode, KindPre:
			marker := []byte(a.Kind.marker())
			buf = slices.Insert(buf, end, marker...)
			buf = slices.Insert(buf, start, marker...)
		case KindTextLink, KindTextMention:
			url := a.URL
			if url == "" && a.Kind == KindTextMention {
				url = MentionURL(a.UserID)
			}
			link := make([]byte, 0, end-start+len(url)+4)
			link = append(link, '[')
			link = append(link, buf[start:end]...)
			link = append(link, "]("...)
			link = append(link, url...)
			link = append(link, ')')
			buf = slices.Replace(buf, start, end, link...)
		}
	}

	return string(buf)
}

// byteOffsets сопоставляет каждой позиции в единицах UTF-16 байтовое смещение в text.
// Позиция между половинами суррогатной пары получает -1. Невалидный байт
// считается одной единицей, как U+FFFD.
func byteOffsets(text string) []int {
	offsets := make([]int, 0, len(text)+1)
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		offsets = append(offsets, i)
		if utf16.RuneLen(r) == 2 {
			offsets = append(offsets, -1)
		}
		i += size
	}
	return append(offsets, len(text))
}

// FromBotAPI переводит сущности из модели go-telegram-bot-api.
func FromBotAPI(entities []tgbotapi.MessageEntity) []Annotation {
	out := make([]Annotation, 0, len(entities))
	for _, e := range entities {
		a := Annotation{
			Kind:   ParseKind(e.Type),
			Offset: e.Offset,
			Length: e.Length,
			URL:    e.URL,
		}
		if e.User != nil {
			a.UserID = e.User.ID
		}
		out = append(out, a)
	}
	return out
}

// FromMTProto переводит сущности из модели MTProto (gotd).
func FromMTProto(entities []tg.MessageEntityClass) []Annotation {
	out := make([]Annotation, 0, len(entities))
	for _, e := range entities {
		a := Annotation{Offset: e.GetOffset(), Length: e.GetLength()}
		switch e := e.(type) {
		case *tg.MessageEntityBold:
			a.Kind = KindBold
		case *tg.MessageEntityItalic:
			a.Kind = KindItalic
		case *tg.MessageEntityCode:
			a.Kind = KindCode
		case *tg.MessageEntityPre:
			a.Kind = KindPre
		case *tg.MessageEntityTextURL:
			a.Kind = KindTextLink
			a.URL = e.URL
		case *tg.MessageEntityMentionName:
			a.Kind = KindTextMention
			a.UserID = e.UserID
		}
		out = append(out, a)
	}
	return out
}
